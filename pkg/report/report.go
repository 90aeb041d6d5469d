// Package report joins plots, traceability ledgers and reference data into
// flat, sorted and paginated rows for dashboards and exports.
package report

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"p9e.in/takweed/models"
	"p9e.in/takweed/pkg/geometry"
	"p9e.in/takweed/pkg/intersect"
	"p9e.in/takweed/pkg/ledger"
	"p9e.in/takweed/pkg/metrics"
	"p9e.in/takweed/pkg/registry"
	"p9e.in/takweed/utils"
)

// Options configures an Aggregator.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// MaxLimit caps the page size. Zero leaves it unbounded.
	MaxLimit int
}

// Aggregator builds reports. It only reads from its stores.
type Aggregator struct {
	plots    geometry.Store
	registry registry.Store
	ledgers  ledger.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	maxLimit int
}

// New creates an Aggregator.
func New(plots geometry.Store, reg registry.Store, ledgers ledger.Store, opts Options) *Aggregator {
	a := &Aggregator{
		plots:    plots,
		registry: reg,
		ledgers:  ledgers,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		maxLimit: opts.MaxLimit,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// ActivityRow is one request with its plots and ledger summarised.
type ActivityRow struct {
	Code                string     `json:"code"`
	FarmName            string     `json:"farmName"`
	OwnerName           string     `json:"ownerName"`
	OwnerPhone          string     `json:"ownerPhone"`
	CropName            string     `json:"cropName"`
	Governorate         string     `json:"governorate"`
	Season              int        `json:"season"`
	SurveyDate          *time.Time `json:"surveyDate,omitempty"`
	RegisteredAt        time.Time  `json:"registeredAt"`
	Plots               int        `json:"plots"`
	PlotArea            float64    `json:"plotArea"`
	Conflicts           int        `json:"conflicts"`
	ConflictArea        float64    `json:"conflictArea"`
	Charged             float64    `json:"charged"`
	Remaining           float64    `json:"remaining"`
	Transactions        int        `json:"transactions"`
	LastTransaction     *time.Time `json:"lastTransaction,omitempty"`
	LastTransactionType string     `json:"lastTransactionType,omitempty"`

	relevant time.Time
}

// Page is one window of a sorted report.
type Page struct {
	Rows     []ActivityRow    `json:"rows"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Skip     int              `json:"skip"`
	Warnings []ledger.Anomaly `json:"warnings"`
}

type reference struct {
	crops     map[uuid.UUID]models.Crop
	locations map[uuid.UUID]models.Location
	hubs      map[string]models.Hub
}

// loadReference reads crops, locations and hubs concurrently.
func (a *Aggregator) loadReference(ctx context.Context) (*reference, error) {
	var (
		crops     []models.Crop
		locations []models.Location
		hubs      []models.Hub
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		crops, err = a.registry.Crops(gctx)
		return err
	})
	g.Go(func() (err error) {
		locations, err = a.registry.Locations(gctx)
		return err
	})
	g.Go(func() (err error) {
		hubs, err = a.registry.Hubs(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ref := &reference{
		crops:     make(map[uuid.UUID]models.Crop, len(crops)),
		locations: make(map[uuid.UUID]models.Location, len(locations)),
		hubs:      make(map[string]models.Hub, 2*len(hubs)),
	}
	for _, c := range crops {
		ref.crops[c.ID] = c
	}
	for _, l := range locations {
		ref.locations[l.ID] = l
	}
	for _, h := range hubs {
		ref.hubs[h.ID.String()] = h
		ref.hubs[h.Code] = h
	}
	return ref, nil
}

func (ref *reference) cropName(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return ref.crops[*id].Name
}

func (ref *reference) locationName(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return ref.locations[*id].Name
}

// requests validates f and returns the matching requests.
func (a *Aggregator) requests(ctx context.Context, f Filters) ([]models.Request, *reference, error) {
	ref, err := a.loadReference(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := f.validate(ref.crops, ref.locations); err != nil {
		return nil, nil, err
	}
	if f.matchesNothing() {
		return []models.Request{}, ref, nil
	}
	reqs, err := a.registry.ListRequests(ctx, f.query())
	if err != nil {
		return nil, nil, err
	}
	return reqs, ref, ctx.Err()
}

func (a *Aggregator) limit(requested int) int {
	if a.maxLimit > 0 && (requested == 0 || requested > a.maxLimit) {
		return a.maxLimit
	}
	return requested
}

// BuildReport returns one activity row per request matching f, most
// recently active first. Skip and Limit apply to the fully joined result.
func (a *Aggregator) BuildReport(ctx context.Context, f Filters) (*Page, error) {
	start := time.Now()
	defer a.metrics.ObserveReport("activity", start)

	reqs, ref, err := a.requests(ctx, f)
	if err != nil {
		return nil, err
	}
	codes := make([]string, len(reqs))
	for i := range reqs {
		codes[i] = reqs[i].Code
	}

	var (
		plots   []models.Geometry
		records map[string]*models.Traceability
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if len(codes) == 0 {
			return nil
		}
		plots, err = a.plots.List(gctx, geometry.Filter{Codes: codes})
		return err
	})
	g.Go(func() (err error) {
		records, err = a.loadLedgers(gctx, codes)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	others, err := a.registry.RequestsByCodes(ctx, intersect.ReferencedCodes(plots))
	if err != nil {
		return nil, err
	}
	byCode := make(map[string][]models.Geometry)
	for _, p := range plots {
		byCode[p.Code] = append(byCode[p.Code], p)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page := &Page{Rows: []ActivityRow{}, Warnings: []ledger.Anomaly{}}
	rows := make([]ActivityRow, 0, len(reqs))
	for i := range reqs {
		row, warnings := buildRow(&reqs[i], ref, byCode[reqs[i].Code], others, records[reqs[i].Code])
		rows = append(rows, row)
		page.Warnings = append(page.Warnings, warnings...)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].relevant.Equal(rows[j].relevant) {
			return rows[i].relevant.After(rows[j].relevant)
		}
		return rows[i].Code < rows[j].Code
	})

	page.Total = len(rows)
	page.Limit = a.limit(f.Limit)
	page.Skip = f.Skip
	from, to := paginate(len(rows), f.Skip, page.Limit)
	page.Rows = append(page.Rows, rows[from:to]...)

	for _, w := range page.Warnings {
		a.metrics.RecordAnomaly(w.Kind)
	}
	a.logger.Debug("activity report built", "rows", len(page.Rows), "total", page.Total, "warnings", len(page.Warnings))
	return page, nil
}

// loadLedgers reads the traceability record of each code that has one.
func (a *Aggregator) loadLedgers(ctx context.Context, codes []string) (map[string]*models.Traceability, error) {
	out := make(map[string]*models.Traceability, len(codes))
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := a.ledgers.Get(ctx, code)
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[code] = rec
	}
	return out, nil
}

func buildRow(req *models.Request, ref *reference, plots []models.Geometry, others map[string]models.Request, rec *models.Traceability) (ActivityRow, []ledger.Anomaly) {
	row := ActivityRow{
		Code:         req.Code,
		CropName:     ref.cropName(req.CropID),
		Governorate:  ref.locationName(req.Governorate()),
		Season:       req.Season(),
		RegisteredAt: req.CreatedAt,
		Plots:        len(plots),
		relevant:     req.CreatedAt,
	}
	if req.Farm != nil {
		row.FarmName = req.Farm.Name
		row.OwnerName = req.Farm.OwnerName
		row.OwnerPhone = req.Farm.OwnerPhone
	}
	if !req.GpxDate.IsZero() {
		t := req.GpxDate.Time()
		row.SurveyDate = &t
		row.relevant = t
	}

	var plotArea, conflictArea float64
	for _, p := range plots {
		if p.Area != nil {
			plotArea += *p.Area
		}
	}
	for _, pc := range intersect.Conflicts(plots, others) {
		for _, land := range pc.Lands {
			row.Conflicts++
			conflictArea += land.AreaOfIntersection
		}
	}
	row.PlotArea = utils.Round2(plotArea)
	row.ConflictArea = utils.Round2(conflictArea)

	if rec == nil {
		return row, nil
	}
	var charged, remaining float64
	for _, c := range rec.Charge {
		charged += c.InitialAmount
	}
	left, _ := ledger.Remaining(rec.Code, rec.Charge, rec.History)
	for _, v := range left {
		remaining += v
	}
	row.Charged = utils.Round2(charged)
	row.Remaining = utils.Round2(remaining)
	row.Transactions = len(rec.History)
	if last := latest(rec.History); last != nil {
		t := last.CreatedAt
		row.LastTransaction = &t
		row.LastTransactionType = last.TransactionType
		row.relevant = t
	}
	return row, ledger.Inspect(rec).Anomalies
}

// latest is the most recent history entry, the later stored on ties.
func latest(history []models.TraceabilityTransaction) *models.TraceabilityTransaction {
	var out *models.TraceabilityTransaction
	for i := range history {
		if out == nil || !history[i].CreatedAt.Before(out.CreatedAt) {
			out = &history[i]
		}
	}
	return out
}
