// Package ledger keeps the hub-transfer traceability history of each
// request and replays it into holdings, custody chains and charge checks.
//
// The history is the only source of truth. Per-hub holdings are never
// stored; they are recomputed from history on every read.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/datatypes"

	"p9e.in/takweed/models"
	"p9e.in/takweed/pkg/metrics"
)

// ErrInsufficientBalance is returned by Transfer when the source cannot
// cover the payload.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Clock abstracts time so appended entries are deterministic in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Options configures a Ledger. Zero values fall back to defaults.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Clock   Clock
}

// Ledger serialises appends per code and replays history for reads.
type Ledger struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   Clock

	locks sync.Map // code -> *sync.Mutex
}

// New creates a Ledger over store.
func New(store Store, opts Options) *Ledger {
	l := &Ledger{store: store, logger: opts.Logger, metrics: opts.Metrics, clock: opts.Clock}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.clock == nil {
		l.clock = realClock{}
	}
	return l
}

func (l *Ledger) lock(code string) func() {
	m, _ := l.locks.LoadOrStore(code, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Record returns the stored record of code.
func (l *Ledger) Record(ctx context.Context, code string) (*models.Traceability, error) {
	return l.store.Get(ctx, code)
}

// Open creates the traceability record of req, seeding the charge pool
// from its declared varieties.
func (l *Ledger) Open(ctx context.Context, req *models.Request) (*models.Traceability, error) {
	snapshot := models.RequestSnapshot{GpxDate: req.GpxDate}
	if req.CropID != nil {
		snapshot.CropID = req.CropID.String()
	}
	if req.Crop != nil {
		snapshot.CropName = req.Crop.Name
	}
	if req.Farm != nil {
		snapshot.FarmName = req.Farm.Name
		snapshot.OwnerName = req.Farm.OwnerName
		snapshot.OwnerPhone = req.Farm.OwnerPhone
	}

	rec := &models.Traceability{Code: req.Code}
	rec.RequestData = datatypes.NewJSONType(snapshot)
	// Repeated varieties are merged into one charge entry.
	index := make(map[string]int, len(req.Varieties))
	for _, v := range req.Varieties {
		if i, ok := index[v.Variety]; ok {
			rec.Charge[i].Area += v.Area
			rec.Charge[i].InitialAmount += v.Amount
			rec.Charge[i].CurrentAmount += v.Amount
			continue
		}
		index[v.Variety] = len(rec.Charge)
		rec.Charge = append(rec.Charge, models.ChargeEntry{
			Variety:       v.Variety,
			Area:          v.Area,
			InitialAmount: v.Amount,
			CurrentAmount: v.Amount,
		})
	}
	if err := l.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	l.logger.Info("traceability opened", "code", req.Code, "varieties", len(rec.Charge))
	return rec, nil
}

// Append records entry under code after the caller has authorised it.
// Only the entry's shape is checked here; see Transfer for a balance check.
func (l *Ledger) Append(ctx context.Context, code string, entry models.TraceabilityTransaction) (*models.TraceabilityTransaction, error) {
	return l.append(ctx, code, entry, nil)
}

// Transfer is Append preceded by a balance check made under the same
// per-code lock: the source hub, or the charge pool when From is nil, must
// hold every payload line.
func (l *Ledger) Transfer(ctx context.Context, code string, entry models.TraceabilityTransaction) (*models.TraceabilityTransaction, error) {
	return l.append(ctx, code, entry, checkBalance)
}

type checkFunc func(rec *models.Traceability, entry *models.TraceabilityTransaction) error

func checkBalance(rec *models.Traceability, entry *models.TraceabilityTransaction) error {
	need := make(map[string]float64)
	for _, q := range entry.Payload {
		need[q.Variety] += q.Amount
	}

	if entry.From == nil {
		remaining, _ := Remaining(rec.Code, rec.Charge, rec.History)
		for variety, amount := range need {
			have, ok := remaining[variety]
			if !ok {
				return fmt.Errorf("%w: %s is not charged on %s", ErrInsufficientBalance, variety, rec.Code)
			}
			if have+epsilon < amount {
				return fmt.Errorf("%w: charge pool holds %.4f %s, need %.4f", ErrInsufficientBalance, have, variety, amount)
			}
		}
		return nil
	}

	holdings, before := Replay(rec.Code, rec.History)
	for variety, amount := range need {
		if have := holdings.Amount(*entry.From, variety); have+epsilon < amount {
			return fmt.Errorf("%w: hub %s holds %.4f %s, need %.4f", ErrInsufficientBalance, *entry.From, have, variety, amount)
		}
	}

	// A backdated entry replays before later ones and may still overdraw
	// the hub somewhere in between.
	candidate := append(append([]models.TraceabilityTransaction(nil), rec.History...), *entry)
	_, after := Replay(rec.Code, candidate)
	if n := countNegative(after, *entry.From); n > countNegative(before, *entry.From) {
		return fmt.Errorf("%w: hub %s would go negative when the transfer is dated %s",
			ErrInsufficientBalance, *entry.From, entry.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func countNegative(anomalies []Anomaly, hub string) int {
	n := 0
	for _, a := range anomalies {
		if a.Kind == AnomalyNegativeBalance && a.Hub == hub {
			n++
		}
	}
	return n
}

func (l *Ledger) append(ctx context.Context, code string, entry models.TraceabilityTransaction, check checkFunc) (*models.TraceabilityTransaction, error) {
	if err := ValidateEntry(&entry); err != nil {
		l.metrics.RecordAppend(entry.TransactionType, metrics.StatusRejected)
		return nil, err
	}
	unlock := l.lock(code)
	defer unlock()

	// Stamped under the lock so undated entries replay in stored order.
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.clock.Now()
	}

	rec, err := l.store.Get(ctx, code)
	if err != nil {
		l.metrics.RecordAppend(entry.TransactionType, metrics.StatusFailure)
		return nil, err
	}
	if check != nil {
		if err := check(rec, &entry); err != nil {
			l.metrics.RecordAppend(entry.TransactionType, metrics.StatusRejected)
			return nil, err
		}
	}

	charge := releaseCharge(rec.Charge, &entry)
	if err := l.store.Append(ctx, code, rec.Version, &entry, charge); err != nil {
		status := metrics.StatusFailure
		if errors.Is(err, ErrVersionConflict) {
			status = metrics.StatusConflict
		}
		l.metrics.RecordAppend(entry.TransactionType, status)
		return nil, err
	}

	l.metrics.RecordAppend(entry.TransactionType, metrics.StatusSuccess)
	l.logger.Info("history appended",
		"code", code,
		"seq", entry.Seq,
		"type", entry.TransactionType,
		"from", deref(entry.From),
		"to", deref(entry.To),
		"user", entry.User,
	)
	return &entry, nil
}

// releaseCharge returns a copy of charge with quantities released from the
// pool by entry deducted from CurrentAmount.
func releaseCharge(charge []models.ChargeEntry, entry *models.TraceabilityTransaction) []models.ChargeEntry {
	out := append([]models.ChargeEntry(nil), charge...)
	if entry.From != nil {
		return out
	}
	for _, q := range entry.Payload {
		for i := range out {
			if out[i].Variety == q.Variety {
				out[i].CurrentAmount -= q.Amount
				break
			}
		}
	}
	return out
}

// CurrentHoldings replays the history of code. An unknown code yields empty
// holdings.
func (l *Ledger) CurrentHoldings(ctx context.Context, code string) (Holdings, []Anomaly, error) {
	rec, err := l.store.Get(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return Holdings{}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	holdings, anomalies := Replay(code, rec.History)
	l.report(anomalies)
	return holdings, anomalies, nil
}

// ChainForVariety lists the transfers of variety under code, newest first.
func (l *Ledger) ChainForVariety(ctx context.Context, code, variety string) ([]Hop, error) {
	rec, err := l.store.Get(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return []Hop{}, nil
	}
	if err != nil {
		return nil, err
	}
	return Chain(rec.History, variety), nil
}

// RemainingCharge recomputes the charge pool of code from history and
// reports any divergence from the stored current amounts.
func (l *Ledger) RemainingCharge(ctx context.Context, code string) (map[string]float64, []Anomaly, error) {
	rec, err := l.store.Get(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return map[string]float64{}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	remaining, anomalies := Remaining(code, rec.Charge, rec.History)
	l.report(anomalies)
	return remaining, anomalies, nil
}

// Audit is the result of checking one record.
type Audit struct {
	Code      string    `json:"code"`
	Entries   int       `json:"entries"`
	Anomalies []Anomaly `json:"anomalies"`
}

// Inspect replays one record and collects every anomaly it contains.
func Inspect(rec *models.Traceability) Audit {
	_, replayed := Replay(rec.Code, rec.History)
	_, charged := Remaining(rec.Code, rec.Charge, rec.History)
	return Audit{
		Code:      rec.Code,
		Entries:   len(rec.History),
		Anomalies: append(replayed, charged...),
	}
}

// Audit inspects every record. It stops early only when ctx is done.
func (l *Ledger) Audit(ctx context.Context) ([]Audit, error) {
	codes, err := l.store.Codes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Audit, 0, len(codes))
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rec, err := l.store.Get(ctx, code)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}
		a := Inspect(rec)
		l.report(a.Anomalies)
		out = append(out, a)
	}
	return out, nil
}

func (l *Ledger) report(anomalies []Anomaly) {
	for _, a := range anomalies {
		l.metrics.RecordAnomaly(a.Kind)
		l.logger.Warn("ledger anomaly", "kind", a.Kind, "code", a.Code, "seq", a.Seq, "detail", a.Message)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
