package report

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"p9e.in/takweed/models"
	"p9e.in/takweed/pkg/geometry"
	"p9e.in/takweed/pkg/intersect"
	"p9e.in/takweed/pkg/ledger"
	"p9e.in/takweed/pkg/metrics"
	"p9e.in/takweed/pkg/registry"
)

var base = time.Date(2023, 4, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	reg     *registry.MemoryStore
	plots   *geometry.MemoryStore
	ledgers *ledger.MemoryStore
	agg     *Aggregator
	wheat   models.Crop
	rice    models.Crop
	giza    models.Location
	farm    models.Farm
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:     registry.NewMemoryStore(),
		plots:   geometry.NewMemoryStore(),
		ledgers: ledger.NewMemoryStore(),
	}
	f.wheat = f.reg.AddCrop(models.Crop{Name: "wheat"})
	f.rice = f.reg.AddCrop(models.Crop{Name: "rice"})
	f.giza = f.reg.AddLocation(models.Location{Name: "Giza", Type: models.LocationGovernorate})
	f.farm = f.reg.AddFarm(models.Farm{Name: "North", OwnerName: "Salma", OwnerPhone: "0100"})
	f.agg = New(f.plots, f.reg, f.ledgers, Options{Metrics: metrics.New(), MaxLimit: 100})
	return f
}

func (f *fixture) request(code string, crop *models.Crop, at time.Time) models.Request {
	r := models.Request{
		Code:          code,
		FarmID:        f.farm.ID,
		GovernorateID: &f.giza.ID,
		GpxDate:       models.JSONTime(at),
		CreatedAt:     at,
	}
	if crop != nil {
		r.CropID = &crop.ID
	}
	return f.reg.AddRequest(r)
}

func square(lat, lng, size float64) []models.Coordinate {
	return []models.Coordinate{
		{Lat: lat, Lng: lng},
		{Lat: lat, Lng: lng + size},
		{Lat: lat + size, Lng: lng + size},
		{Lat: lat + size, Lng: lng},
	}
}

func (f *fixture) plot(t *testing.T, code, point string, area float64, items ...models.Intersection) {
	t.Helper()
	ctx := context.Background()
	g := &models.Geometry{Code: code, Point: point, Coordinates: square(30, 31, 0.001), Area: &area}
	if err := f.plots.Create(ctx, g); err != nil {
		t.Fatalf("Create plot: %v", err)
	}
	if len(items) > 0 {
		if err := f.plots.AppendIntersections(ctx, g.ID, items); err != nil {
			t.Fatalf("AppendIntersections: %v", err)
		}
	}
}

func codes(rows []ActivityRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Code
	}
	return out
}

func TestBuildReport_PaginatesAfterJoin(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 35; i++ {
		f.request(fmt.Sprintf("R%02d", i), &f.wheat, base.AddDate(0, 0, i))
	}

	page, err := f.agg.BuildReport(context.Background(), Filters{Limit: 10, Skip: 20})
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if page.Total != 35 {
		t.Errorf("Total = %d, want 35", page.Total)
	}
	if len(page.Rows) != 10 {
		t.Fatalf("got %d rows, want 10", len(page.Rows))
	}
	// Newest first: R34 is row 1, so rows 21-30 are R14 down to R05.
	for i, r := range page.Rows {
		want := fmt.Sprintf("R%02d", 14-i)
		if r.Code != want {
			t.Errorf("row %d = %s, want %s", i+21, r.Code, want)
		}
	}

	tail, err := f.agg.BuildReport(context.Background(), Filters{Limit: 10, Skip: 30})
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if len(tail.Rows) != 5 {
		t.Errorf("last page has %d rows, want 5", len(tail.Rows))
	}
}

func TestBuildReport_Filters(t *testing.T) {
	f := newFixture(t)
	f.request("A", &f.wheat, base)
	f.request("B", &f.rice, base.AddDate(1, 0, 0))
	f.request("C", &f.wheat, base.AddDate(1, 1, 0))

	from := base.AddDate(0, 6, 0)
	tests := []struct {
		name    string
		filters Filters
		want    []string
	}{
		{"no filters", Filters{}, []string{"C", "B", "A"}},
		{"crop", Filters{Crops: []uuid.UUID{f.wheat.ID}}, []string{"C", "A"}},
		{"season", Filters{Seasons: []int{2024}}, []string{"C", "B"}},
		{"governorate", Filters{Governorates: []uuid.UUID{f.giza.ID}}, []string{"C", "B", "A"}},
		{"date range", Filters{From: &from}, []string{"C", "B"}},
		{"empty crops match nothing", Filters{Crops: []uuid.UUID{}}, []string{}},
		{"empty seasons match nothing", Filters{Seasons: []int{}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := f.agg.BuildReport(context.Background(), tt.filters)
			if err != nil {
				t.Fatalf("BuildReport: %v", err)
			}
			got := codes(page.Rows)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("row %d = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBuildReport_Validation(t *testing.T) {
	f := newFixture(t)
	from, to := base, base.AddDate(0, 0, -1)

	tests := []struct {
		name    string
		filters Filters
	}{
		{"from after to", Filters{From: &from, To: &to}},
		{"negative limit", Filters{Limit: -1}},
		{"negative skip", Filters{Skip: -5}},
		{"unknown crop", Filters{Crops: []uuid.UUID{uuid.New()}}},
		{"unknown governorate", Filters{Governorates: []uuid.UUID{uuid.New()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.agg.BuildReport(context.Background(), tt.filters)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if len(verr.Problems) != 1 {
				t.Errorf("problems = %v, want one", verr.Problems)
			}
		})
	}
}

func TestBuildReport_JoinsPlotsAndLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.request("R1", &f.wheat, base)
	f.request("R2", &f.wheat, base.AddDate(0, 0, 1))
	f.request("R3", &f.rice, base.AddDate(0, 0, 2))

	f.plot(t, "R1", "P1", 10,
		models.Intersection{LandIntersectsWith: "R2", PieceIntersected: "P2", AreaOfIntersection: 3},
		models.Intersection{LandIntersectsWith: "R3", PieceIntersected: "P3", AreaOfIntersection: 2},
	)
	f.plot(t, "R1", "P4", 5.125)

	hubA := "HubA"
	rec := &models.Traceability{
		Code:   "R1",
		Charge: []models.ChargeEntry{{Variety: "giza-171", InitialAmount: 100, CurrentAmount: 100}},
		History: []models.TraceabilityTransaction{{
			To:              &hubA,
			TransactionType: models.TxChargeToStore,
			Payload:         []models.Quantity{{Variety: "giza-171", Amount: 40}},
			CreatedAt:       base.AddDate(0, 1, 0),
		}},
	}
	if err := f.ledgers.Create(ctx, rec); err != nil {
		t.Fatalf("Create ledger: %v", err)
	}

	page, err := f.agg.BuildReport(ctx, Filters{})
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if page.Rows[0].Code != "R1" {
		t.Fatalf("first row = %s, want R1 (latest transaction)", page.Rows[0].Code)
	}
	r := page.Rows[0]
	if r.Plots != 2 || r.PlotArea != 15.13 {
		t.Errorf("plots = %d area = %v, want 2 and 15.13", r.Plots, r.PlotArea)
	}
	if r.Conflicts != 1 || r.ConflictArea != 3 {
		t.Errorf("conflicts = %d area = %v, want 1 and 3", r.Conflicts, r.ConflictArea)
	}
	if r.Charged != 100 || r.Remaining != 60 || r.Transactions != 1 {
		t.Errorf("charged = %v remaining = %v transactions = %d", r.Charged, r.Remaining, r.Transactions)
	}
	if r.OwnerName != "Salma" || r.CropName != "wheat" || r.Governorate != "Giza" || r.Season != 2023 {
		t.Errorf("unexpected reference columns %+v", r)
	}
	// The stored current amount was never decremented.
	if len(page.Warnings) != 1 || page.Warnings[0].Kind != ledger.AnomalyChargeMismatch {
		t.Errorf("warnings = %+v, want one charge mismatch", page.Warnings)
	}
}

func TestBuildReport_GovernorateFromFarm(t *testing.T) {
	f := newFixture(t)
	farm := f.reg.AddFarm(models.Farm{Name: "West", OwnerName: "Hoda", GovernorateID: &f.giza.ID})
	f.reg.AddRequest(models.Request{Code: "R9", FarmID: farm.ID, CropID: &f.wheat.ID, CreatedAt: base})

	page, err := f.agg.BuildReport(context.Background(), Filters{Governorates: []uuid.UUID{f.giza.ID}})
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if len(page.Rows) != 1 || page.Rows[0].Code != "R9" || page.Rows[0].Governorate != "Giza" {
		t.Errorf("rows = %+v, want R9 in Giza", page.Rows)
	}
}

func TestBuildReport_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.request("R1", &f.wheat, base)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.agg.BuildReport(ctx, Filters{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestGeoExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.request("R1", &f.wheat, base)
	f.request("R2", &f.wheat, base.AddDate(0, 0, 1))
	f.plot(t, "R1", "P1", 10, models.Intersection{LandIntersectsWith: "R2", PieceIntersected: "P2", AreaOfIntersection: 3})
	f.plot(t, "R2", "P2", 8, models.Intersection{LandIntersectsWith: "R1", PieceIntersected: "P1", AreaOfIntersection: 3})

	page, err := f.agg.GeoExport(ctx, Filters{})
	if err != nil {
		t.Fatalf("GeoExport: %v", err)
	}
	if page.Total != 2 || len(page.Rows) != 2 {
		t.Fatalf("total = %d rows = %d, want 2", page.Total, len(page.Rows))
	}
	first := page.Rows[0]
	if first.Code != "R1" || first.Conflicts != 1 || first.NetArea != 7 || first.CropName != "wheat" {
		t.Errorf("unexpected first row %+v", first)
	}
	if len(first.Lands) != 1 || first.Lands[0].LandIntersectsWith != "R2" || first.Lands[0].PieceIntersected != "P2" ||
		first.Lands[0].AreaOfIntersection != 3 || first.Lands[0].NetArea != 7 {
		t.Errorf("unexpected conflict lands %+v", first.Lands)
	}

	fc := page.FeatureCollection()
	if len(fc.Features) != 2 {
		t.Fatalf("got %d features, want 2", len(fc.Features))
	}
	if fc.Features[1].Properties["code"] != "R2" {
		t.Errorf("second feature code = %v", fc.Features[1].Properties["code"])
	}
	if lands, ok := fc.Features[0].Properties["lands"].([]intersect.Land); !ok || len(lands) != 1 {
		t.Errorf("first feature lands = %#v", fc.Features[0].Properties["lands"])
	}

	page, err = f.agg.GeoExport(ctx, Filters{Limit: 1, Skip: 1})
	if err != nil {
		t.Fatalf("GeoExport: %v", err)
	}
	if len(page.Rows) != 1 || page.Rows[0].Code != "R2" || len(page.FeatureCollection().Features) != 1 {
		t.Errorf("unexpected paged export %+v", page.Rows)
	}
}
