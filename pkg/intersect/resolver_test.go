package intersect

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"p9e.in/takweed/models"
	"p9e.in/takweed/pkg/geometry"
	"p9e.in/takweed/pkg/registry"
)

func surveyed(year int) models.JSONTime {
	return models.JSONTime(time.Date(year, 6, 1, 0, 0, 0, 0, time.UTC))
}

var ring = []models.Coordinate{{Lat: 30, Lng: 31}, {Lat: 30, Lng: 31.01}, {Lat: 30.01, Lng: 31.01}, {Lat: 30.01, Lng: 31}}

type fixture struct {
	plots    *geometry.MemoryStore
	registry *registry.MemoryStore
	c1, c2   models.Crop
	farm     models.Farm
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{plots: geometry.NewMemoryStore(), registry: registry.NewMemoryStore()}
	f.c1 = f.registry.AddCrop(models.Crop{Name: "C1"})
	f.c2 = f.registry.AddCrop(models.Crop{Name: "C2"})
	f.farm = f.registry.AddFarm(models.Farm{Name: "farm", OwnerName: "Other Owner"})
	return f
}

func (f *fixture) request(code string, crop *models.Crop, year int) {
	r := models.Request{Code: code, FarmID: f.farm.ID, GpxDate: surveyed(year)}
	if crop != nil {
		r.CropID = &crop.ID
	}
	f.registry.AddRequest(r)
}

func (f *fixture) plot(t *testing.T, code, point string, area float64, items ...models.Intersection) {
	t.Helper()
	g := &models.Geometry{Code: code, Point: point, Coordinates: ring, Area: &area}
	if err := f.plots.Create(context.Background(), g); err != nil {
		t.Fatal(err)
	}
	if len(items) > 0 {
		if err := f.plots.AppendIntersections(context.Background(), g.ID, items); err != nil {
			t.Fatal(err)
		}
	}
}

func TestResolve_SameCropSameSeason(t *testing.T) {
	f := newFixture(t)
	f.request("R1", &f.c1, 2023)
	f.request("R2", &f.c1, 2023)
	f.plot(t, "R1", "P1", 10.0, models.Intersection{LandIntersectsWith: "R2", PieceIntersected: "P2", AreaOfIntersection: 3.0})

	rep, err := NewResolver(f.plots, f.registry).Resolve(context.Background(), "R1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(rep.Plots) != 1 {
		t.Fatalf("got %d plots, want 1", len(rep.Plots))
	}
	p := rep.Plots[0]
	if p.Point != "P1" || len(p.Lands) != 1 {
		t.Fatalf("unexpected plot conflicts %+v", p)
	}
	land := p.Lands[0]
	if land.LandIntersectsWith != "R2" || land.PieceIntersected != "P2" {
		t.Errorf("land = %+v", land)
	}
	if land.NetArea != 7.0 {
		t.Errorf("NetArea = %v, want 7.0", land.NetArea)
	}
	if land.OwnerName != "Other Owner" || land.CropName != "C1" || land.Season != 2023 {
		t.Errorf("land annotations = %+v", land)
	}
	if rep.Count() != 1 {
		t.Errorf("Count() = %d, want 1", rep.Count())
	}
}

func TestResolve_Mismatches(t *testing.T) {
	tests := []struct {
		name      string
		otherCrop func(f *fixture) *models.Crop
		year      int
	}{
		{"different crop", func(f *fixture) *models.Crop { return &f.c2 }, 2023},
		{"different season", func(f *fixture) *models.Crop { return &f.c1 }, 2024},
		{"missing crop", func(f *fixture) *models.Crop { return nil }, 2023},
		{"missing season", func(f *fixture) *models.Crop { return &f.c1 }, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.request("R1", &f.c1, 2023)
			if tt.year == 0 {
				c := tt.otherCrop(f)
				f.registry.AddRequest(models.Request{Code: "R2", FarmID: f.farm.ID, CropID: &c.ID})
			} else {
				f.request("R2", tt.otherCrop(f), tt.year)
			}
			f.plot(t, "R1", "P1", 10.0, models.Intersection{LandIntersectsWith: "R2", PieceIntersected: "P2", AreaOfIntersection: 3.0})

			rep, err := NewResolver(f.plots, f.registry).Resolve(context.Background(), "R1")
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if rep.Count() != 0 {
				t.Fatalf("expected no conflicts, got %+v", rep.Plots)
			}
		})
	}
}

func TestResolve_UnknownCode(t *testing.T) {
	f := newFixture(t)
	rep, err := NewResolver(f.plots, f.registry).Resolve(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if rep.Plots == nil || len(rep.Plots) != 0 {
		t.Fatalf("expected empty non-nil plots, got %#v", rep.Plots)
	}
}

func TestResolve_UnknownIntersectedRequest(t *testing.T) {
	f := newFixture(t)
	f.request("R1", &f.c1, 2023)
	f.plot(t, "R1", "P1", 10.0, models.Intersection{LandIntersectsWith: "ghost", PieceIntersected: "P", AreaOfIntersection: 1})

	rep, err := NewResolver(f.plots, f.registry).Resolve(context.Background(), "R1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Count() != 0 {
		t.Fatalf("expected no conflicts, got %+v", rep.Plots)
	}
}

func TestConflicts_Dedup(t *testing.T) {
	crop := uuid.New()
	area := 20.0
	sub1 := []models.Coordinate{{Lat: 1, Lng: 1}, {Lat: 1, Lng: 2}, {Lat: 2, Lng: 2}}
	sub2 := []models.Coordinate{{Lat: 5, Lng: 5}, {Lat: 5, Lng: 6}, {Lat: 6, Lng: 6}}
	plots := []models.Geometry{{
		Code: "R1", Point: "P1", Area: &area, CropID: &crop, GpxDate: surveyed(2023),
		Intersections: []models.Intersection{
			{LandIntersectsWith: "R2", PieceIntersected: "P2", AreaOfIntersection: 2, IntersectionCoords: sub1},
			{LandIntersectsWith: "R2", PieceIntersected: "P2", AreaOfIntersection: 2, IntersectionCoords: sub1},
			{LandIntersectsWith: "R2", PieceIntersected: "P2", AreaOfIntersection: 2, IntersectionCoords: sub2},
			{LandIntersectsWith: "R2", PieceIntersected: "P3", AreaOfIntersection: 1.125},
		},
	}}
	requests := map[string]models.Request{
		"R2": {Code: "R2", CropID: &crop, GpxDate: surveyed(2023)},
	}

	got := Conflicts(plots, requests)
	if len(got) != 1 {
		t.Fatalf("got %d groups, want 1", len(got))
	}
	lands := got[0].Lands
	if len(lands) != 3 {
		t.Fatalf("got %d lands, want 3 (duplicate collapsed, disjoint overlaps kept)", len(lands))
	}
	if lands[0].IntersectionCoords[0] != sub1[0] || lands[1].IntersectionCoords[0] != sub2[0] {
		t.Error("lands not in first-seen order")
	}
	if lands[2].NetArea != 18.88 {
		t.Errorf("NetArea = %v, want 18.88", lands[2].NetArea)
	}
}

func TestConflicts_OriginalSideFallsBackToRequest(t *testing.T) {
	crop := uuid.New()
	area := 5.0
	plots := []models.Geometry{{
		Code: "R1", Point: "P1", Area: &area,
		Intersections: []models.Intersection{{LandIntersectsWith: "R2", PieceIntersected: "P2", AreaOfIntersection: 1}},
	}}
	requests := map[string]models.Request{
		"R1": {Code: "R1", CropID: &crop, GpxDate: surveyed(2022)},
		"R2": {Code: "R2", CropID: &crop, GpxDate: surveyed(2022)},
	}
	if got := Conflicts(plots, requests); len(got) != 1 {
		t.Fatalf("got %d groups, want 1", len(got))
	}

	// Each side's season is derived from its own survey timestamp.
	plots[0].GpxDate = surveyed(2021)
	if got := Conflicts(plots, requests); len(got) != 0 {
		t.Fatalf("plot season 2021 vs request 2022 should not conflict, got %+v", got)
	}
}
