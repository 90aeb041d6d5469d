// Package geometry stores surveyed plot polygons and the intersections the
// batch comparison job records against them.
package geometry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"p9e.in/takweed/models"
)

var (
	// ErrNotFound is returned when a plot does not exist.
	ErrNotFound = errors.New("plot not found")
	// ErrInvalidIntersection is returned for intersections that violate
	// 0 <= areaOfIntersection <= min(area of either plot).
	ErrInvalidIntersection = errors.New("invalid intersection")
	// ErrDuplicatePlot is returned when a request already has a plot with
	// the same point label.
	ErrDuplicatePlot = errors.New("plot already exists")
)

// Filter narrows List. An empty Codes slice means every code.
type Filter struct {
	Codes []string
}

// Store is the read layer over plots plus the single mutation path used by
// the intersection batch job.
type Store interface {
	// ByCode returns every plot of a request, ordered by point label.
	ByCode(ctx context.Context, code string) ([]models.Geometry, error)
	// ByPlotLabel returns one plot or ErrNotFound.
	ByPlotLabel(ctx context.Context, code, point string) (*models.Geometry, error)
	// List returns plots matching f, ordered by code then point label.
	List(ctx context.Context, f Filter) ([]models.Geometry, error)
	// Create validates and stores a new plot.
	Create(ctx context.Context, g *models.Geometry) error
	// AppendIntersections adds intersections to an existing plot.
	AppendIntersections(ctx context.Context, id uuid.UUID, items []models.Intersection) error
}

// Prepare validates a plot before it is stored, closes its ring and fills
// in the area when the caller did not supply one.
func Prepare(g *models.Geometry) error {
	if g.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidPolygon)
	}
	if err := ValidateRing(g.Coordinates); err != nil {
		return err
	}
	g.Coordinates = CloseRing(g.Coordinates)
	if g.Area == nil {
		area := Area(g.Coordinates)
		g.Area = &area
	}
	if *g.Area < 0 {
		return fmt.Errorf("%w: negative area", ErrInvalidPolygon)
	}
	return nil
}

// PlotLookup finds the plot on the other side of an intersection.
type PlotLookup func(code, point string) (*models.Geometry, error)

// CheckIntersections bounds every overlap by the area of g and, when lookup
// finds it, by the area of the other plot. An unknown other plot bounds
// nothing.
func CheckIntersections(g *models.Geometry, items []models.Intersection, lookup PlotLookup) error {
	for i, it := range items {
		if it.LandIntersectsWith == "" {
			return fmt.Errorf("%w: entry %d has no landIntersectsWith", ErrInvalidIntersection, i)
		}
		if it.AreaOfIntersection < 0 {
			return fmt.Errorf("%w: entry %d has negative area", ErrInvalidIntersection, i)
		}
		if g.Area != nil && it.AreaOfIntersection > *g.Area {
			return fmt.Errorf("%w: entry %d overlap %.4f exceeds plot area %.4f",
				ErrInvalidIntersection, i, it.AreaOfIntersection, *g.Area)
		}
		if lookup == nil || it.PieceIntersected == "" {
			continue
		}
		other, err := lookup(it.LandIntersectsWith, it.PieceIntersected)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if other.Area != nil && it.AreaOfIntersection > *other.Area {
			return fmt.Errorf("%w: entry %d overlap %.4f exceeds area %.4f of %s/%s",
				ErrInvalidIntersection, i, it.AreaOfIntersection, *other.Area, it.LandIntersectsWith, it.PieceIntersected)
		}
	}
	return nil
}

// MemoryStore is an in-memory Store used by tests and local tooling.
type MemoryStore struct {
	mu    sync.RWMutex
	plots map[uuid.UUID]*models.Geometry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plots: make(map[uuid.UUID]*models.Geometry)}
}

func (s *MemoryStore) ByCode(ctx context.Context, code string) ([]models.Geometry, error) {
	return s.List(ctx, Filter{Codes: []string{code}})
}

func (s *MemoryStore) ByPlotLabel(_ context.Context, code, point string) (*models.Geometry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byLabel(code, point)
}

// byLabel expects s.mu to be held.
func (s *MemoryStore) byLabel(code, point string) (*models.Geometry, error) {
	for _, g := range s.plots {
		if g.Code == code && g.Point == point {
			c := clone(g)
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]models.Geometry, error) {
	want := make(map[string]bool, len(f.Codes))
	for _, c := range f.Codes {
		want[c] = true
	}

	s.mu.RLock()
	out := make([]models.Geometry, 0)
	for _, g := range s.plots {
		if len(want) > 0 && !want[g.Code] {
			continue
		}
		out = append(out, clone(g))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].Point < out[j].Point
	})
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, g *models.Geometry) error {
	if err := Prepare(g); err != nil {
		return err
	}
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	c := clone(g)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.byLabel(g.Code, g.Point); err == nil {
		return fmt.Errorf("%w: %s/%s", ErrDuplicatePlot, g.Code, g.Point)
	}
	s.plots[g.ID] = &c
	return nil
}

func (s *MemoryStore) AppendIntersections(_ context.Context, id uuid.UUID, items []models.Intersection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.plots[id]
	if !ok {
		return ErrNotFound
	}
	if err := CheckIntersections(g, items, s.byLabel); err != nil {
		return err
	}
	g.Intersections = append(g.Intersections, items...)
	return nil
}

func clone(g *models.Geometry) models.Geometry {
	c := *g
	c.Coordinates = append([]models.Coordinate(nil), g.Coordinates...)
	c.Intersections = append([]models.Intersection(nil), g.Intersections...)
	if g.Area != nil {
		a := *g.Area
		c.Area = &a
	}
	return c
}
