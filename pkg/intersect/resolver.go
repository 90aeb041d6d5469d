// Package intersect turns the raw intersections recorded on plots into
// confirmed conflicts: overlaps with another request of the same crop in
// the same season.
package intersect

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"p9e.in/takweed/models"
	"p9e.in/takweed/pkg/geometry"
	"p9e.in/takweed/pkg/registry"
	"p9e.in/takweed/utils"
)

// Land is one confirmed conflicting claim against a plot.
type Land struct {
	LandIntersectsWith string              `json:"landIntersectsWith"`
	PieceIntersected   string              `json:"pieceIntersected"`
	AreaOfIntersection float64             `json:"areaOfIntersection"`
	NetArea            float64             `json:"netArea"`
	IntersectionCoords []models.Coordinate `json:"intersectionCoords,omitempty"`
	CropName           string              `json:"cropName,omitempty"`
	Season             int                 `json:"season"`
	OwnerName          string              `json:"ownerName,omitempty"`
}

// PlotConflicts lists every land a plot conflicts with.
type PlotConflicts struct {
	Code   string  `json:"code"`
	Point  string  `json:"point"`
	Area   float64 `json:"area"`
	Season int     `json:"season"`
	Lands  []Land  `json:"lands"`
}

// Report is the conflict report of one request.
type Report struct {
	Code  string          `json:"code"`
	Plots []PlotConflicts `json:"plots"`
}

// Count is the number of conflicting lands across all plots.
func (r *Report) Count() int {
	n := 0
	for _, p := range r.Plots {
		n += len(p.Lands)
	}
	return n
}

// Resolver confirms conflicts using the geometry and request stores.
type Resolver struct {
	plots    geometry.Store
	registry registry.Store
}

// NewResolver creates a Resolver.
func NewResolver(plots geometry.Store, reg registry.Store) *Resolver {
	return &Resolver{plots: plots, registry: reg}
}

// Resolve builds the conflict report of code. An unknown code yields an
// empty report.
func (r *Resolver) Resolve(ctx context.Context, code string) (*Report, error) {
	plots, err := r.plots.ByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load plots of %s: %w", code, err)
	}
	requests, err := r.registry.RequestsByCodes(ctx, ReferencedCodes(plots))
	if err != nil {
		return nil, fmt.Errorf("load intersected requests of %s: %w", code, err)
	}
	return &Report{Code: code, Plots: Conflicts(plots, requests)}, nil
}

// ReferencedCodes returns the owning and intersected request codes of
// plots, without duplicates.
func ReferencedCodes(plots []models.Geometry) []string {
	seen := make(map[string]bool)
	var codes []string
	add := func(c string) {
		if c != "" && !seen[c] {
			seen[c] = true
			codes = append(codes, c)
		}
	}
	for _, p := range plots {
		add(p.Code)
		for _, it := range p.Intersections {
			add(it.LandIntersectsWith)
		}
	}
	return codes
}

type side struct {
	crop   *uuid.UUID
	season int
}

func (a side) matches(b side) bool {
	if a.crop == nil || b.crop == nil || a.season == 0 || b.season == 0 {
		return false
	}
	return *a.crop == *b.crop && a.season == b.season
}

type groupKey struct {
	code, point string
}

type landKey struct {
	land, piece string
	area        float64
	coords      string
}

// Conflicts keeps the intersections of plots whose other side belongs to a
// request with the same crop and season, grouped per plot. requests must
// contain every code returned by ReferencedCodes that exists; anything
// missing is treated as a non-match. Identical descriptors collapse into
// one entry; distinct overlaps against the same other plot are kept.
func Conflicts(plots []models.Geometry, requests map[string]models.Request) []PlotConflicts {
	var out []PlotConflicts
	index := make(map[groupKey]int)
	seen := make(map[groupKey]map[landKey]bool)

	for i := range plots {
		plot := &plots[i]
		original := plotSide(plot, requests)
		area := plotArea(plot)

		for _, it := range plot.Intersections {
			other, ok := requests[it.LandIntersectsWith]
			if !ok {
				continue
			}
			if !original.matches(side{crop: other.CropID, season: other.Season()}) {
				continue
			}

			gk := groupKey{plot.Code, plot.Point}
			idx, ok := index[gk]
			if !ok {
				idx = len(out)
				index[gk] = idx
				seen[gk] = make(map[landKey]bool)
				out = append(out, PlotConflicts{
					Code:   plot.Code,
					Point:  plot.Point,
					Area:   utils.Round2(area),
					Season: original.season,
				})
			}

			lk := landKey{it.LandIntersectsWith, it.PieceIntersected, it.AreaOfIntersection, coordsKey(it.IntersectionCoords)}
			if seen[gk][lk] {
				continue
			}
			seen[gk][lk] = true

			land := Land{
				LandIntersectsWith: it.LandIntersectsWith,
				PieceIntersected:   it.PieceIntersected,
				AreaOfIntersection: it.AreaOfIntersection,
				NetArea:            utils.Round2(area - it.AreaOfIntersection),
				IntersectionCoords: it.IntersectionCoords,
				Season:             other.Season(),
			}
			if other.Crop != nil {
				land.CropName = other.Crop.Name
			}
			if other.Farm != nil {
				land.OwnerName = other.Farm.OwnerName
			}
			out[idx].Lands = append(out[idx].Lands, land)
		}
	}
	if out == nil {
		out = []PlotConflicts{}
	}
	return out
}

// plotSide takes crop and season from the plot, falling back to its owning
// request for whichever the plot does not carry.
func plotSide(plot *models.Geometry, requests map[string]models.Request) side {
	s := side{crop: plot.CropID, season: plot.Season()}
	owner, ok := requests[plot.Code]
	if !ok {
		return s
	}
	if s.crop == nil {
		s.crop = owner.CropID
	}
	if s.season == 0 {
		s.season = owner.Season()
	}
	return s
}

func plotArea(plot *models.Geometry) float64 {
	if plot.Area != nil {
		return *plot.Area
	}
	return geometry.Area(plot.Coordinates)
}

func coordsKey(coords []models.Coordinate) string {
	var b strings.Builder
	for _, c := range coords {
		b.WriteString(strconv.FormatFloat(c.Lat, 'g', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(c.Lng, 'g', -1, 64))
		b.WriteByte(';')
	}
	return b.String()
}
