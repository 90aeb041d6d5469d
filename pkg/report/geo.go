package report

import (
	"context"
	"time"

	"github.com/paulmach/orb/geojson"

	"p9e.in/takweed/models"
	"p9e.in/takweed/pkg/geometry"
	"p9e.in/takweed/pkg/intersect"
	"p9e.in/takweed/utils"
)

// GeoRow is one plot with its intersections. Lands holds the confirmed
// conflicts (same crop and season) with their overlap and net area.
type GeoRow struct {
	Code          string           `json:"code"`
	Point         string           `json:"point"`
	OwnerName     string           `json:"ownerName"`
	CropName      string           `json:"cropName"`
	Season        int              `json:"season"`
	Area          float64          `json:"area"`
	Intersections int              `json:"intersections"`
	Conflicts     int              `json:"conflicts"`
	ConflictArea  float64          `json:"conflictArea"`
	NetArea       float64          `json:"netArea"`
	Lands         []intersect.Land `json:"lands"`
}

// GeoPage is one window of the plot export.
type GeoPage struct {
	Rows  []GeoRow `json:"rows"`
	Total int      `json:"total"`
	Limit int      `json:"limit"`
	Skip  int      `json:"skip"`

	plots []models.Geometry
}

// GeoExport lists the plots of every request matching f, ordered by code
// then point label.
func (a *Aggregator) GeoExport(ctx context.Context, f Filters) (*GeoPage, error) {
	start := time.Now()
	defer a.metrics.ObserveReport("geo", start)

	reqs, ref, err := a.requests(ctx, f)
	if err != nil {
		return nil, err
	}
	page := &GeoPage{Rows: []GeoRow{}, Limit: a.limit(f.Limit), Skip: f.Skip}
	if len(reqs) == 0 {
		return page, nil
	}

	codes := make([]string, len(reqs))
	for i := range reqs {
		codes[i] = reqs[i].Code
	}
	plots, err := a.plots.List(ctx, geometry.Filter{Codes: codes})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	requests, err := a.registry.RequestsByCodes(ctx, intersect.ReferencedCodes(plots))
	if err != nil {
		return nil, err
	}

	conflicts := make(map[string]intersect.PlotConflicts)
	for _, pc := range intersect.Conflicts(plots, requests) {
		conflicts[pc.Code+"\x00"+pc.Point] = pc
	}

	page.Total = len(plots)
	from, to := paginate(len(plots), f.Skip, page.Limit)
	page.plots = plots[from:to]
	for _, p := range page.plots {
		row := GeoRow{
			Code:          p.Code,
			Point:         p.Point,
			Season:        p.Season(),
			Intersections: len(p.Intersections),
			Lands:         []intersect.Land{},
		}
		owner, ok := requests[p.Code]
		if ok && owner.Farm != nil {
			row.OwnerName = owner.Farm.OwnerName
		}
		cropID := p.CropID
		if cropID == nil && ok {
			cropID = owner.CropID
		}
		row.CropName = ref.cropName(cropID)
		if row.Season == 0 && ok {
			row.Season = owner.Season()
		}

		area := 0.0
		if p.Area != nil {
			area = *p.Area
		}
		overlap := 0.0
		for _, land := range conflicts[p.Code+"\x00"+p.Point].Lands {
			row.Conflicts++
			overlap += land.AreaOfIntersection
			row.Lands = append(row.Lands, land)
		}
		row.Area = utils.Round2(area)
		row.ConflictArea = utils.Round2(overlap)
		row.NetArea = utils.Round2(area - overlap)
		page.Rows = append(page.Rows, row)
	}
	return page, nil
}

// FeatureCollection renders the plots of the page as GeoJSON polygons.
func (p *GeoPage) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := range p.plots {
		f := geometry.Feature(&p.plots[i])
		f.Properties["conflicts"] = p.Rows[i].Conflicts
		f.Properties["ownerName"] = p.Rows[i].OwnerName
		f.Properties["cropName"] = p.Rows[i].CropName
		f.Properties["netArea"] = p.Rows[i].NetArea
		f.Properties["lands"] = p.Rows[i].Lands
		fc.Append(f)
	}
	return fc
}
