package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Coordinate is one vertex of a plot boundary.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Intersection is this plot's view of an overlap with another plot. The
// other plot keeps its own record; nothing here is symmetrised.
type Intersection struct {
	LandIntersectsWith string       `json:"landIntersectsWith"`
	PieceIntersected   string       `json:"pieceIntersected"`
	AreaOfIntersection float64      `json:"areaOfIntersection"`
	IntersectionCoords []Coordinate `json:"intersectionCoords,omitempty"`
}

// Geometry is one surveyed plot of a request.
type Geometry struct {
	ID            uuid.UUID                         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code          string                            `gorm:"column:code;size:64;uniqueIndex:idx_geometries_code_point;not null" json:"code"`
	Point         string                            `gorm:"column:point;size:100;uniqueIndex:idx_geometries_code_point"        json:"point"`
	Coordinates   datatypes.JSONSlice[Coordinate]   `gorm:"column:coordinates;type:jsonb;not null"        json:"coordinates"`
	CropID        *uuid.UUID                        `gorm:"type:uuid;index"                               json:"cropId,omitempty"`
	Area          *float64                          `gorm:"column:area"                                   json:"area"`
	GpxDate       JSONTime                          `gorm:"column:gpx_date"                               json:"gpxDate"`
	Intersections datatypes.JSONSlice[Intersection] `gorm:"column:intersections;type:jsonb"               json:"intersections"`
	CreatedAt     time.Time                         `gorm:"autoCreateTime"                                json:"createdAt"`
	UpdatedAt     time.Time                         `gorm:"autoUpdateTime"                                json:"updatedAt"`
}

// Season is the calendar year of the plot's survey, 0 when unknown.
func (g *Geometry) Season() int {
	return g.GpxDate.Season()
}
