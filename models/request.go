package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// VarietyArea is one declared variety of a request, with the area sown and
// the quantity the registration authorises.
type VarietyArea struct {
	Variety string  `json:"variety"`
	Area    float64 `json:"area"`
	Amount  float64 `json:"amount"`
}

// Request is a land-registration submission. Code is the public identifier
// shared by its plots and its traceability record.
type Request struct {
	ID            uuid.UUID                        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code          string                           `gorm:"column:code;size:64;uniqueIndex;not null"      json:"code"`
	FarmID        uuid.UUID                        `gorm:"type:uuid;index;not null"                      json:"farmId"`
	Farm          *Farm                            `gorm:"foreignKey:FarmID"                             json:"farm,omitempty"`
	CropID        *uuid.UUID                       `gorm:"type:uuid;index"                               json:"cropId,omitempty"`
	Crop          *Crop                            `gorm:"foreignKey:CropID"                             json:"crop,omitempty"`
	GovernorateID *uuid.UUID                       `gorm:"type:uuid;index"                               json:"governorateId,omitempty"`
	GpxDate       JSONTime                         `gorm:"column:gpx_date"                               json:"gpxDate"`
	Varieties     datatypes.JSONSlice[VarietyArea] `gorm:"column:varieties;type:jsonb"                   json:"varieties"`
	CreatedAt     time.Time                        `gorm:"autoCreateTime;index"                          json:"createdAt"`
	UpdatedAt     time.Time                        `gorm:"autoUpdateTime"                                json:"updatedAt"`
}

// Season is the calendar year of the survey.
func (r *Request) Season() int {
	return r.GpxDate.Season()
}

// Governorate is the request's own governorate, falling back to its farm's.
// Farm must be loaded for the fallback.
func (r *Request) Governorate() *uuid.UUID {
	if r.GovernorateID != nil {
		return r.GovernorateID
	}
	if r.Farm != nil {
		return r.Farm.GovernorateID
	}
	return nil
}
