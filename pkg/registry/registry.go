// Package registry reads the reference data the core joins against:
// requests with their farm and crop, the location hierarchy and hubs.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"p9e.in/takweed/models"
)

// ErrNotFound is returned when a request code is unknown.
var ErrNotFound = errors.New("request not found")

// RequestQuery narrows ListRequests. Empty slices and nil times do not
// filter. Governorates match the request's own, else its farm's.
type RequestQuery struct {
	From           *time.Time
	To             *time.Time
	CropIDs        []uuid.UUID
	GovernorateIDs []uuid.UUID
	Seasons        []int
}

// Store is the reference-data source.
type Store interface {
	// Request returns one request with Farm and Crop loaded.
	Request(ctx context.Context, code string) (*models.Request, error)
	// RequestsByCodes returns the requests that exist among codes, keyed by code.
	RequestsByCodes(ctx context.Context, codes []string) (map[string]models.Request, error)
	// ListRequests returns requests matching q, newest registration first.
	ListRequests(ctx context.Context, q RequestQuery) ([]models.Request, error)
	Crops(ctx context.Context) ([]models.Crop, error)
	Locations(ctx context.Context) ([]models.Location, error)
	Hubs(ctx context.Context) ([]models.Hub, error)
}

func (q RequestQuery) matches(r *models.Request) bool {
	if q.From != nil && r.CreatedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && r.CreatedAt.After(*q.To) {
		return false
	}
	if len(q.CropIDs) > 0 && (r.CropID == nil || !containsID(q.CropIDs, *r.CropID)) {
		return false
	}
	if len(q.GovernorateIDs) > 0 {
		if g := r.Governorate(); g == nil || !containsID(q.GovernorateIDs, *g) {
			return false
		}
	}
	if len(q.Seasons) > 0 {
		found := false
		for _, s := range q.Seasons {
			if s == r.Season() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
