package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"p9e.in/takweed/models"
)

// SeasonExpr is the survey year of a requests row. gpx_date is a
// timestamptz, so it is pinned to UTC to keep the expression immutable
// and indexable.
const SeasonExpr = "(EXTRACT(YEAR FROM gpx_date AT TIME ZONE 'UTC'))::int"

// GormStore is the postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore over db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) requests(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Request{}).Preload("Farm").Preload("Crop")
}

func (s *GormStore) Request(ctx context.Context, code string) (*models.Request, error) {
	var r models.Request
	err := s.requests(ctx).Where("code = ?", code).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", code, err)
	}
	return &r, nil
}

func (s *GormStore) RequestsByCodes(ctx context.Context, codes []string) (map[string]models.Request, error) {
	out := make(map[string]models.Request, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	var rows []models.Request
	if err := s.requests(ctx).Where("code = ANY(?)", pq.Array(codes)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	for _, r := range rows {
		out[r.Code] = r
	}
	return out, nil
}

func (s *GormStore) ListRequests(ctx context.Context, q RequestQuery) ([]models.Request, error) {
	tx := s.requests(ctx)
	if q.From != nil {
		tx = tx.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		tx = tx.Where("created_at <= ?", *q.To)
	}
	if len(q.CropIDs) > 0 {
		tx = tx.Where("crop_id IN ?", q.CropIDs)
	}
	if len(q.GovernorateIDs) > 0 {
		tx = tx.Where("COALESCE(requests.governorate_id, (SELECT farms.governorate_id FROM farms WHERE farms.id = requests.farm_id)) IN ?", q.GovernorateIDs)
	}
	if len(q.Seasons) > 0 {
		tx = tx.Where(SeasonExpr+" = ANY(?)", pq.Array(q.Seasons))
	}
	var out []models.Request
	if err := tx.Order("created_at DESC").Order("code").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return out, nil
}

func (s *GormStore) Crops(ctx context.Context) ([]models.Crop, error) {
	var out []models.Crop
	if err := s.db.WithContext(ctx).Order("name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list crops: %w", err)
	}
	return out, nil
}

func (s *GormStore) Locations(ctx context.Context) ([]models.Location, error) {
	var out []models.Location
	if err := s.db.WithContext(ctx).Order("name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return out, nil
}

func (s *GormStore) Hubs(ctx context.Context) ([]models.Hub, error) {
	var out []models.Hub
	if err := s.db.WithContext(ctx).Order("name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list hubs: %w", err)
	}
	return out, nil
}
