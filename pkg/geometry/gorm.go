package geometry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"p9e.in/takweed/models"
)

// GormStore is the postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore over db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) ByCode(ctx context.Context, code string) ([]models.Geometry, error) {
	return s.List(ctx, Filter{Codes: []string{code}})
}

func (s *GormStore) ByPlotLabel(ctx context.Context, code, point string) (*models.Geometry, error) {
	var g models.Geometry
	err := s.db.WithContext(ctx).Where("code = ? AND point = ?", code, point).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load plot %s/%s: %w", code, point, err)
	}
	return &g, nil
}

func (s *GormStore) List(ctx context.Context, f Filter) ([]models.Geometry, error) {
	q := s.db.WithContext(ctx).Order("code").Order("point")
	if len(f.Codes) > 0 {
		q = q.Where("code IN ?", f.Codes)
	}
	var out []models.Geometry
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list plots: %w", err)
	}
	return out, nil
}

func (s *GormStore) Create(ctx context.Context, g *models.Geometry) error {
	if err := Prepare(g); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Create(g).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s/%s", ErrDuplicatePlot, g.Code, g.Point)
	}
	if err != nil {
		return fmt.Errorf("create plot %s/%s: %w", g.Code, g.Point, err)
	}
	return nil
}

// AppendIntersections locks the plot row so a re-run of the batch job cannot
// lose entries written by an overlapping run.
func (s *GormStore) AppendIntersections(ctx context.Context, id uuid.UUID, items []models.Intersection) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var g models.Geometry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&g, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load plot %s: %w", id, err)
		}
		lookup := func(code, point string) (*models.Geometry, error) {
			var other models.Geometry
			err := tx.Select("id", "code", "point", "area").Where("code = ? AND point = ?", code, point).First(&other).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			if err != nil {
				return nil, fmt.Errorf("load plot %s/%s: %w", code, point, err)
			}
			return &other, nil
		}
		if err := CheckIntersections(&g, items, lookup); err != nil {
			return err
		}
		g.Intersections = append(g.Intersections, items...)
		return tx.Model(&g).Update("intersections", g.Intersections).Error
	})
}
