package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"p9e.in/takweed/models"
)

// GormStore is the postgres-backed Store. History rows are never updated;
// the record's version column serialises appends across processes.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore over db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, code string) (*models.Traceability, error) {
	var rec models.Traceability
	err := s.db.WithContext(ctx).
		Preload("History", func(tx *gorm.DB) *gorm.DB { return tx.Order("seq ASC") }).
		Where("code = ?", code).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load traceability %s: %w", code, err)
	}
	return &rec, nil
}

func (s *GormStore) Create(ctx context.Context, rec *models.Traceability) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Traceability{}).Where("code = ?", rec.Code).Count(&n).Error; err != nil {
			return fmt.Errorf("check traceability %s: %w", rec.Code, err)
		}
		if n > 0 {
			return ErrExists
		}
		for i := range rec.History {
			rec.History[i].Code = rec.Code
			rec.History[i].Seq = i
		}
		if err := tx.Create(rec).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrExists
			}
			return fmt.Errorf("create traceability %s: %w", rec.Code, err)
		}
		return nil
	})
}

func (s *GormStore) Append(ctx context.Context, code string, expectedVersion int, entry *models.TraceabilityTransaction, charge []models.ChargeEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Traceability{}).
			Where("code = ? AND version = ?", code, expectedVersion).
			Updates(map[string]interface{}{
				"version":    gorm.Expr("version + 1"),
				"charge":     datatypes.JSONSlice[models.ChargeEntry](charge),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("bump traceability %s: %w", code, res.Error)
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&models.Traceability{}).Where("code = ?", code).Count(&n).Error; err != nil {
				return fmt.Errorf("check traceability %s: %w", code, err)
			}
			if n == 0 {
				return ErrNotFound
			}
			return ErrVersionConflict
		}

		var next int
		if err := tx.Model(&models.TraceabilityTransaction{}).
			Where("code = ?", code).
			Select("COALESCE(MAX(seq) + 1, 0)").
			Scan(&next).Error; err != nil {
			return fmt.Errorf("next seq of %s: %w", code, err)
		}
		entry.Code = code
		entry.Seq = next
		if err := tx.Create(entry).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrVersionConflict
			}
			return fmt.Errorf("append history of %s: %w", code, err)
		}
		return nil
	})
}

func (s *GormStore) Codes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := s.db.WithContext(ctx).Model(&models.Traceability{}).Order("code").Pluck("code", &codes).Error; err != nil {
		return nil, fmt.Errorf("list traceability codes: %w", err)
	}
	return codes, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "SQLSTATE 23505")
}
