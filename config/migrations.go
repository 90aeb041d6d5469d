package config

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"p9e.in/takweed/models"
	"p9e.in/takweed/pkg/registry"
)

// Migrations brings the schema up to date.
func Migrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "01032024_create_reference_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS pgcrypto").Error; err != nil {
					return err
				}
				return tx.AutoMigrate(&models.Crop{}, &models.Location{}, &models.Farm{}, &models.Hub{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&models.Hub{}, &models.Farm{}, &models.Location{}, &models.Crop{})
			},
		},
		{
			ID: "01032024_create_requests_and_geometries",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.Request{}, &models.Geometry{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&models.Geometry{}, &models.Request{})
			},
		},
		{
			ID: "05032024_create_traceability_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.Traceability{}, &models.TraceabilityTransaction{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&models.TraceabilityTransaction{}, &models.Traceability{})
			},
		},
		{
			ID: "12032024_add_report_indexes",
			Migrate: func(tx *gorm.DB) error {
				stmts := []string{
					"CREATE INDEX IF NOT EXISTS idx_requests_gpx_year ON requests (" + registry.SeasonExpr + ")",
					"CREATE INDEX IF NOT EXISTS idx_geometries_intersections ON geometries USING GIN (intersections jsonb_path_ops)",
				}
				for _, s := range stmts {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				for _, idx := range []string{"idx_requests_gpx_year", "idx_geometries_intersections"} {
					if err := tx.Exec("DROP INDEX IF EXISTS " + idx).Error; err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			ID: "20032024_unique_plot_labels",
			Migrate: func(tx *gorm.DB) error {
				for _, s := range []string{
					"DROP INDEX IF EXISTS idx_geometries_code_point",
					"CREATE UNIQUE INDEX idx_geometries_code_point ON geometries(code, point)",
				} {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				for _, s := range []string{
					"DROP INDEX IF EXISTS idx_geometries_code_point",
					"CREATE INDEX idx_geometries_code_point ON geometries(code, point)",
				} {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
		},
	})
	return m.Migrate()
}
