package config

import (
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"p9e.in/takweed/models"
)

var defaultCrops = []models.Crop{
	{Name: "wheat", NameAr: "قمح", Varieties: pq.StringArray{"giza-171", "sakha-95", "misr-3"}},
	{Name: "rice", NameAr: "أرز", Varieties: pq.StringArray{"giza-178", "sakha-108", "yasmine"}},
	{Name: "maize", NameAr: "ذرة", Varieties: pq.StringArray{"sc-10", "sc-128", "tw-321"}},
	{Name: "cotton", NameAr: "قطن", Varieties: pq.StringArray{"giza-86", "giza-94", "giza-97"}},
	{Name: "potato", NameAr: "بطاطس", Varieties: pq.StringArray{"spunta", "diamant", "cara"}},
}

var defaultGovernorates = []string{
	"Alexandria", "Beheira", "Kafr El Sheikh", "Dakahlia", "Gharbia", "Monufia",
	"Qalyubia", "Sharqia", "Damietta", "Giza", "Faiyum", "Beni Suef", "Minya",
	"Asyut", "Sohag", "Qena", "Luxor", "Aswan", "New Valley",
}

var defaultHubs = []models.Hub{
	{Code: "STORE-GIZA", Name: "Giza central store", Tier: models.HubTierStore},
	{Code: "DIST-DELTA", Name: "Delta distributer", Tier: models.HubTierDistributer},
	{Code: "EXPORT-ALEX", Name: "Alexandria export terminal", Tier: models.HubTierExport},
}

// SeedReference inserts the default crops, governorates and hubs that are
// not already present.
func SeedReference(db *gorm.DB, logger *slog.Logger) error {
	created := 0
	for _, c := range defaultCrops {
		crop := c
		res := db.Where("name = ?", crop.Name).FirstOrCreate(&crop)
		if res.Error != nil {
			return fmt.Errorf("seed crop %s: %w", crop.Name, res.Error)
		}
		created += int(res.RowsAffected)
	}
	for _, name := range defaultGovernorates {
		loc := models.Location{Name: name, Type: models.LocationGovernorate}
		res := db.Where("name = ? AND type = ?", name, models.LocationGovernorate).FirstOrCreate(&loc)
		if res.Error != nil {
			return fmt.Errorf("seed governorate %s: %w", name, res.Error)
		}
		created += int(res.RowsAffected)
	}
	for _, h := range defaultHubs {
		hub := h
		hub.IsActive = true
		res := db.Where("code = ?", hub.Code).FirstOrCreate(&hub)
		if res.Error != nil {
			return fmt.Errorf("seed hub %s: %w", hub.Code, res.Error)
		}
		created += int(res.RowsAffected)
	}
	logger.Info("reference data seeded", "created", created)
	return nil
}
