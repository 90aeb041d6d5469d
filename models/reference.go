package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Crop is a registrable crop type together with the varieties farmers may
// declare for it.
type Crop struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name      string         `gorm:"column:name;size:100;uniqueIndex;not null"     json:"name"`
	NameAr    string         `gorm:"column:name_ar;size:100"                       json:"nameAr,omitempty"`
	Varieties pq.StringArray `gorm:"column:varieties;type:text[]"                  json:"varieties"`
	CreatedAt time.Time      `gorm:"autoCreateTime"                                json:"createdAt"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"                                json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index"                                         json:"-"`
}

// Location types, outermost first.
const (
	LocationGovernorate = "governorate"
	LocationCenter      = "center"
	LocationHamlet      = "hamlet"
)

// Location is one node of the governorate > center > hamlet hierarchy.
type Location struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name      string     `gorm:"column:name;size:150;not null"                 json:"name"`
	Type      string     `gorm:"column:type;size:20;index;not null"            json:"type"`
	ParentID  *uuid.UUID `gorm:"type:uuid;index"                               json:"parentId,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime"                                json:"createdAt"`
}

// Farm is the registered holding a request is filed for.
type Farm struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name          string     `gorm:"column:name;size:150;not null"                 json:"name"`
	OwnerName     string     `gorm:"column:owner_name;size:150;not null"           json:"ownerName"`
	OwnerPhone    string     `gorm:"column:owner_phone;size:20"                    json:"ownerPhone"`
	LocationID    *uuid.UUID `gorm:"type:uuid;index"                               json:"locationId,omitempty"`
	GovernorateID *uuid.UUID `gorm:"type:uuid;index"                               json:"governorateId,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime"                                json:"createdAt"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime"                                json:"updatedAt"`
}

// Hub tiers.
const (
	HubTierStore       = "store"
	HubTierDistributer = "distributer"
	HubTierExport      = "export"
)

// Hub is a store, distributer or export facility that can hold produce.
type Hub struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code       string     `gorm:"column:code;size:50;uniqueIndex;not null"      json:"code"`
	Name       string     `gorm:"column:name;size:150;not null"                 json:"name"`
	Tier       string     `gorm:"column:tier;size:20;index;not null"            json:"tier"`
	LocationID *uuid.UUID `gorm:"type:uuid"                                     json:"locationId,omitempty"`
	IsActive   bool       `gorm:"default:true"                                  json:"isActive"`
	CreatedAt  time.Time  `gorm:"autoCreateTime"                                json:"createdAt"`
}
