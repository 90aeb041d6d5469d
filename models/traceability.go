package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Transaction types recorded in a traceability history.
const (
	TxStoreToDistributer  = "STORE_TO_DISTRIBUTER"
	TxChargeToStore       = "CHARGE_TO_STORE"
	TxAddCharge           = "ADD_CHARGE"
	TxDistributerToExport = "DISTRIBUTER_TO_EXPORT"
)

// KnownTransactionType reports whether t is one of the recorded types.
func KnownTransactionType(t string) bool {
	switch t {
	case TxStoreToDistributer, TxChargeToStore, TxAddCharge, TxDistributerToExport:
		return true
	}
	return false
}

// Quantity is an amount of one variety.
type Quantity struct {
	Variety string  `json:"variety"`
	Amount  float64 `json:"amount"`
}

// ChargeEntry is the chargeable quantity of one variety. CurrentAmount is
// decremented as quantities leave the charge pool.
type ChargeEntry struct {
	Variety       string  `json:"variety"`
	Area          float64 `json:"area"`
	InitialAmount float64 `json:"initialAmount"`
	CurrentAmount float64 `json:"currentAmount"`
}

// RequestSnapshot is the request data copied onto the traceability record
// when it is opened.
type RequestSnapshot struct {
	CropID     string   `json:"cropId,omitempty"`
	CropName   string   `json:"cropName"`
	FarmName   string   `json:"farmName,omitempty"`
	OwnerName  string   `json:"ownerName"`
	OwnerPhone string   `json:"ownerPhone"`
	GpxDate    JSONTime `json:"gpxDate"`
}

// Traceability is the ledger head of one request.
type Traceability struct {
	ID          uuid.UUID                           `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code        string                              `gorm:"column:code;size:64;uniqueIndex;not null"      json:"code"`
	RequestData datatypes.JSONType[RequestSnapshot] `gorm:"column:request_data;type:jsonb"                json:"requestData"`
	Charge      datatypes.JSONSlice[ChargeEntry]    `gorm:"column:charge;type:jsonb"                      json:"charge"`
	Version     int                                 `gorm:"column:version;not null;default:0"             json:"version"`
	CreatedAt   time.Time                           `gorm:"autoCreateTime"                                json:"createdAt"`
	UpdatedAt   time.Time                           `gorm:"autoUpdateTime"                                json:"updatedAt"`

	History []TraceabilityTransaction `gorm:"foreignKey:Code;references:Code" json:"history,omitempty"`
}

// TraceabilityTransaction is one append-only history entry. A nil From
// means the quantity was released from the charge pool.
type TraceabilityTransaction struct {
	ID              uuid.UUID                     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code            string                        `gorm:"column:code;size:64;uniqueIndex:idx_trace_tx_code_seq;not null" json:"code"`
	Seq             int                           `gorm:"column:seq;uniqueIndex:idx_trace_tx_code_seq;not null"          json:"seq"`
	From            *string                       `gorm:"column:from_hub;size:64"                       json:"from"`
	To              *string                       `gorm:"column:to_hub;size:64"                         json:"to"`
	User            string                        `gorm:"column:user_id;size:64"                        json:"user"`
	TransactionType string                        `gorm:"column:transaction_type;size:40;not null"      json:"transactionType"`
	Payload         datatypes.JSONSlice[Quantity] `gorm:"column:payload;type:jsonb;not null"            json:"payload"`
	CreatedAt       time.Time                     `gorm:"column:created_at;index"                       json:"createdAt"`
}
