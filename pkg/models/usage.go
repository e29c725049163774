package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageRecord represents one start-to-end session of a device's use
type UsageRecord struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id,string"`
	UserEmail        string          `gorm:"not null;index" json:"user_email"`
	StartDate        time.Time       `gorm:"not null;index" json:"start_date"`
	EndDate          time.Time       `gorm:"not null;check:end_date >= start_date" json:"end_date"` // Equals StartDate while the session is open
	EstimatedUseTime *time.Time      `json:"estimated_use_time"`
	Consumption      decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"consumption"` // kWh
	Charge           decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"charge"`
	DeviceID         string          `gorm:"not null;index" json:"device_id"`
	Device           *Device         `gorm:"foreignKey:DeviceID;references:ID" json:"device,omitempty"`
}

// TableName keeps the singular table name used by the schema
func (UsageRecord) TableName() string {
	return "usage"
}

// UsageRow is one (day, device, user) group returned by the usage aggregation query
type UsageRow struct {
	Day         time.Time       `json:"day"`
	DeviceID    string          `json:"device_id"`
	UserEmail   string          `json:"user_email"`
	Consumption decimal.Decimal `json:"consumption"`
}
