package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Device is a shared smart plug
type Device struct {
	ID              string         `gorm:"primaryKey" json:"id"`
	MACAddress      string         `gorm:"uniqueIndex;not null" json:"mac_address"`
	IPAddress       string         `gorm:"uniqueIndex;not null" json:"ip_address"`
	Alias           string         `gorm:"uniqueIndex;not null" json:"alias"`
	IsArchived      bool           `gorm:"not null;default:false" json:"is_archived"`
	PreviousAliases datatypes.JSON `json:"previous_aliases"`
}

// TableName keeps the singular table name used by the schema
func (Device) TableName() string {
	return "device"
}

// Aliases decodes the previous alias history
func (d *Device) Aliases() []string {
	if len(d.PreviousAliases) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(d.PreviousAliases, &out); err != nil {
		return nil
	}
	return out
}

// Rename sets a new alias and records the old one in the alias history
func (d *Device) Rename(alias string) {
	if alias == d.Alias {
		return
	}
	history := d.Aliases()
	if d.Alias != "" {
		history = append(history, d.Alias)
	}
	buf, _ := json.Marshal(history)
	d.PreviousAliases = datatypes.JSON(buf)
	d.Alias = alias
}

// ActiveDevice marks a device as busy. It references exactly one open usage record.
type ActiveDevice struct {
	DeviceID      string       `gorm:"primaryKey" json:"device_id"`
	UsageRecordID int64        `gorm:"uniqueIndex;not null" json:"usage_record_id,string"`
	Device        *Device      `gorm:"foreignKey:DeviceID;references:ID" json:"device,omitempty"`
	UsageRecord   *UsageRecord `gorm:"foreignKey:UsageRecordID;references:ID" json:"usage,omitempty"`
}

// TableName keeps the singular table name used by the schema
func (ActiveDevice) TableName() string {
	return "active_device"
}

// BillingSetting holds the administrator configured billing period anchor
type BillingSetting struct {
	ID         int       `gorm:"primaryKey" json:"-"`
	AnchorDate time.Time `gorm:"not null" json:"anchor_date"`
}

// TableName keeps the singular table name used by the schema
func (BillingSetting) TableName() string {
	return "billing_setting"
}
