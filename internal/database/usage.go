package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jgoulah/plugshare/pkg/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSessionClosed is returned when the active marker disappeared while closing a session
var ErrSessionClosed = errors.New("active device row already removed")

// UsageQuery filters the usage record listing
type UsageQuery struct {
	DeviceID string
	From     time.Time
	To       time.Time
	Limit    int
}

// UsageFilter filters the usage aggregation query
type UsageFilter struct {
	DeviceID string // Empty means all devices
	Start    time.Time
	End      time.Time
}

// ListUsage retrieves usage records, newest first
func (db *DB) ListUsage(ctx context.Context, q UsageQuery) ([]models.UsageRecord, error) {
	limit := q.Limit
	if limit <= 0 || limit > 5000 {
		limit = 500
	}

	tx := db.conn.WithContext(ctx).Preload("Device").Order("start_date DESC").Order("id DESC").Limit(limit)
	if q.DeviceID != "" {
		tx = tx.Where("device_id = ?", q.DeviceID)
	}
	if !q.From.IsZero() {
		tx = tx.Where("start_date >= ?", q.From.UTC())
	}
	if !q.To.IsZero() {
		tx = tx.Where("start_date <= ?", q.To.UTC())
	}

	var out []models.UsageRecord
	if err := tx.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("querying usage records: %w", err)
	}
	return out, nil
}

type usageGroup struct {
	Day         string
	DeviceID    string
	UserEmail   string
	Consumption decimal.Decimal
}

// UsageData sums consumption per (day, device, user) for sessions that started inside
// [Start, End] and ended no later than End
func (db *DB) UsageData(ctx context.Context, f UsageFilter) ([]models.UsageRow, error) {
	day := db.dayExpr()

	// ROUND trims the float noise SQLite adds when summing REAL values
	q := db.conn.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select(day+" AS day, device_id, user_email, ROUND(SUM(consumption), 6) AS consumption").
		Where("start_date >= ? AND start_date <= ? AND end_date <= ?", f.Start.UTC(), f.End.UTC(), f.End.UTC())
	if f.DeviceID != "" {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	q = q.Group(day + ", device_id, user_email").Order("day, device_id, user_email")

	var groups []usageGroup
	if err := q.Scan(&groups).Error; err != nil {
		return nil, fmt.Errorf("querying usage data: %w", err)
	}

	rows := make([]models.UsageRow, 0, len(groups))
	for _, g := range groups {
		d, err := time.ParseInLocation("2006-01-02", g.Day, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parsing usage day %q: %w", g.Day, err)
		}
		rows = append(rows, models.UsageRow{
			Day:         d,
			DeviceID:    g.DeviceID,
			UserEmail:   g.UserEmail,
			Consumption: g.Consumption,
		})
	}
	return rows, nil
}

// GetActive retrieves the active marker for a device with its usage record and device loaded.
// It returns nil when the device is free.
func (db *DB) GetActive(ctx context.Context, deviceID string) (*models.ActiveDevice, error) {
	return getActive(db.conn.WithContext(ctx), deviceID)
}

func getActive(tx *gorm.DB, deviceID string) (*models.ActiveDevice, error) {
	var a models.ActiveDevice
	err := tx.Preload("UsageRecord").Preload("Device").Where("device_id = ?", deviceID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active device: %w", err)
	}
	return &a, nil
}

// ListActive retrieves every busy device with its open usage record
func (db *DB) ListActive(ctx context.Context) ([]models.ActiveDevice, error) {
	var out []models.ActiveDevice
	err := db.conn.WithContext(ctx).Preload("UsageRecord").Preload("Device").Order("device_id").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing active devices: %w", err)
	}
	return out, nil
}

// OpenSession inserts the usage record and its active marker in one transaction and
// returns the joined view
func (db *DB) OpenSession(ctx context.Context, usage *models.UsageRecord) (*models.ActiveDevice, error) {
	var view *models.ActiveDevice
	err := db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(usage).Error; err != nil {
			return fmt.Errorf("creating usage record: %w", err)
		}

		active := &models.ActiveDevice{DeviceID: usage.DeviceID, UsageRecordID: usage.ID}
		if err := tx.Omit(clause.Associations).Create(active).Error; err != nil {
			return fmt.Errorf("creating active device: %w", err)
		}

		var err error
		view, err = getActive(tx, usage.DeviceID)
		if err != nil {
			return err
		}
		if view == nil {
			return fmt.Errorf("active device %s vanished", usage.DeviceID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// SessionClose carries the final values written when a session ends
type SessionClose struct {
	DeviceID      string
	UsageRecordID int64
	EndDate       time.Time
	Consumption   decimal.Decimal
	Charge        decimal.Decimal
}

// CloseSession writes the final usage values and deletes the active marker in one transaction
func (db *DB) CloseSession(ctx context.Context, c SessionClose) error {
	return db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.UsageRecord{}).Where("id = ?", c.UsageRecordID).Updates(map[string]any{
			"end_date":    c.EndDate.UTC(),
			"consumption": c.Consumption,
			"charge":      c.Charge,
		})
		if res.Error != nil {
			return fmt.Errorf("updating usage record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("usage record %d not found", c.UsageRecordID)
		}

		res = tx.Where("device_id = ? AND usage_record_id = ?", c.DeviceID, c.UsageRecordID).Delete(&models.ActiveDevice{})
		if res.Error != nil {
			return fmt.Errorf("deleting active device: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrSessionClosed
		}
		return nil
	})
}

// UpdateEstimatedTime stores a new estimated end time for a usage record
func (db *DB) UpdateEstimatedTime(ctx context.Context, usageID int64, t time.Time) error {
	res := db.conn.WithContext(ctx).Model(&models.UsageRecord{}).Where("id = ?", usageID).Update("estimated_use_time", t.UTC())
	if res.Error != nil {
		return fmt.Errorf("updating estimated use time: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("usage record %d not found", usageID)
	}
	return nil
}

// BillingAnchor returns the configured billing period anchor, or nil when none is set
func (db *DB) BillingAnchor(ctx context.Context) (*time.Time, error) {
	var s models.BillingSetting
	err := db.conn.WithContext(ctx).Where("id = ?", 1).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying billing setting: %w", err)
	}
	anchor := s.AnchorDate.UTC()
	return &anchor, nil
}

// SetBillingAnchor stores the billing period anchor
func (db *DB) SetBillingAnchor(ctx context.Context, anchor time.Time) error {
	s := models.BillingSetting{ID: 1, AnchorDate: anchor.UTC()}
	err := db.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"anchor_date"}),
	}).Create(&s).Error
	if err != nil {
		return fmt.Errorf("saving billing setting: %w", err)
	}
	return nil
}
