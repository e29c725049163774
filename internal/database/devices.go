package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jgoulah/plugshare/pkg/models"
	"gorm.io/gorm"
)

// InsertDevice provisions a new device
func (db *DB) InsertDevice(ctx context.Context, d *models.Device) error {
	if err := db.conn.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by id, returning nil when it does not exist
func (db *DB) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	var d models.Device
	err := db.conn.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return &d, nil
}

// ListDevices retrieves devices ordered by alias
func (db *DB) ListDevices(ctx context.Context, includeArchived bool) ([]models.Device, error) {
	q := db.conn.WithContext(ctx).Order("alias")
	if !includeArchived {
		q = q.Where("is_archived = ?", false)
	}

	var out []models.Device
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return out, nil
}

// RenameDevice changes a device alias, keeping the previous one in its history
func (db *DB) RenameDevice(ctx context.Context, id, alias string) (*models.Device, error) {
	d, err := db.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("device %s not found", id)
	}

	d.Rename(alias)
	err = db.conn.WithContext(ctx).Model(d).Updates(map[string]any{
		"alias":            d.Alias,
		"previous_aliases": d.PreviousAliases,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("renaming device: %w", err)
	}
	return d, nil
}

// ArchiveDevice hides a device from the dashboard. Devices are never deleted.
func (db *DB) ArchiveDevice(ctx context.Context, id string) error {
	res := db.conn.WithContext(ctx).Model(&models.Device{}).Where("id = ?", id).Update("is_archived", true)
	if res.Error != nil {
		return fmt.Errorf("archiving device: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("device %s not found", id)
	}
	return nil
}
