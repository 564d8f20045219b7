package db

import (
	"context"
	"errors"

	"smartgarden/internal/models"

	"github.com/jackc/pgx/v5"
)

// GetDeviceByID fetches a device
func (d *DB) GetDeviceByID(ctx context.Context, id string) (*models.Device, error) {
	var dev models.Device
	err := d.pool.QueryRow(ctx, "SELECT id, name, timezone, owner_id, api_key_hash FROM devices WHERE id = $1", id).
		Scan(&dev.ID, &dev.Name, &dev.Timezone, &dev.OwnerID, &dev.APIKeyHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

// DeviceTimezone returns the IANA timezone of a device, empty when unset
func (d *DB) DeviceTimezone(ctx context.Context, deviceID string) (string, error) {
	dev, err := d.GetDeviceByID(ctx, deviceID)
	if errors.Is(err, models.ErrDeviceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return dev.Timezone, nil
}

// DeviceKeyHash returns the bcrypt hash of a device's api key
func (d *DB) DeviceKeyHash(ctx context.Context, deviceID string) (string, error) {
	dev, err := d.GetDeviceByID(ctx, deviceID)
	if err != nil {
		return "", err
	}
	return dev.APIKeyHash, nil
}

// ListDevices returns the devices owned by userID
func (d *DB) ListDevices(ctx context.Context, userID string) ([]models.Device, error) {
	rows, err := d.pool.Query(ctx, "SELECT id, name, timezone, owner_id FROM devices WHERE owner_id = $1 ORDER BY id", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := []models.Device{}
	for rows.Next() {
		var dev models.Device
		if err := rows.Scan(&dev.ID, &dev.Name, &dev.Timezone, &dev.OwnerID); err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, rows.Err()
}

// InsertDevice registers a device with the hash of its api key
func (d *DB) InsertDevice(ctx context.Context, dev *models.Device) error {
	_, err := d.pool.Exec(ctx, "INSERT INTO devices (id, name, timezone, owner_id, api_key_hash) VALUES ($1, $2, $3, $4, $5)",
		dev.ID, dev.Name, dev.Timezone, dev.OwnerID, dev.APIKeyHash)
	return err
}
