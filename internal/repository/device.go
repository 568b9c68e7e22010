package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"unitalk/internal/model"
)

const deviceColumns = `id, user_id, device_type, device_name, device_token, is_online, socket_id, last_active_at, created_at`

type deviceRepository struct {
	db *sqlx.DB
}

func NewDeviceRepository(db *sqlx.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

// Upsert creates or refreshes the device slot for (user, class).
// Nil name/token keep the stored values; the slot is always forced online.
func (r *deviceRepository) Upsert(ctx context.Context, reg model.DeviceRegistration) (*model.Device, error) {
	query := `
		INSERT INTO user_devices (user_id, device_type, device_name, device_token, is_online, socket_id, last_active_at)
		VALUES ($1, $2, $3, $4, true, $5, NOW())
		ON CONFLICT (user_id, device_type) DO UPDATE SET
			device_name = COALESCE(EXCLUDED.device_name, user_devices.device_name),
			device_token = COALESCE(EXCLUDED.device_token, user_devices.device_token),
			is_online = true,
			socket_id = EXCLUDED.socket_id,
			last_active_at = NOW()
		RETURNING ` + deviceColumns

	var d model.Device
	err := r.db.GetContext(ctx, &d, query, reg.UserID, reg.Class, reg.Name, reg.PushToken, nullString(reg.ConnectionID))
	if err != nil {
		return nil, fmt.Errorf("upsert device: %w", err)
	}
	return &d, nil
}

func (r *deviceRepository) SetOnline(ctx context.Context, userID string, class model.DeviceClass, connectionID string) error {
	query := `
		UPDATE user_devices SET is_online = true, socket_id = $3, last_active_at = NOW()
		WHERE user_id = $1 AND device_type = $2
	`
	if _, err := r.db.ExecContext(ctx, query, userID, class, connectionID); err != nil {
		return fmt.Errorf("set device online: %w", err)
	}
	return nil
}

func (r *deviceRepository) SetOffline(ctx context.Context, userID string, class model.DeviceClass) error {
	query := `
		UPDATE user_devices SET is_online = false, socket_id = NULL, last_active_at = NOW()
		WHERE user_id = $1 AND device_type = $2
	`
	if _, err := r.db.ExecContext(ctx, query, userID, class); err != nil {
		return fmt.Errorf("set device offline: %w", err)
	}
	return nil
}

// SetOfflineByConnection clears the slot currently bound to connectionID.
// A superseded handle no longer matches socket_id, so it clears nothing.
func (r *deviceRepository) SetOfflineByConnection(ctx context.Context, connectionID string) (*model.DeviceIdentity, error) {
	query := `
		UPDATE user_devices SET is_online = false, socket_id = NULL, last_active_at = NOW()
		WHERE socket_id = $1
		RETURNING user_id, device_type
	`

	var id model.DeviceIdentity
	err := r.db.GetContext(ctx, &id, query, connectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("set device offline by connection: %w", err)
	}
	return &id, nil
}

func (r *deviceRepository) AnyOnline(ctx context.Context, userID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM user_devices WHERE user_id = $1 AND is_online = true)`

	var online bool
	if err := r.db.GetContext(ctx, &online, query, userID); err != nil {
		return false, fmt.Errorf("check device online: %w", err)
	}
	return online, nil
}

func (r *deviceRepository) ListOnline(ctx context.Context, userID string) ([]model.OnlineDevice, error) {
	query := `
		SELECT device_type, device_token FROM user_devices
		WHERE user_id = $1 AND is_online = true
	`

	var devices []model.OnlineDevice
	if err := r.db.SelectContext(ctx, &devices, query, userID); err != nil {
		return nil, fmt.Errorf("list online devices: %w", err)
	}
	return devices, nil
}

func (r *deviceRepository) ListByUser(ctx context.Context, userID string) ([]model.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM user_devices WHERE user_id = $1 ORDER BY last_active_at DESC`

	var devices []model.Device
	if err := r.db.SelectContext(ctx, &devices, query, userID); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

func (r *deviceRepository) Delete(ctx context.Context, deviceID, userID string) error {
	if !isUUID(deviceID) {
		return model.ErrDeviceNotFound
	}
	query := `DELETE FROM user_devices WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, deviceID, userID)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrDeviceNotFound
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
