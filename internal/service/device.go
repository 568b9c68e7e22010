package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"unitalk/internal/model"
	"unitalk/internal/repository"
)

// DeviceService is the durable per-(user, class) device directory. It is the
// authority on whether a user has any device online, across every instance.
type DeviceService struct {
	repo     repository.DeviceRepository
	userRepo repository.UserRepository
	logger   *zap.Logger
}

func NewDeviceService(repo repository.DeviceRepository, userRepo repository.UserRepository, logger *zap.Logger) *DeviceService {
	return &DeviceService{
		repo:     repo,
		userRepo: userRepo,
		logger:   logger.Named("device"),
	}
}

// Upsert registers or refreshes the slot of reg.Class and marks it online.
func (s *DeviceService) Upsert(ctx context.Context, reg model.DeviceRegistration) (*model.Device, error) {
	if _, err := model.ParseDeviceClass(string(reg.Class)); err != nil || reg.Class == "" {
		return nil, model.ErrInvalidDeviceClass
	}

	device, err := s.repo.Upsert(ctx, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device: %w", err)
	}

	s.logger.Debug("Upsert OK", zap.String("user", reg.UserID), zap.String("class", string(reg.Class)), zap.String("device", device.ID))
	return device, nil
}

func (s *DeviceService) SetOnline(ctx context.Context, userID string, class model.DeviceClass, handleID string) error {
	if err := s.repo.SetOnline(ctx, userID, class, handleID); err != nil {
		return fmt.Errorf("failed to set device online: %w", err)
	}
	return nil
}

func (s *DeviceService) SetOffline(ctx context.Context, userID string, class model.DeviceClass) error {
	if err := s.repo.SetOffline(ctx, userID, class); err != nil {
		return fmt.Errorf("failed to set device offline: %w", err)
	}
	return nil
}

// SetOfflineByConnectionHandle clears the slot still bound to handleID.
// It returns nil when the handle no longer owns any slot.
func (s *DeviceService) SetOfflineByConnectionHandle(ctx context.Context, handleID string) (*model.DeviceIdentity, error) {
	identity, err := s.repo.SetOfflineByConnection(ctx, handleID)
	if err != nil {
		return nil, fmt.Errorf("failed to set device offline: %w", err)
	}
	return identity, nil
}

func (s *DeviceService) IsAnyDeviceOnline(ctx context.Context, userID string) (bool, error) {
	online, err := s.repo.AnyOnline(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check online devices: %w", err)
	}
	return online, nil
}

func (s *DeviceService) ListOnline(ctx context.Context, userID string) ([]model.OnlineDevice, error) {
	devices, err := s.repo.ListOnline(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list online devices: %w", err)
	}
	return devices, nil
}

// List returns every registered device of userID.
func (s *DeviceService) List(ctx context.Context, userID string) ([]model.Device, error) {
	devices, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if devices == nil {
		devices = []model.Device{}
	}
	return devices, nil
}

// PushTokens returns the distinct push tokens of userID's devices. A user
// without device tokens falls back to the token stored on the user.
func (s *DeviceService) PushTokens(ctx context.Context, userID string) ([]string, error) {
	devices, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	seen := make(map[string]struct{}, len(devices))
	var tokens []string
	for _, d := range devices {
		if d.PushToken == nil || *d.PushToken == "" {
			continue
		}
		if _, dup := seen[*d.PushToken]; dup {
			continue
		}
		seen[*d.PushToken] = struct{}{}
		tokens = append(tokens, *d.PushToken)
	}
	if len(tokens) > 0 {
		return tokens, nil
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user.FCMToken != nil && *user.FCMToken != "" {
		return []string{*user.FCMToken}, nil
	}
	return nil, nil
}

// Remove deletes a device owned by ownerUserID.
func (s *DeviceService) Remove(ctx context.Context, deviceID, ownerUserID string) error {
	if err := s.repo.Delete(ctx, deviceID, ownerUserID); err != nil {
		if errors.Is(err, model.ErrDeviceNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete device: %w", err)
	}
	s.logger.Debug("Remove OK", zap.String("user", ownerUserID), zap.String("device", deviceID))
	return nil
}
