// Package registry records thin-client devices by hardware identity and keeps
// the address reservation table in step with them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"thinfleet/internal/database"
	"thinfleet/internal/metrics"
	"thinfleet/pkg/models"
)

// Reserver pins a MAC address to an IP address in the reservation service
type Reserver interface {
	Reserve(ctx context.Context, mac, ip string) error
}

// DeviceInfo is the input of a registration
type DeviceInfo struct {
	MACAddress      string
	DeviceID        string
	IPAddress       string
	Hostname        string
	HardwareProfile map[string]any
	Location        string
	AssignedUser    string
}

// RegisterResult reports the outcome of a registration
type RegisterResult struct {
	Success    bool             `json:"success"`
	DeviceID   string           `json:"device_id"`
	MACAddress string           `json:"mac_address"`
	Created    bool             `json:"created"`
	Warnings   []models.Warning `json:"warnings,omitempty"`
}

// HeartbeatInfo carries what an agent reports about itself
type HeartbeatInfo struct {
	IPAddress       string
	Hostname        string
	HardwareProfile map[string]any
}

// Registry manages device records
type Registry struct {
	devices  database.DeviceRepository
	reserver Reserver
	now      func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithReserver enables reservation sync on registration
func WithReserver(r Reserver) Option {
	return func(reg *Registry) {
		reg.reserver = r
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(reg *Registry) {
		reg.now = now
	}
}

// New creates a device registry
func New(devices database.DeviceRepository, opts ...Option) *Registry {
	r := &Registry{
		devices: devices,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates the device or updates the record bound to its MAC.
// A reservation failure does not fail the registration; it is returned as a warning.
func (r *Registry) Register(ctx context.Context, info DeviceInfo) (result *RegisterResult, err error) {
	defer func() {
		metrics.DeviceRegistrationsTotal.WithLabelValues(metrics.Result(err)).Inc()
	}()

	mac, err := NormalizeMAC(info.MACAddress)
	if err != nil {
		return nil, err
	}

	ip := strings.TrimSpace(info.IPAddress)
	if ip != "" && net.ParseIP(ip) == nil {
		return nil, fmt.Errorf("invalid ip address %q: %w", info.IPAddress, models.ErrValidation)
	}

	deviceID := strings.TrimSpace(info.DeviceID)
	if deviceID != "" {
		if err := ValidateDeviceID(deviceID); err != nil {
			return nil, err
		}
	} else {
		deviceID, err = r.resolveID(ctx, mac)
		if err != nil {
			return nil, err
		}
	}

	now := r.now().UTC()
	stored, created, err := r.devices.Upsert(ctx, &models.Device{
		DeviceID:        deviceID,
		MACAddress:      mac,
		IPAddress:       ip,
		Hostname:        strings.TrimSpace(info.Hostname),
		HardwareProfile: info.HardwareProfile,
		Location:        strings.TrimSpace(info.Location),
		AssignedUser:    strings.TrimSpace(info.AssignedUser),
		Status:          models.DeviceStatusRegistered,
		LastSeen:        now,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store device %s: %w", deviceID, err)
	}

	result = &RegisterResult{
		Success:    true,
		DeviceID:   stored.DeviceID,
		MACAddress: stored.MACAddress,
		Created:    created,
	}

	if ip != "" && r.reserver != nil {
		if err := r.reserver.Reserve(ctx, mac, ip); err != nil {
			stage := "reload"
			if errors.Is(err, models.ErrIO) {
				stage = "write"
			}
			metrics.ReservationSyncFailuresTotal.WithLabelValues(stage).Inc()
			log.Warn().Err(err).
				Str("device_id", stored.DeviceID).
				Str("mac", mac).
				Str("ip", ip).
				Msg("Failed to update address reservation")
			result.Warnings = append(result.Warnings, models.Warning{
				Kind:    models.KindExternalEffect,
				Message: err.Error(),
			})
		}
	}

	log.Info().
		Str("device_id", stored.DeviceID).
		Str("mac", mac).
		Bool("created", created).
		Msg("Device registered")

	return result, nil
}

// resolveID reuses the id already bound to mac, falling back to the MAC derived id
func (r *Registry) resolveID(ctx context.Context, mac string) (string, error) {
	existing, err := r.devices.GetByMAC(ctx, mac)
	switch {
	case err == nil:
		return existing.DeviceID, nil
	case errors.Is(err, models.ErrNotFound):
		return DeviceIDFromMAC(mac), nil
	default:
		return "", err
	}
}

// Get returns a device by id
func (r *Registry) Get(ctx context.Context, deviceID string) (*models.Device, error) {
	return r.devices.Get(ctx, deviceID)
}

// List returns devices newest first, optionally filtered by status
func (r *Registry) List(ctx context.Context, status string) ([]*models.Device, error) {
	s := models.DeviceStatus(strings.TrimSpace(status))
	if s != "" && !s.Valid() {
		return nil, fmt.Errorf("unknown device status %q: %w", status, models.ErrValidation)
	}
	return r.devices.List(ctx, s)
}

// Touch records an agent heartbeat
func (r *Registry) Touch(ctx context.Context, deviceID string, info HeartbeatInfo) error {
	ip := strings.TrimSpace(info.IPAddress)
	if ip != "" && net.ParseIP(ip) == nil {
		// agents report whatever the OS gives them; keep the previous address
		log.Debug().Str("device_id", deviceID).Str("ip", ip).Msg("Ignoring unparsable heartbeat address")
		ip = ""
	}

	return r.devices.Touch(ctx, deviceID, database.DeviceSeen{
		At:              r.now().UTC(),
		IPAddress:       ip,
		Hostname:        strings.TrimSpace(info.Hostname),
		HardwareProfile: info.HardwareProfile,
	})
}

// SetStatus advances the device status. Nil image pointers leave the stored value unchanged;
// a pointer to "" clears it.
func (r *Registry) SetStatus(ctx context.Context, deviceID string, status models.DeviceStatus, currentImage, targetImage *string) error {
	if !status.Valid() {
		return fmt.Errorf("unknown device status %q: %w", status, models.ErrValidation)
	}

	err := r.devices.UpdateState(ctx, deviceID, database.DeviceState{
		Status:       status,
		CurrentImage: currentImage,
		TargetImage:  targetImage,
		At:           r.now().UTC(),
	})
	if err != nil {
		return err
	}

	log.Debug().Str("device_id", deviceID).Str("status", string(status)).Msg("Device status updated")
	return nil
}
