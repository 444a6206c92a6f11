// Package settings holds the business configuration read at the start of every operation.
package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
)

type Settings struct {
	Buffer                 time.Duration
	SlotGranularity        time.Duration
	MinimumAdvance         time.Duration
	LowSupervisionCapacity int // 0 disables the limiter
	RoleLimits             map[model.Role]int
	RescheduleLimit        int
	RescheduleNotice       time.Duration
	CancellationNotice     time.Duration
	LockTTL                time.Duration
	LockWait               time.Duration
	Location               *time.Location
}

func Defaults() Settings {
	return Settings{
		Buffer:                 15 * time.Minute,
		SlotGranularity:        15 * time.Minute,
		MinimumAdvance:         30 * time.Minute,
		LowSupervisionCapacity: 0,
		RoleLimits: map[model.Role]int{
			model.RoleClient: 1,
			model.RoleVIP:    4,
		},
		RescheduleLimit:    2,
		RescheduleNotice:   24 * time.Hour,
		CancellationNotice: 24 * time.Hour,
		LockTTL:            5 * time.Second,
		LockWait:           2 * time.Second,
		Location:           time.UTC,
	}
}

// RoleLimit returns the active-appointment ceiling for role; ok is false when the role is unlimited.
func (s Settings) RoleLimit(role model.Role) (int, bool) {
	n, ok := s.RoleLimits[role]
	return n, ok
}

func (s Settings) Validate() error {
	if s.Buffer < 0 {
		return fmt.Errorf("buffer must not be negative")
	}
	if s.SlotGranularity <= 0 {
		return fmt.Errorf("slot granularity must be positive")
	}
	if s.MinimumAdvance < 0 {
		return fmt.Errorf("minimum advance must not be negative")
	}
	if s.LowSupervisionCapacity < 0 {
		return fmt.Errorf("low supervision capacity must not be negative")
	}
	if s.LockTTL <= 0 {
		return fmt.Errorf("lock ttl must be positive")
	}
	if s.Location == nil {
		return fmt.Errorf("location is required")
	}
	return nil
}

type Provider interface {
	Load(ctx context.Context) (Settings, error)
}

// Static always returns the same settings.
type Static struct {
	Settings Settings
}

func (s Static) Load(context.Context) (Settings, error) {
	return s.Settings.clone(), nil
}

// Overrides are the columns of the global_settings row; nil fields keep the base value.
type Overrides struct {
	BufferMinutes          *int
	LowSupervisionCapacity *int
	ClientLimit            *int
	VIPLimit               *int
}

type OverrideSource interface {
	SettingsOverrides(ctx context.Context) (Overrides, bool, error)
}

// Layered applies the stored overrides on top of Base on every Load.
type Layered struct {
	Base   Settings
	Source OverrideSource
}

func (l Layered) Load(ctx context.Context) (Settings, error) {
	s := l.Base.clone()
	o, ok, err := l.Source.SettingsOverrides(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return s, nil
	}
	if o.BufferMinutes != nil {
		s.Buffer = time.Duration(*o.BufferMinutes) * time.Minute
	}
	if o.LowSupervisionCapacity != nil {
		s.LowSupervisionCapacity = *o.LowSupervisionCapacity
	}
	if o.ClientLimit != nil {
		s.RoleLimits[model.RoleClient] = *o.ClientLimit
	}
	if o.VIPLimit != nil {
		s.RoleLimits[model.RoleVIP] = *o.VIPLimit
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("stored settings: %w", err)
	}
	return s, nil
}

func (s Settings) clone() Settings {
	limits := make(map[model.Role]int, len(s.RoleLimits))
	for k, v := range s.RoleLimits {
		limits[k] = v
	}
	s.RoleLimits = limits
	return s
}
