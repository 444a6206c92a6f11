package main

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/spabook/libs/config"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
)

type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"booking-service"`
	Port        string `env:"PORT" envDefault:"8083"`

	DatabaseURL     string        `env:"DATABASE_URL"`
	DBMaxConns      int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBLockTimeout   time.Duration `env:"DB_LOCK_TIMEOUT" envDefault:"3s"`
	RedisURL        string        `env:"REDIS_URL"`
	KafkaBrokers    string        `env:"KAFKA_BROKERS"`
	KafkaGroupID    string        `env:"KAFKA_GROUP_ID" envDefault:"booking-service"`
	OutboxPollEvery time.Duration `env:"OUTBOX_POLL_EVERY" envDefault:"2s"`
	SeedDemoData    bool          `env:"SEED_DEMO_DATA" envDefault:"true"`

	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	RateLimit       int           `env:"PUBLIC_RATE_LIMIT" envDefault:"120"`
	RateLimitWindow time.Duration `env:"PUBLIC_RATE_LIMIT_WINDOW" envDefault:"1m"`

	BufferMinutes          int           `env:"BUFFER_MINUTES" envDefault:"15"`
	SlotGranularityMinutes int           `env:"SLOT_GRANULARITY_MINUTES" envDefault:"15"`
	MinimumAdvanceMinutes  int           `env:"MINIMUM_ADVANCE_MINUTES" envDefault:"30"`
	LowSupervisionCapacity int           `env:"LOW_SUPERVISION_CAPACITY" envDefault:"0"`
	ClientLimit            int           `env:"CLIENT_ACTIVE_LIMIT" envDefault:"1"`
	VIPLimit               int           `env:"VIP_ACTIVE_LIMIT" envDefault:"4"`
	RescheduleLimit        int           `env:"RESCHEDULE_LIMIT" envDefault:"2"`
	RescheduleNotice       time.Duration `env:"RESCHEDULE_NOTICE" envDefault:"24h"`
	CancellationNotice     time.Duration `env:"CANCELLATION_NOTICE" envDefault:"24h"`
	LockTTL                time.Duration `env:"LOCK_TTL" envDefault:"5s"`
	LockWait               time.Duration `env:"LOCK_WAIT" envDefault:"2s"`
	Timezone               string        `env:"TIMEZONE" envDefault:"UTC"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := config.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if err := config.ValidatePort("PORT", cfg.Port); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Settings builds the base business settings; stored overrides are layered on at load time.
func (c Config) Settings() (settings.Settings, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("TIMEZONE: %w", err)
	}
	s := settings.Settings{
		Buffer:                 time.Duration(c.BufferMinutes) * time.Minute,
		SlotGranularity:        time.Duration(c.SlotGranularityMinutes) * time.Minute,
		MinimumAdvance:         time.Duration(c.MinimumAdvanceMinutes) * time.Minute,
		LowSupervisionCapacity: c.LowSupervisionCapacity,
		RoleLimits: map[model.Role]int{
			model.RoleClient: c.ClientLimit,
			model.RoleVIP:    c.VIPLimit,
		},
		RescheduleLimit:    c.RescheduleLimit,
		RescheduleNotice:   c.RescheduleNotice,
		CancellationNotice: c.CancellationNotice,
		LockTTL:            c.LockTTL,
		LockWait:           c.LockWait,
		Location:           loc,
	}
	return s, s.Validate()
}
