package provision

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config controls session lifetimes and where per-session auth state lives.
type Config struct {
	// WorkRoot holds one directory per live session.
	WorkRoot string

	// SessionTimeout bounds the lifetime of every record.
	SessionTimeout time.Duration

	// SweepInterval is how often expired records are torn down. Must be shorter than SessionTimeout.
	SweepInterval time.Duration

	// PairingReadyTimeout bounds the wait for the transport before a pairing code is requested.
	PairingReadyTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		WorkRoot:            filepath.Join(os.TempDir(), "titan-link"),
		SessionTimeout:      5 * time.Minute,
		SweepInterval:       30 * time.Second,
		PairingReadyTimeout: 20 * time.Second,
	}
}

// LoadConfigFromEnv loads Config from environment variables.
//
// Optional:
//   - TITAN_LINK_WORK_ROOT
//   - TITAN_LINK_SESSION_TIMEOUT
//   - TITAN_LINK_SWEEP_INTERVAL
//   - TITAN_LINK_PAIRING_READY_TIMEOUT
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("TITAN_LINK_WORK_ROOT")); v != "" {
		cfg.WorkRoot = v
	}

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"TITAN_LINK_SESSION_TIMEOUT", &cfg.SessionTimeout},
		{"TITAN_LINK_SWEEP_INTERVAL", &cfg.SweepInterval},
		{"TITAN_LINK_PAIRING_READY_TIMEOUT", &cfg.PairingReadyTimeout},
	} {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants between fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.WorkRoot) == "" {
		return ErrConfig
	}
	if c.SessionTimeout <= 0 || c.SweepInterval <= 0 || c.PairingReadyTimeout <= 0 {
		return ErrConfig
	}
	if c.SweepInterval >= c.SessionTimeout {
		return ErrConfig
	}
	return nil
}
