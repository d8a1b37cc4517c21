package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/provision"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/recovery"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/transport"
)

// ErrConfig is returned for invalid runtime configuration.
var ErrConfig = errors.New("invalid config")

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json | pretty
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	AuditSchema string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	MetricsEnabled bool

	// AuthDir is the persisted credential store of the primary connection.
	AuthDir string

	// SessionToken is the credential token supplied at deploy time.
	SessionToken string

	Link   provision.Config
	Bridge transport.WSConfig

	FaultMarkers []string

	PrimaryEnabled        bool
	PrimaryReconnectDelay time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	link, err := provision.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("%w: link: %w", ErrConfig, err)
	}

	markers := EnvList("TITAN_FAULT_MARKERS", recovery.DefaultMarkers)

	cfg := Config{
		HTTPAddr:  EnvString("TITAN_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("TITAN_LOG_LEVEL", "info"),
		LogFormat: EnvString("TITAN_LOG_FORMAT", "json"),
		LogColor:  EnvBool("TITAN_LOG_COLOR", EnvString("NO_COLOR", "") == ""),

		ReadHeaderTimeout: EnvDuration("TITAN_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TITAN_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TITAN_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TITAN_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("TITAN_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("TITAN_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("TITAN_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TITAN_DB_MIN_CONNS", 0),
		AuditSchema: EnvString("TITAN_AUDIT_SCHEMA", defaultAuditSchema),

		ReadinessRequireDB: EnvBool("TITAN_READINESS_REQUIRE_DB", false),
		MetricsEnabled:     EnvBool("TITAN_METRICS_ENABLED", true),

		AuthDir:      EnvString("TITAN_AUTH_DIR", "./auth_info"),
		SessionToken: EnvString("TITAN_SESSION_ID", ""),

		Link: link,
		Bridge: transport.WSConfig{
			URL:            EnvString("TITAN_BRIDGE_URL", ""),
			Origin:         EnvString("TITAN_BRIDGE_ORIGIN", ""),
			DialTimeout:    EnvDuration("TITAN_BRIDGE_DIAL_TIMEOUT", 10*time.Second),
			WriteTimeout:   EnvDuration("TITAN_BRIDGE_WRITE_TIMEOUT", 5*time.Second),
			RequestTimeout: EnvDuration("TITAN_BRIDGE_REQUEST_TIMEOUT", 30*time.Second),
			Browser:        EnvList("TITAN_BRIDGE_BROWSER", []string{"Titan", "Chrome", "1.0"}),
		},

		FaultMarkers: markers,

		PrimaryEnabled:        EnvBool("TITAN_PRIMARY_ENABLED", true),
		PrimaryReconnectDelay: EnvDuration("TITAN_PRIMARY_RECONNECT_DELAY", 5*time.Second),
	}
	return cfg, nil
}
