package provision

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	ActionCreated  = "link.created"
	ActionAwaiting = "link.awaiting_input"
	ActionLinked   = "link.linked"
	ActionFailed   = "link.failed"
	ActionExpired  = "link.expired"
	ActionConsumed = "link.consumed"
)

// Event is one audited lifecycle step. It never carries credential material.
type Event struct {
	SessionID string
	Kind      Kind
	Action    string
	State     State
	Reason    string
	At        time.Time
}

// Auditor records lifecycle events. Implementations must not block the caller for long.
type Auditor interface {
	Record(ctx context.Context, ev Event)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, Event) {}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultAuditSchema  = "titan"
	defaultAuditTimeout = 2 * time.Second
)

// PostgresAuditor appends events to <schema>.link_audit.
//
// Expected table:
//
//	CREATE TABLE titan.link_audit (
//	  id          bigserial PRIMARY KEY,
//	  session_id  text NOT NULL,
//	  kind        text NOT NULL,
//	  action      text NOT NULL,
//	  state       text NOT NULL,
//	  created_at  timestamptz NOT NULL,
//	  meta        jsonb
//	);
type PostgresAuditor struct {
	log     *slog.Logger
	pool    *pgxpool.Pool
	table   string
	timeout time.Duration
}

// PostgresAuditorOption configures a PostgresAuditor.
type PostgresAuditorOption func(*PostgresAuditor) error

// WithAuditSchema overrides the schema (default "titan").
func WithAuditSchema(schema string) PostgresAuditorOption {
	return func(a *PostgresAuditor) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRE.MatchString(schema) {
			return ErrConfig
		}
		a.table = pgx.Identifier{schema, "link_audit"}.Sanitize()
		return nil
	}
}

// NewPostgresAuditor constructs an auditor over an app-owned pool.
func NewPostgresAuditor(log *slog.Logger, pool *pgxpool.Pool, opts ...PostgresAuditorOption) (*PostgresAuditor, error) {
	if pool == nil {
		return nil, ErrConfig
	}
	if log == nil {
		log = slog.Default()
	}

	a := &PostgresAuditor{
		log:     log,
		pool:    pool,
		table:   pgx.Identifier{defaultAuditSchema, "link_audit"}.Sanitize(),
		timeout: defaultAuditTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Record inserts ev. Failures are logged, never returned.
func (a *PostgresAuditor) Record(ctx context.Context, ev Event) {
	if a == nil || a.pool == nil || ev.SessionID == "" || ev.Action == "" {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	var meta *string
	if ev.Reason != "" {
		if b, err := json.Marshal(map[string]any{"reason": ev.Reason}); err == nil {
			s := string(b)
			meta = &s
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	_, err := a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (
			session_id, kind, action, state, created_at, meta
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, ev.SessionID, string(ev.Kind), ev.Action, string(ev.State), ev.At, meta)
	if err != nil {
		a.log.Error("link.audit.insert.fail", "err", err, "action", ev.Action, "session_id", ev.SessionID)
	}
}
