package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/provision"
)

const (
	dbApplicationName  = "titan"
	defaultAuditSchema = "titan"
	auditTable         = "link_audit"
)

// ErrAuditTableMissing is returned when the link audit table has not been migrated.
var ErrAuditTableMissing = errors.New("link audit table missing")

// auditPoolConfig parses the database URL and applies pool bounds.
func auditPoolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: TITAN_DATABASE_URL: %w", ErrConfig, err)
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 && cfg.DBMinConns <= pcfg.MaxConns {
		pcfg.MinConns = cfg.DBMinConns
	}
	if pcfg.ConnConfig.RuntimeParams == nil {
		pcfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if pcfg.ConnConfig.RuntimeParams["application_name"] == "" {
		pcfg.ConnConfig.RuntimeParams["application_name"] = dbApplicationName
	}
	return pcfg, nil
}

func auditSchema(cfg Config) string {
	if s := strings.TrimSpace(cfg.AuditSchema); s != "" {
		return s
	}
	return defaultAuditSchema
}

// NewDBPool builds the audit pool and validates connectivity.
// Schema lives in migrations/ and is applied out of band.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := auditPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// CheckAuditTable verifies that <schema>.link_audit exists.
func CheckAuditTable(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	name := pgx.Identifier{schema, auditTable}.Sanitize()
	var found *string
	if err := pool.QueryRow(ctx, `SELECT to_regclass($1)::text`, name).Scan(&found); err != nil {
		return fmt.Errorf("check %s: %w", name, err)
	}
	if found == nil {
		return fmt.Errorf("%w: %s (apply migrations/0001_link_audit.sql)", ErrAuditTableMissing, name)
	}
	return nil
}

// openAudit connects to the database and returns the pool with an auditor
// writing into it. The pool is closed on any error.
func openAudit(ctx context.Context, log *slog.Logger, cfg Config) (*pgxpool.Pool, *provision.PostgresAuditor, error) {
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	schema := auditSchema(cfg)
	a, err := provision.NewPostgresAuditor(log, pool, provision.WithAuditSchema(schema))
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("%w: TITAN_AUDIT_SCHEMA %q", ErrConfig, schema)
	}
	if err := CheckAuditTable(ctx, pool, schema); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, a, nil
}

// PingDB checks that a connection can be acquired within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
