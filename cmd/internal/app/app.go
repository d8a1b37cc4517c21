// Package app wires the titan runtime: config, logging, the bootstrap
// reconciler, the linking session manager, the primary connection, the
// recovery boundary and the ambient HTTP surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/authstate"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/bootstrap"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/provision"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/recovery"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/transport"
)

// App owns every long-lived component of the process.
type App struct {
	cfg Config
	log Logger

	dbPool   *pgxpool.Pool
	registry *prometheus.Registry

	auth     *authstate.Store
	boundary *recovery.Boundary
	linker   *provision.Manager
	primary  *Primary
}

// Option customizes New; used by tests and embedders.
type Option func(*options)

type options struct {
	transport transport.Transport
	exit      func(int)
}

// WithTransport replaces the bridge transport.
func WithTransport(tr transport.Transport) Option {
	return func(o *options) { o.transport = tr }
}

// WithExit replaces os.Exit for corruption faults.
func WithExit(exit func(int)) Option {
	return func(o *options) { o.exit = exit }
}

// New constructs a fully wired App from config and logger.
func New(cfg Config, log Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}
	if err := ValidateStartup(cfg); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	var reg *prometheus.Registry
	var linkMetrics *provision.Metrics
	var faultMetrics *recovery.Metrics
	if cfg.MetricsEnabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		linkMetrics = provision.NewMetrics(reg)
		faultMetrics = recovery.NewMetrics(reg)
	}

	auth := authstate.New(cfg.AuthDir)

	controller := recovery.NewController(log, recovery.NewClassifier(cfg.FaultMarkers), auth,
		recovery.WithExit(o.exit),
		recovery.WithMetrics(faultMetrics),
	)
	boundary := recovery.NewBoundary(controller)

	tr := o.transport
	if tr == nil {
		if strings.TrimSpace(cfg.Bridge.URL) == "" {
			log.Warn("bridge.disabled", "hint", "set TITAN_BRIDGE_URL to link devices")
		}
		tr = transport.NewWSTransport(log, cfg.Bridge)
	}

	var pool *pgxpool.Pool
	auditor := provision.Auditor(nil)
	if cfg.DatabaseURL != "" {
		p, a, err := openAudit(context.Background(), log, cfg)
		if err != nil {
			return nil, err
		}
		pool, auditor = p, a
		log.Info("db.enabled.link_audit", "schema", auditSchema(cfg))
	} else {
		log.Info("db.disabled.audit_off")
	}

	linker, err := provision.NewManager(log, cfg.Link, nil, tr,
		provision.WithMetrics(linkMetrics),
		provision.WithAuditor(auditor),
		provision.WithFaultReporter(boundary),
	)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	var primary *Primary
	if cfg.PrimaryEnabled {
		primary = NewPrimary(log, tr, auth, boundary, cfg.PrimaryReconnectDelay)
	}

	return &App{
		cfg:      cfg,
		log:      log,
		dbPool:   pool,
		registry: reg,
		auth:     auth,
		boundary: boundary,
		linker:   linker,
		primary:  primary,
	}, nil
}

// Linker exposes the linking session manager to embedders.
func (a *App) Linker() *provision.Manager { return a.linker }

// Run reconciles the persisted credentials, starts background work and the
// HTTP server, and blocks until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	res, err := bootstrap.Reconcile(ctx, a.log, a.auth, a.cfg.SessionToken)
	if err != nil {
		return err
	}
	a.log.Info("bootstrap.done", "outcome", string(res.Outcome), "dir", a.auth.Dir())

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	a.boundary.Go("link.sweeper", func() error { return a.linker.Run(runCtx) })
	if a.primary != nil {
		a.boundary.Go("primary", func() error { return a.primary.Run(runCtx) })
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.readiness(), a.registry)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithSecurityHeaders(WithRequestLogging(mux, a.log)),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbPool != nil, "primary_enabled", a.primary != nil)

	errCh := make(chan error, 1)
	a.boundary.Go("http.server", func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		return nil
	})

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	stop()
	if err := a.linker.Shutdown(shutdownCtx); err != nil {
		a.log.Error("link.shutdown.fail", "err", err)
	}
	a.boundary.Wait()

	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return runErr
}

func (a *App) readiness() readiness {
	r := readiness{requireDB: a.cfg.ReadinessRequireDB}
	if a.dbPool != nil {
		pool := a.dbPool
		r.ping = func(ctx context.Context) error { return PingDB(ctx, pool, 2*time.Second) }
	}
	return r
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
