package provision

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/authstate"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/recovery"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/transport"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/security/credtoken"
)

const (
	workDirPerm = 0o700

	minTargetDigits = 7
	maxTargetDigits = 15
)

// Failure reasons recorded on FAILED and EXPIRED records.
const (
	ReasonLoggedOut           = "logged_out"
	ReasonTimeout             = "timeout"
	ReasonShutdown            = "shutdown"
	ReasonPairingRejected     = "pairing_rejected"
	ReasonPairingReadyTimeout = "pairing_ready_timeout"
	ReasonTransportOpen       = "transport_open_failed"
	ReasonNoCredentials       = "no_credentials"
	ReasonCanceled            = "canceled"
	ReasonTransportError      = "transport_error"
	ReasonCallbackPanic       = "callback_panic"
)

// ConsumeStatus is the outcome of CheckAndConsume for a live session.
type ConsumeStatus string

const (
	ConsumeLinked  ConsumeStatus = "LINKED"
	ConsumeWaiting ConsumeStatus = "WAITING"
)

// ProvisionResult is returned by Provision.
type ProvisionResult struct {
	SessionID   string
	Kind        Kind
	PairingCode string
	QRPayload   string
}

// ConsumeResult is returned by CheckAndConsume.
// Token is set only for ConsumeLinked; QRPayload only while waiting on a QR session.
type ConsumeResult struct {
	Status      ConsumeStatus
	SessionID   string
	State       State
	Token       string
	QRPayload   string
	PairingCode string
}

// Manager owns every linking session and its transport connection.
type Manager struct {
	log       *slog.Logger
	cfg       Config
	store     *Store
	transport transport.Transport
	metrics   *Metrics
	audit     Auditor
	faults    FaultReporter
	now       func() time.Time
}

// FaultReporter receives panics recovered from transport callbacks.
// recovery.Boundary satisfies it.
type FaultReporter interface {
	Report(source string, err error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics exports session metrics.
func WithMetrics(m *Metrics) Option {
	return func(mg *Manager) { mg.metrics = m }
}

// WithAuditor records lifecycle events.
func WithAuditor(a Auditor) Option {
	return func(mg *Manager) {
		if a != nil {
			mg.audit = a
		}
	}
}

// WithFaultReporter routes recovered callback panics to r.
func WithFaultReporter(r FaultReporter) Option {
	return func(mg *Manager) { mg.faults = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(mg *Manager) {
		if now != nil {
			mg.now = now
		}
	}
}

// NewManager validates cfg and returns a Manager. A nil store gets a fresh one under cfg.WorkRoot.
func NewManager(log *slog.Logger, cfg Config, store *Store, tr transport.Transport, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, ErrConfig
	}
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = NewStore(cfg.WorkRoot)
	}

	m := &Manager{
		log:       log,
		cfg:       cfg,
		store:     store,
		transport: tr,
		audit:     nopAuditor{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int { return m.store.Len() }

// NormalizeTarget strips formatting from a phone number and validates its length.
func NormalizeTarget(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", invalidInput("target contains invalid characters")
		}
	}
	digits := b.String()
	if len(digits) < minTargetDigits || len(digits) > maxTargetDigits {
		return "", invalidInput("target must have 7 to 15 digits")
	}
	return digits, nil
}

// Provision starts a linking session.
//
// QR sessions return as soon as the transport is open; callers poll with
// CheckAndConsume to read successive QR payloads. Pairing-code sessions block
// until the transport is ready and the code has been issued for target.
func (m *Manager) Provision(ctx context.Context, kind Kind, target string) (ProvisionResult, error) {
	if !kind.valid() {
		return ProvisionResult{}, invalidInput("unknown session kind " + string(kind))
	}

	var err error
	if kind == KindPairingCode {
		target, err = NormalizeTarget(target)
		if err != nil {
			m.metrics.provisioned(kind, "invalid")
			return ProvisionResult{}, err
		}
	} else {
		target = ""
	}

	rec, err := m.store.Create(kind, m.now())
	if err != nil {
		return ProvisionResult{}, err
	}
	rec.target = target
	m.metrics.setActive(m.store.Len())
	m.record(ctx, rec, ActionCreated, StateInitializing, "")

	log := m.log.With("session_id", rec.ID, "kind", string(kind))
	log.Info("link.provision.start")

	if err := os.MkdirAll(rec.WorkDir, workDirPerm); err != nil {
		return ProvisionResult{}, m.abort(ctx, rec, ReasonTransportOpen, err)
	}

	h, err := m.transport.Open(ctx, transport.OpenOptions{SessionID: rec.ID}, m.handlers(rec, log))
	if err != nil {
		return ProvisionResult{}, m.abort(ctx, rec, ReasonTransportOpen, err)
	}
	if !rec.attach(h) {
		// The session went terminal while the transport was opening.
		_ = h.Close()
		return m.afterEarlyTerminal(rec)
	}

	if kind == KindQR {
		m.metrics.provisioned(kind, "started")
		v := rec.view()
		return ProvisionResult{SessionID: rec.ID, Kind: kind, QRPayload: v.QRPayload}, nil
	}

	return m.requestPairingCode(ctx, rec, h, log)
}

func (m *Manager) requestPairingCode(ctx context.Context, rec *Record, h transport.Handle, log *slog.Logger) (ProvisionResult, error) {
	timer := time.NewTimer(m.cfg.PairingReadyTimeout)
	defer timer.Stop()

	select {
	case <-rec.ready:
	case <-ctx.Done():
		return ProvisionResult{}, m.abort(ctx, rec, ReasonCanceled, ctx.Err())
	case <-timer.C:
		return ProvisionResult{}, m.abort(ctx, rec, ReasonPairingReadyTimeout, nil)
	}

	if rec.State().Terminal() {
		return m.afterEarlyTerminal(rec)
	}

	code, err := h.RequestPairingCode(ctx, rec.target)
	if err != nil {
		log.Warn("link.pairing.rejected", "err", err)
		return ProvisionResult{}, m.abort(ctx, rec, ReasonPairingRejected, err)
	}

	if !rec.setPairingCode(code, m.now()) {
		return m.afterEarlyTerminal(rec)
	}
	m.metrics.transitioned(StateAwaitingInput)
	m.metrics.provisioned(KindPairingCode, "started")
	m.record(ctx, rec, ActionAwaiting, StateAwaitingInput, "")
	log.Info("link.pairing.code_issued")

	return ProvisionResult{SessionID: rec.ID, Kind: KindPairingCode, PairingCode: code}, nil
}

// afterEarlyTerminal resolves Provision when the session finished before the caller got an answer.
// A LINKED session is still returned so the caller can consume it.
func (m *Manager) afterEarlyTerminal(rec *Record) (ProvisionResult, error) {
	v := rec.view()
	if v.State == StateLinked {
		m.metrics.provisioned(rec.Kind, "started")
		return ProvisionResult{SessionID: rec.ID, Kind: rec.Kind, PairingCode: v.PairingCode}, nil
	}
	m.store.Remove(rec.ID)
	m.metrics.setActive(m.store.Len())
	m.metrics.provisioned(rec.Kind, "failed")
	return ProvisionResult{}, &ProvisionError{Op: "provision", SessionID: rec.ID, Reason: v.FailureReason}
}

// abort fails a session synchronously on behalf of Provision and drops it from the store.
func (m *Manager) abort(ctx context.Context, rec *Record, reason string, cause error) error {
	m.fail(ctx, rec, reason)
	m.store.Remove(rec.ID)
	m.metrics.setActive(m.store.Len())
	m.metrics.provisioned(rec.Kind, "failed")
	return &ProvisionError{Op: "provision", SessionID: rec.ID, Reason: reason, Err: cause}
}

func (m *Manager) handlers(rec *Record, log *slog.Logger) transport.Handlers {
	work := authstate.New(rec.WorkDir)
	return transport.Handlers{
		OnConnectionUpdate: func(u transport.Update) {
			m.guard(rec, log, "link.connection_update", func() {
				m.onUpdate(rec, work, log, u)
			})
		},
		OnCredentialsUpdate: func(creds json.RawMessage) {
			m.guard(rec, log, "link.creds_update", func() {
				rec.noteCreds(creds)
				if err := rec.persist(func() error { return work.WriteCreds(creds) }); err != nil {
					log.Warn("link.creds.persist.fail", "err", err)
				}
			})
		},
		OnKeysUpdate: func(name string, data json.RawMessage) {
			m.guard(rec, log, "link.keys_update", func() {
				if err := rec.persist(func() error { return work.WriteKey(name, data) }); err != nil {
					log.Warn("link.keys.persist.fail", "name", name, "err", err)
				}
			})
		},
	}
}

// guard runs a transport callback. A panic fails the session and is handed to
// the fault reporter instead of unwinding the transport's goroutine.
func (m *Manager) guard(rec *Record, log *slog.Logger, source string, fn func()) {
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		perr := &recovery.PanicError{Value: v, Stack: debug.Stack()}
		log.Error("link.callback.panic", "source", source, "err", perr)
		m.fail(context.Background(), rec, ReasonCallbackPanic)
		if m.faults != nil {
			m.faults.Report(source, perr)
		}
	}()
	fn()
}

func (m *Manager) onUpdate(rec *Record, work *authstate.Store, log *slog.Logger, u transport.Update) {
	if u.Err != nil {
		log.Warn("link.transport.fault", "err", u.Err)
		if u.Connection != transport.StateClose {
			m.fail(context.Background(), rec, ReasonTransportError)
			return
		}
	}

	if u.QR != "" {
		if rec.Kind == KindQR {
			if first, ok := rec.setQR(u.QR, m.now()); ok && first {
				m.metrics.transitioned(StateAwaitingInput)
				m.record(context.Background(), rec, ActionAwaiting, StateAwaitingInput, "")
				log.Info("link.qr.first")
			}
		}
		rec.markReady()
	}

	switch u.Connection {
	case transport.StateConnecting:
		rec.markReady()
	case transport.StateOpen:
		m.link(rec, work, log)
	case transport.StateClose:
		reason := u.Reason.String()
		if u.Reason.LoggedOut() {
			reason = ReasonLoggedOut
		}
		m.fail(context.Background(), rec, reason)
	}
}

// link captures the credential bundle and releases the transport. The work
// directory stays until the token is consumed or the session expires.
func (m *Manager) link(rec *Record, work *authstate.Store, log *slog.Logger) {
	if rec.State().Terminal() {
		return
	}

	raw, err := work.ReadCreds()
	if err != nil {
		if !errors.Is(err, authstate.ErrNoCredentials) {
			log.Warn("link.creds.read.fail", "err", err)
		}
		raw = rec.latestCreds()
	}

	var bundle credtoken.Bundle
	if len(raw) == 0 || json.Unmarshal(raw, &bundle) != nil || bundle == nil {
		m.fail(context.Background(), rec, ReasonNoCredentials)
		return
	}

	now := m.now()
	if _, ok := rec.link(bundle, now); !ok {
		return
	}
	rec.markReady()
	rec.releaseHandle()

	m.metrics.transitioned(StateLinked)
	m.metrics.linked(now.Sub(rec.CreatedAt))
	m.record(context.Background(), rec, ActionLinked, StateLinked, "")
	log.Info("link.linked", "creds_fp", credtoken.Fingerprint(raw))
}

// fail moves a non-terminal session to FAILED and tears it down. The record
// stays in the store so pollers can observe the failure.
func (m *Manager) fail(ctx context.Context, rec *Record, reason string) {
	from, ok := rec.transition(StateFailed, m.now(), reason)
	if !ok {
		return
	}
	rec.markReady()
	m.teardown(rec)

	m.metrics.transitioned(StateFailed)
	m.record(ctx, rec, ActionFailed, StateFailed, reason)
	m.log.Warn("link.failed", "session_id", rec.ID, "kind", string(rec.Kind), "from", string(from), "reason", reason)
}

// teardown releases the transport and deletes the work directory. Safe to repeat.
func (m *Manager) teardown(rec *Record) {
	rec.releaseHandle()
	if err := rec.removeWorkDir(); err != nil {
		m.log.Error("link.workdir.remove.fail", "session_id", rec.ID, "err", err)
	}
}

// Status returns a snapshot of a live session.
func (m *Manager) Status(id string) (StatusView, error) {
	rec, ok := m.store.Get(strings.TrimSpace(id))
	if !ok {
		return StatusView{}, notFound(id)
	}
	return rec.view(), nil
}

// CheckAndConsume hands out the token of a LINKED session exactly once.
//
// Live sessions report ConsumeWaiting with the latest QR payload. Failed and
// expired sessions are removed and reported as *ProvisionError. Unknown or
// already consumed ids return ErrNotFound.
func (m *Manager) CheckAndConsume(ctx context.Context, id string) (ConsumeResult, error) {
	id = strings.TrimSpace(id)
	rec, found, taken := m.store.Take(id, func(r *Record) bool {
		return r.State().Terminal()
	})
	if !found {
		return ConsumeResult{}, notFound(id)
	}

	if !taken {
		v := rec.view()
		return ConsumeResult{
			Status:      ConsumeWaiting,
			SessionID:   v.SessionID,
			State:       v.State,
			QRPayload:   v.QRPayload,
			PairingCode: v.PairingCode,
		}, nil
	}

	m.metrics.setActive(m.store.Len())
	state := rec.State()
	bundle := rec.takeBundle()
	m.teardown(rec)

	if state != StateLinked {
		v := rec.view()
		return ConsumeResult{}, &ProvisionError{Op: "consume", SessionID: id, Reason: v.FailureReason}
	}

	token, err := credtoken.Encode(bundle)
	if err != nil {
		return ConsumeResult{}, &ProvisionError{Op: "consume", SessionID: id, Reason: "encode", Err: err}
	}

	m.metrics.tokenConsumed()
	m.record(ctx, rec, ActionConsumed, StateLinked, "")
	m.log.Info("link.consumed", "session_id", id, "kind", string(rec.Kind))

	return ConsumeResult{Status: ConsumeLinked, SessionID: id, State: StateLinked, Token: token}, nil
}

// Shutdown tears down every live session. It returns ctx.Err() if teardown
// did not finish in time; records are already out of the store either way.
func (m *Manager) Shutdown(ctx context.Context) error {
	recs := m.store.Drain()
	m.metrics.setActive(0)
	if len(recs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, rec := range recs {
		wg.Add(1)
		go func(rec *Record) {
			defer wg.Done()
			if _, ok := rec.transition(StateExpired, m.now(), ReasonShutdown); ok {
				m.metrics.transitioned(StateExpired)
			}
			rec.markReady()
			m.teardown(rec)
		}(rec)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("link.shutdown", "sessions", len(recs))
		return nil
	case <-ctx.Done():
		m.log.Warn("link.shutdown.timeout", "sessions", len(recs))
		return ctx.Err()
	}
}

func (m *Manager) record(ctx context.Context, rec *Record, action string, state State, reason string) {
	m.audit.Record(ctx, Event{
		SessionID: rec.ID,
		Kind:      rec.Kind,
		Action:    action,
		State:     state,
		Reason:    reason,
		At:        m.now(),
	})
}
