package provision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/transport"
)

type fakeTransport struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle

	openErr error
	code    string
	codeErr error

	// onOpen runs inside Open, before the handle is returned.
	onOpen func(h *fakeHandle)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handles: make(map[string]*fakeHandle), code: "ABCD-1234"}
}

func (f *fakeTransport) Open(_ context.Context, opts transport.OpenOptions, h transport.Handlers) (transport.Handle, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	fh := &fakeHandle{sessionID: opts.SessionID, handlers: h, tr: f}

	f.mu.Lock()
	f.handles[opts.SessionID] = fh
	onOpen := f.onOpen
	f.mu.Unlock()

	if onOpen != nil {
		onOpen(fh)
	}
	return fh, nil
}

func (f *fakeTransport) handle(t *testing.T, id string) *fakeHandle {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[id]
	if !ok {
		t.Fatalf("no transport opened for %s", id)
	}
	return h
}

type fakeHandle struct {
	sessionID string
	handlers  transport.Handlers
	tr        *fakeTransport

	mu     sync.Mutex
	closes int
	phone  string
}

func (h *fakeHandle) RequestPairingCode(_ context.Context, phone string) (string, error) {
	h.mu.Lock()
	h.phone = phone
	h.mu.Unlock()
	if h.tr.codeErr != nil {
		return "", h.tr.codeErr
	}
	return h.tr.code, nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return nil
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

func (h *fakeHandle) requestedPhone() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phone
}

func (h *fakeHandle) emit(u transport.Update) { h.handlers.OnConnectionUpdate(u) }

func (h *fakeHandle) emitCreds(raw string) { h.handlers.OnCredentialsUpdate(json.RawMessage(raw)) }

func (h *fakeHandle) emitKeys(name, raw string) {
	h.handlers.OnKeysUpdate(name, json.RawMessage(raw))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		WorkRoot:            t.TempDir(),
		SessionTimeout:      10 * time.Minute,
		SweepInterval:       time.Minute,
		PairingReadyTimeout: time.Second,
	}
}

func mustNewManager(t *testing.T, cfg Config, tr transport.Transport, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(testLogger(), cfg, nil, tr, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

var errBridgeRejected = errors.New("bridge: number not registered")
