package recovery

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/authstate"
)

type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (e *exitRecorder) exit(code int) {
	e.mu.Lock()
	e.codes = append(e.codes, code)
	e.mu.Unlock()
}

func (e *exitRecorder) calls() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func mustSeedStore(t *testing.T) *authstate.Store {
	t.Helper()
	st := authstate.New(filepath.Join(t.TempDir(), "auth"))
	if err := st.WriteCreds([]byte(`{"me":{"id":"1"}}`)); err != nil {
		t.Fatalf("WriteCreds: %v", err)
	}
	if err := st.WriteKey("session-1", []byte(`{"k":1}`)); err != nil {
		t.Fatalf("WriteKey: %v", err)
	}
	return st
}

func TestHandleFault_CorruptionWipesAndExits(t *testing.T) {
	t.Parallel()

	st := mustSeedStore(t)
	ex := &exitRecorder{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	c := NewController(testLogger(), NewClassifier(nil), st, WithExit(ex.exit), WithMetrics(metrics))

	err := c.HandleFault("primary", errors.New("Bad MAC"))

	var cf *CorruptionFault
	if !errors.As(err, &cf) || cf.Marker != "bad mac" {
		t.Fatalf("expected corruption fault on bad mac, got %v", err)
	}
	if !errors.Is(err, ErrCorruption) {
		t.Fatalf("expected ErrCorruption")
	}
	if got := ex.calls(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected exit(1) once, got %v", got)
	}
	if st.Exists() {
		t.Fatalf("creds must be wiped")
	}
	if _, statErr := os.Stat(st.Dir()); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("store dir must be gone, stat err=%v", statErr)
	}
	if got := testutil.ToFloat64(metrics.wipes); got != 1 {
		t.Fatalf("expected 1 wipe, got %v", got)
	}

	// A second corruption fault does not exit twice.
	c.HandleFault("primary", errors.New("invalid MAC"))
	if got := ex.calls(); len(got) != 1 {
		t.Fatalf("expected a single exit, got %v", got)
	}
}

func TestHandleFault_TransientLeavesStateAlone(t *testing.T) {
	t.Parallel()

	st := mustSeedStore(t)
	ex := &exitRecorder{}
	c := NewController(testLogger(), NewClassifier(nil), st, WithExit(ex.exit))

	err := c.HandleFault("primary", errors.New("network timeout"))

	var tf *TransientFault
	if !errors.As(err, &tf) || !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient fault, got %v", err)
	}
	if len(ex.calls()) != 0 {
		t.Fatalf("transient fault must not exit")
	}
	if !st.Exists() {
		t.Fatalf("transient fault must not wipe")
	}
}

func TestHandleFault_Nil(t *testing.T) {
	t.Parallel()

	ex := &exitRecorder{}
	c := NewController(testLogger(), nil, nil, WithExit(ex.exit))
	if err := c.HandleFault("x", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestClassifier(t *testing.T) {
	t.Parallel()

	def := NewClassifier(nil)
	custom := NewClassifier([]string{" Stream Errored ", ""})

	cases := []struct {
		name string
		c    *Classifier
		msg  string
		want Class
	}{
		{"bad mac mixed case", def, "Error: Bad MAC in decrypt", ClassCorruption},
		{"unsupported state", def, "Unsupported state or unable to authenticate data", ClassCorruption},
		{"no matching sessions", def, "No matching sessions found for message", ClassCorruption},
		{"invalid mac", def, "INVALID MAC", ClassCorruption},
		{"network timeout", def, "network timeout", ClassTransient},
		{"empty", def, "", ClassTransient},
		{"custom marker", custom, "stream errored (conflict)", ClassCorruption},
		{"custom replaces defaults", custom, "Bad MAC", ClassTransient},
	}
	for _, tc := range cases {
		if got, _ := tc.c.ClassifyMessage(tc.msg); got != tc.want {
			t.Fatalf("%s: ClassifyMessage(%q) = %s, want %s", tc.name, tc.msg, got, tc.want)
		}
	}
}

func TestClassifier_TypedFaults(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)

	wrapped := fmt.Errorf("decrypt: %w", &CorruptionFault{Source: "bridge", Marker: "session_desync", Err: errors.New("code 4001")})
	if got, marker := c.Classify(wrapped); got != ClassCorruption || marker != "session_desync" {
		t.Fatalf("typed corruption: got %s %q", got, marker)
	}

	// The class of a typed fault wins over its message.
	transient := &TransientFault{Source: "bridge", Err: errors.New("Bad MAC")}
	if got, _ := c.Classify(transient); got != ClassTransient {
		t.Fatalf("typed transient: got %s", got)
	}
}
