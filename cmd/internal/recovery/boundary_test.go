package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestBoundary_GoRoutesPanics(t *testing.T) {
	t.Parallel()

	st := mustSeedStore(t)
	ex := &exitRecorder{}
	b := NewBoundary(NewController(testLogger(), NewClassifier(nil), st, WithExit(ex.exit)))

	b.Go("decrypt", func() error {
		panic(fmt.Errorf("Bad MAC"))
	})
	b.Wait()

	if got := ex.calls(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected exit(1) after corrupt panic, got %v", got)
	}
	if st.Exists() {
		t.Fatalf("state must be wiped after corrupt panic")
	}
}

func TestBoundary_GoTransientAndCanceled(t *testing.T) {
	t.Parallel()

	st := mustSeedStore(t)
	ex := &exitRecorder{}
	b := NewBoundary(NewController(testLogger(), NewClassifier(nil), st, WithExit(ex.exit)))

	b.Go("sweeper", func() error { return context.Canceled })
	b.Go("http", func() error { return errors.New("listen tcp: address already in use") })
	b.Go("worker", func() error { panic("index out of range") })
	b.Wait()

	if len(ex.calls()) != 0 {
		t.Fatalf("transient faults must not exit")
	}
	if !st.Exists() {
		t.Fatalf("transient faults must not wipe")
	}
}

func TestBoundary_ProtectAndReport(t *testing.T) {
	t.Parallel()

	st := mustSeedStore(t)
	ex := &exitRecorder{}
	b := NewBoundary(NewController(testLogger(), NewClassifier(nil), st, WithExit(ex.exit)))

	b.Protect("callback", func() { panic("boom") })
	b.Report("callback", nil)
	if len(ex.calls()) != 0 {
		t.Fatalf("unexpected exit")
	}

	b.Report("primary.update", errors.New("failed to decrypt: No matching sessions"))
	if got := ex.calls(); len(got) != 1 {
		t.Fatalf("expected exit after corrupt report, got %v", got)
	}
}

func TestPanicError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("inner")
	if !errors.Is(&PanicError{Value: inner}, inner) {
		t.Fatalf("PanicError must unwrap error values")
	}
	if (&PanicError{Value: "x"}).Unwrap() != nil {
		t.Fatalf("non-error panic values unwrap to nil")
	}
}
