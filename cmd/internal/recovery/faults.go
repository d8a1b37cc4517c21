package recovery

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruption marks faults that invalidate the persisted credential state.
	ErrCorruption = errors.New("credential state corrupted")

	// ErrTransient marks faults the process survives.
	ErrTransient = errors.New("transient fault")
)

// CorruptionFault is a fault whose message matched a corruption marker.
type CorruptionFault struct {
	Source string
	Marker string
	Err    error
}

func (f *CorruptionFault) Error() string {
	return fmt.Sprintf("recovery: %s: %v (%q): %v", f.Source, ErrCorruption, f.Marker, f.Err)
}

func (f *CorruptionFault) Unwrap() []error { return []error{ErrCorruption, f.Err} }

// TransientFault is any other fault.
type TransientFault struct {
	Source string
	Err    error
}

func (f *TransientFault) Error() string {
	return fmt.Sprintf("recovery: %s: %v", f.Source, f.Err)
}

func (f *TransientFault) Unwrap() []error { return []error{ErrTransient, f.Err} }

// PanicError carries a recovered panic value.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Unwrap exposes a panicked error value.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
