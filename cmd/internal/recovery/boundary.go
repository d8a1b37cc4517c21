package recovery

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
)

// Boundary is the top-level error boundary. Task errors, callback errors and
// recovered panics all end up in Controller.HandleFault.
type Boundary struct {
	c  *Controller
	wg sync.WaitGroup
}

// NewBoundary returns a Boundary feeding c.
func NewBoundary(c *Controller) *Boundary {
	return &Boundary{c: c}
}

// Go runs fn on its own goroutine. A returned error other than context
// cancellation, or a panic, is reported under name.
func (b *Boundary) Go(name string, fn func() error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.recoverPanic(name)

		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			b.c.HandleFault(name, err)
		}
	}()
}

// Protect runs fn synchronously and reports a panic instead of propagating it.
func (b *Boundary) Protect(name string, fn func()) {
	defer b.recoverPanic(name)
	fn()
}

// Report routes an error raised inside a callback. Nil is ignored.
func (b *Boundary) Report(source string, err error) {
	if err == nil {
		return
	}
	b.c.HandleFault(source, err)
}

// Wait blocks until every task started by Go has returned.
func (b *Boundary) Wait() {
	b.wg.Wait()
}

func (b *Boundary) recoverPanic(name string) {
	if v := recover(); v != nil {
		b.c.HandleFault(name, &PanicError{Value: v, Stack: debug.Stack()})
	}
}
