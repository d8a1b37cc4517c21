package recovery

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Wiper deletes persisted credential state.
type Wiper interface {
	Wipe() error
}

// Controller acts on classified faults.
type Controller struct {
	log        *slog.Logger
	classifier *Classifier
	state      Wiper
	exit       func(code int)
	metrics    *Metrics

	fatalOnce sync.Once
}

// Option configures a Controller.
type Option func(*Controller)

// WithExit replaces os.Exit.
func WithExit(exit func(code int)) Option {
	return func(c *Controller) {
		if exit != nil {
			c.exit = exit
		}
	}
}

// WithMetrics counts faults.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController returns a Controller that wipes state on corruption.
func NewController(log *slog.Logger, classifier *Classifier, state Wiper, opts ...Option) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	c := &Controller{
		log:        log,
		classifier: classifier,
		state:      state,
		exit:       os.Exit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// HandleFault classifies err and acts on it. Corruption wipes the persisted
// state and exits with status 1, once per process. The returned fault is a
// *CorruptionFault or a *TransientFault; nil err returns nil.
func (c *Controller) HandleFault(source string, err error) error {
	if err == nil {
		return nil
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = "unknown"
	}

	class, marker := c.classifier.Classify(err)
	c.metrics.fault(class, source)

	if class != ClassCorruption {
		c.log.Warn("recovery.transient", "source", source, "err", err)
		return &TransientFault{Source: source, Err: err}
	}

	fault := &CorruptionFault{Source: source, Marker: marker, Err: err}
	c.fatalOnce.Do(func() {
		c.log.Error("recovery.corruption", "source", source, "marker", marker, "err", err)

		if c.state != nil {
			if werr := c.state.Wipe(); werr != nil {
				c.log.Error("recovery.wipe.fail", "err", werr)
			} else {
				c.metrics.wiped()
				c.log.Warn("recovery.state.wiped")
			}
		}

		c.log.Error("recovery.fresh_session_required",
			"hint", "link the device again and restart with a new TITAN_SESSION_ID")
		c.exit(1)
	})
	return fault
}
