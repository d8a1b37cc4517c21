package provision

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/transport"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/security/credtoken"
)

// Kind selects the linking flow.
type Kind string

const (
	KindPairingCode Kind = "PAIRING_CODE"
	KindQR          Kind = "QR"
)

// ParseKind accepts the canonical names plus the short forms used by callers ("pair", "code", "qr").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pairing_code", "pairing-code", "pairing", "pair", "code":
		return KindPairingCode, nil
	case "qr", "qr_code", "qrcode":
		return KindQR, nil
	default:
		return "", invalidInput("unknown session kind " + s)
	}
}

func (k Kind) valid() bool { return k == KindPairingCode || k == KindQR }

// State is the lifecycle state of a session record.
type State string

const (
	StateInitializing  State = "INITIALIZING"
	StateAwaitingInput State = "AWAITING_INPUT"
	StateLinked        State = "LINKED"
	StateExpired       State = "EXPIRED"
	StateFailed        State = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateLinked || s == StateExpired || s == StateFailed
}

// Record is one linking attempt. Mutable fields are guarded by mu and only
// changed by the Manager.
type Record struct {
	ID        string
	Kind      Kind
	CreatedAt time.Time
	WorkDir   string

	mu            sync.Mutex
	state         State
	target        string
	handle        transport.Handle
	released      bool
	qrPayload     string
	pairingCode   string
	bundle        credtoken.Bundle
	lastCreds     json.RawMessage
	failureReason string
	lastUpdateAt  time.Time

	readyOnce sync.Once
	ready     chan struct{}
}

func newRecord(id string, kind Kind, now time.Time, workDir string) *Record {
	return &Record{
		ID:           id,
		Kind:         kind,
		CreatedAt:    now,
		WorkDir:      workDir,
		state:        StateInitializing,
		lastUpdateAt: now,
		ready:        make(chan struct{}),
	}
}

// State returns the current state.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// StatusView is a point-in-time copy of a record for pollers.
type StatusView struct {
	SessionID     string
	Kind          Kind
	State         State
	QRPayload     string
	PairingCode   string
	FailureReason string
	CreatedAt     time.Time
	LastUpdateAt  time.Time
}

func (r *Record) view() StatusView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return StatusView{
		SessionID:     r.ID,
		Kind:          r.Kind,
		State:         r.state,
		QRPayload:     r.qrPayload,
		PairingCode:   r.pairingCode,
		FailureReason: r.failureReason,
		CreatedAt:     r.CreatedAt,
		LastUpdateAt:  r.lastUpdateAt,
	}
}

// transition moves a non-terminal record to `to`. It reports the previous state
// and whether the transition happened.
func (r *Record) transition(to State, now time.Time, reason string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.state
	if from.Terminal() || to == StateInitializing || from == to {
		return from, false
	}
	r.state = to
	r.lastUpdateAt = now
	if to == StateFailed || to == StateExpired {
		r.failureReason = reason
	}
	return from, true
}

// setQR stores a fresh QR challenge; the first one moves the record to AWAITING_INPUT.
func (r *Record) setQR(qr string, now time.Time) (first bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateInitializing:
		r.state = StateAwaitingInput
		first = true
	case StateAwaitingInput:
	default:
		return false, false
	}
	r.qrPayload = qr
	r.lastUpdateAt = now
	return first, true
}

// setPairingCode records the issued code once and moves the record to AWAITING_INPUT.
func (r *Record) setPairingCode(code string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateInitializing || r.pairingCode != "" {
		return false
	}
	r.pairingCode = code
	r.state = StateAwaitingInput
	r.lastUpdateAt = now
	return true
}

// link stores the bundle and moves a non-terminal record to LINKED.
func (r *Record) link(b credtoken.Bundle, now time.Time) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.state
	if from.Terminal() {
		return from, false
	}
	r.state = StateLinked
	r.bundle = b
	r.lastUpdateAt = now
	return from, true
}

func (r *Record) takeBundle() credtoken.Bundle {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bundle
	r.bundle = nil
	return b
}

func (r *Record) noteCreds(raw json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCreds = append(json.RawMessage(nil), raw...)
}

func (r *Record) latestCreds() json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(json.RawMessage(nil), r.lastCreds...)
}

// persist runs fn unless the record already released its transport.
// Writes to the work directory therefore never race its removal.
func (r *Record) persist(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	return fn()
}

// attach binds the transport handle. It fails once the record has been released,
// in which case the caller owns h and must close it.
func (r *Record) attach(h transport.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return false
	}
	r.handle = h
	return true
}

func (r *Record) currentHandle() transport.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle
}

// releaseHandle closes the transport handle at most once.
func (r *Record) releaseHandle() {
	r.mu.Lock()
	h := r.handle
	r.handle = nil
	r.released = true
	r.mu.Unlock()

	if h != nil {
		_ = h.Close()
	}
}

// removeWorkDir deletes the session's auth artifacts. Missing directories are fine.
func (r *Record) removeWorkDir() error {
	if r.WorkDir == "" {
		return nil
	}
	return os.RemoveAll(r.WorkDir)
}

// markReady unblocks pairing-code requests waiting for the transport.
func (r *Record) markReady() {
	r.readyOnce.Do(func() { close(r.ready) })
}
