// Package transport defines the messaging transport contract consumed by the
// linking subsystem and the primary connection, plus a WebSocket client for
// an external linking bridge that implements the wire protocol.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// ConnectionState is the lifecycle state reported by connection updates.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClose      ConnectionState = "close"
)

// Update is one connection.update event. Zero fields carry no information:
// a QR-only update has an empty Connection.
type Update struct {
	Connection ConnectionState
	QR         string
	Reason     DisconnectReason
	Err        error
}

// Handlers receives transport events. Every callback of one connection is
// invoked from a single goroutine, in emission order. Nil callbacks are skipped.
type Handlers struct {
	OnConnectionUpdate  func(Update)
	OnCredentialsUpdate func(creds json.RawMessage)
	OnKeysUpdate        func(name string, data json.RawMessage)
}

func (h Handlers) connectionUpdate(u Update) {
	if h.OnConnectionUpdate != nil {
		h.OnConnectionUpdate(u)
	}
}

func (h Handlers) credentialsUpdate(creds json.RawMessage) {
	if h.OnCredentialsUpdate != nil {
		h.OnCredentialsUpdate(creds)
	}
}

func (h Handlers) keysUpdate(name string, data json.RawMessage) {
	if h.OnKeysUpdate != nil {
		h.OnKeysUpdate(name, data)
	}
}

// OpenOptions scopes a connection to one auth state.
type OpenOptions struct {
	// SessionID labels the connection on the bridge side.
	SessionID string
	// Creds resumes an existing registration; empty starts a fresh link.
	Creds json.RawMessage
}

// Transport opens connections.
type Transport interface {
	Open(ctx context.Context, opts OpenOptions, h Handlers) (Handle, error)
}

// Handle is one open connection attempt.
type Handle interface {
	// RequestPairingCode asks for a code bound to a destination phone number.
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	// Close releases the connection without logging the device out. Idempotent.
	Close() error
}

// ErrClosed is returned by requests on a closed handle.
var ErrClosed = errors.New("transport: connection closed")
