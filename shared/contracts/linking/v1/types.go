// Package v1 defines the titan linking bridge protocol v1.
//
// The bridge owns the messaging wire protocol and its cryptography; this
// contract only carries connection lifecycle, QR challenges, pairing-code
// requests and credential snapshots between the bridge and the service.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every envelope.
const Version = 1

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "titan.link.v1"

// Type constants (wire-stable).
const (
	// TypeSessionOpen starts a connection for an auth scope (service -> bridge).
	TypeSessionOpen = "session.open"
	// TypeSessionClose ends the connection without logging the device out (service -> bridge).
	TypeSessionClose = "session.close"

	// TypePairingRequest asks for a pairing code bound to a phone number (service -> bridge).
	TypePairingRequest = "pairing.request"
	// TypePairingCode answers a pairing request; ID echoes the request ID (bridge -> service).
	TypePairingCode = "pairing.code"

	// TypeConnectionUpdate reports connection state and QR challenges (bridge -> service).
	TypeConnectionUpdate = "connection.update"
	// TypeCredsUpdate carries a full credentials snapshot after a refresh (bridge -> service).
	TypeCredsUpdate = "creds.update"
	// TypeKeysUpdate carries auxiliary key material (bridge -> service).
	TypeKeysUpdate = "keys.update"

	// TypeError reports a failure; ID echoes the failed request when known (bridge -> service).
	TypeError = "error"
)

var allowedTypes = map[string]struct{}{
	TypeSessionOpen:      {},
	TypeSessionClose:     {},
	TypePairingRequest:   {},
	TypePairingCode:      {},
	TypeConnectionUpdate: {},
	TypeCredsUpdate:      {},
	TypeKeysUpdate:       {},
	TypeError:            {},
}

// Connection states carried by ConnectionUpdatePayload.
const (
	ConnectionConnecting = "connecting"
	ConnectionOpen       = "open"
	ConnectionClose      = "close"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation for an Envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: got=%d want=%d", e.V, Version)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if _, ok := allowedTypes[e.Type]; !ok {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	if e.TS.IsZero() {
		return errors.New("missing field: ts")
	}
	return nil
}

// ---- Payloads ----

// SessionOpenPayload opens a connection. Creds is empty for a fresh link.
type SessionOpenPayload struct {
	SessionID string          `json:"session_id"`
	Creds     json.RawMessage `json:"creds,omitempty"`
	Browser   []string        `json:"browser,omitempty"`
}

// PairingRequestPayload requests a pairing code for a destination phone number (digits only).
type PairingRequestPayload struct {
	Phone string `json:"phone"`
}

// PairingCodePayload returns the code the user types on their primary device.
type PairingCodePayload struct {
	Code string `json:"code"`
}

// ConnectionUpdatePayload mirrors the transport's connection.update event.
// Reason is the numeric disconnect status; Error is the human-readable cause.
type ConnectionUpdatePayload struct {
	Connection string `json:"connection,omitempty"`
	QR         string `json:"qr,omitempty"`
	Reason     int    `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CredsUpdatePayload carries the full credentials object.
type CredsUpdatePayload struct {
	Creds json.RawMessage `json:"creds"`
}

// KeysUpdatePayload carries one auxiliary key file.
type KeysUpdatePayload struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// ErrorPayload is a generic error payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
