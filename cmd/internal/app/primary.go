package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/authstate"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/recovery"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/transport"
)

const primarySessionID = "primary"

// Primary keeps the long-lived connection of the persisted identity open.
//
// Credential updates go straight into the global store. Faults raised by the
// transport are routed through the recovery boundary, which may wipe the
// store and exit. A logged-out disconnect stops the supervisor for good;
// every other disconnect is retried after a delay.
type Primary struct {
	log      Logger
	tr       transport.Transport
	store    *authstate.Store
	boundary *recovery.Boundary
	delay    time.Duration
}

// NewPrimary returns a supervisor for the connection backed by store.
func NewPrimary(log Logger, tr transport.Transport, store *authstate.Store, boundary *recovery.Boundary, reconnectDelay time.Duration) *Primary {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &Primary{log: log, tr: tr, store: store, boundary: boundary, delay: reconnectDelay}
}

// Run blocks until ctx is done, the account logs the device out, or no credentials exist.
func (p *Primary) Run(ctx context.Context) error {
	for {
		creds, err := p.store.ReadCreds()
		if errors.Is(err, authstate.ErrNoCredentials) {
			p.log.Warn("primary.no_credentials", "dir", p.store.Dir(), "hint", "link a device and set TITAN_SESSION_ID")
			return nil
		}
		if err != nil {
			return err
		}

		reason, err := p.connectOnce(ctx, creds)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			p.log.Warn("primary.open.fail", "err", err)
		case reason.LoggedOut():
			p.log.Error("primary.logged_out", "hint", "link the device again and restart with a new TITAN_SESSION_ID")
			return nil
		default:
			p.log.Info("primary.disconnected", "reason", reason.String(), "retry_in", p.delay.String())
		}

		t := time.NewTimer(p.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// connectOnce holds one connection until it closes or ctx is done.
func (p *Primary) connectOnce(ctx context.Context, creds json.RawMessage) (transport.DisconnectReason, error) {
	closed := make(chan transport.DisconnectReason, 1)

	h, err := p.tr.Open(ctx, transport.OpenOptions{SessionID: primarySessionID, Creds: creds}, transport.Handlers{
		OnConnectionUpdate: func(u transport.Update) {
			p.boundary.Protect("primary.update", func() { p.onUpdate(u, closed) })
		},
		OnCredentialsUpdate: func(raw json.RawMessage) {
			p.boundary.Protect("primary.creds", func() {
				if err := p.store.WriteCreds(raw); err != nil {
					p.boundary.Report("primary.creds", err)
				}
			})
		},
		OnKeysUpdate: func(name string, data json.RawMessage) {
			p.boundary.Protect("primary.keys", func() {
				if err := p.store.WriteKey(name, data); err != nil {
					p.boundary.Report("primary.keys", err)
				}
			})
		},
	})
	if err != nil {
		return transport.ReasonNone, err
	}
	defer func() { _ = h.Close() }()

	select {
	case <-ctx.Done():
		return transport.ReasonNone, nil
	case reason := <-closed:
		return reason, nil
	}
}

func (p *Primary) onUpdate(u transport.Update, closed chan<- transport.DisconnectReason) {
	if u.Err != nil {
		p.boundary.Report("primary.update", u.Err)
	}
	if u.QR != "" {
		p.log.Warn("primary.unexpected_qr", "hint", "persisted credentials are not registered")
	}

	switch u.Connection {
	case transport.StateOpen:
		p.log.Info("primary.connected")
	case transport.StateClose:
		select {
		case closed <- u.Reason:
		default:
		}
	}
}
