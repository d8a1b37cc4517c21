// Package main is a manual smoke test for a linking bridge.
//
// It validates:
//   - handshake + subprotocol selection
//   - session.open acceptance
//   - a QR challenge or a pairing code for -phone
//   - clean session.close
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/transport"
)

func main() {
	var (
		bridgeURL = flag.String("url", "ws://127.0.0.1:9000/link", "bridge WebSocket URL")
		origin    = flag.String("origin", "", "Origin header to send")
		phone     = flag.String("phone", "", "request a pairing code for this number instead of waiting for a QR")
		timeout   = flag.Duration("timeout", 20*time.Second, "overall timeout")
		verbose   = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*bridgeURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	tr := transport.NewWSTransport(log, transport.WSConfig{URL: *bridgeURL, Origin: *origin})

	ready := make(chan struct{}, 1)
	qr := make(chan string, 1)
	closed := make(chan transport.Update, 1)

	h, err := tr.Open(ctx, transport.OpenOptions{SessionID: "smoke-" + time.Now().UTC().Format("150405")}, transport.Handlers{
		OnConnectionUpdate: func(u transport.Update) {
			if u.Err != nil {
				fmt.Fprintf(os.Stderr, "fault: %v\n", u.Err)
			}
			if u.QR != "" {
				select {
				case qr <- u.QR:
				default:
				}
			}
			switch u.Connection {
			case transport.StateConnecting:
				select {
				case ready <- struct{}{}:
				default:
				}
			case transport.StateClose:
				select {
				case closed <- u:
				default:
				}
			}
		},
		OnCredentialsUpdate: func(creds json.RawMessage) {
			fmt.Printf("creds.update (%d bytes)\n", len(creds))
		},
	})
	if err != nil {
		fatalf("open: %v", err)
	}
	defer func() { _ = h.Close() }()
	fmt.Println("OK session.open")

	if *phone != "" {
		select {
		case <-ready:
		case <-qr:
		case u := <-closed:
			fatalf("closed before ready: %s", u.Reason)
		case <-ctx.Done():
			fatalf("bridge never became ready: %v", ctx.Err())
		}
		code, err := h.RequestPairingCode(ctx, *phone)
		if err != nil {
			fatalf("pairing.request: %v", err)
		}
		fmt.Printf("OK pairing code %s\n", code)
		return
	}

	select {
	case payload := <-qr:
		fmt.Printf("OK qr (%d chars)\n", len(payload))
	case u := <-closed:
		fatalf("closed before QR: %s", u.Reason)
	case <-ctx.Done():
		fatalf("no QR challenge: %v", ctx.Err())
	}
}

func validateWSURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL "+format+"\n", args...)
	os.Exit(1)
}
