package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/authstate"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/bootstrap"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/provision"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/transport"
)

// bridgeFactory builds the transport used by `link`.
type bridgeFactory func(log *slog.Logger, cfg transport.WSConfig) transport.Transport

func newBridgeTransport(log *slog.Logger, cfg transport.WSConfig) transport.Transport {
	return transport.NewWSTransport(log, cfg)
}

type linkFlags struct {
	bridge  string
	kind    string
	phone   string
	dir     string
	timeout time.Duration
	poll    time.Duration
}

func newLinkCmd(bridge bridgeFactory) *cobra.Command {
	var f linkFlags
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link a device through the bridge and print its session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.bridge == "" {
				f.bridge = os.Getenv("TITAN_BRIDGE_URL")
			}
			if strings.TrimSpace(f.bridge) == "" {
				return errors.New("link: --bridge or TITAN_BRIDGE_URL is required")
			}
			return runLink(cmd, f, bridge)
		},
	}
	cmd.Flags().StringVar(&f.bridge, "bridge", "", "bridge URL (default $TITAN_BRIDGE_URL)")
	cmd.Flags().StringVar(&f.kind, "kind", "qr", "qr or pairing")
	cmd.Flags().StringVar(&f.phone, "phone", "", "phone number for pairing codes")
	cmd.Flags().StringVar(&f.dir, "dir", "", "also reconcile the linked credentials into this directory")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 5*time.Minute, "give up after this long")
	cmd.Flags().DurationVar(&f.poll, "poll", 2*time.Second, "status poll interval")
	return cmd
}

func runLink(cmd *cobra.Command, f linkFlags, bridge bridgeFactory) error {
	log := cmdLogger(cmd)
	out := cmd.OutOrStdout()

	kind, err := provision.ParseKind(f.kind)
	if err != nil {
		return err
	}
	if f.timeout <= 0 || f.poll <= 0 {
		return errors.New("link: --timeout and --poll must be positive")
	}

	work, err := os.MkdirTemp("", "linkctl-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	cfg := provision.DefaultConfig()
	cfg.WorkRoot = work
	cfg.SweepInterval = f.timeout
	cfg.SessionTimeout = f.timeout + time.Minute

	m, err := provision.NewManager(log, cfg, nil, bridge(log, transport.WSConfig{URL: f.bridge}))
	if err != nil {
		return err
	}
	defer func() { _ = m.Shutdown(context.Background()) }()

	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()

	res, err := m.Provision(ctx, kind, f.phone)
	if err != nil {
		return err
	}
	if res.PairingCode != "" {
		if _, err := fmt.Fprintf(out, "pairing code: %s\n", res.PairingCode); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()

	lastQR := ""
	for {
		st, err := m.CheckAndConsume(ctx, res.SessionID)
		if err != nil {
			return err
		}
		if st.Status == provision.ConsumeLinked {
			return finishLink(cmd, log, f.dir, st.Token)
		}
		if st.QRPayload != "" && st.QRPayload != lastQR {
			lastQR = st.QRPayload
			if _, err := fmt.Fprintf(out, "qr: %s\n", st.QRPayload); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("link: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func finishLink(cmd *cobra.Command, log *slog.Logger, dir, token string) error {
	if dir != "" {
		res, err := bootstrap.Reconcile(cmd.Context(), log, authstate.New(dir), token)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", res.Outcome, dir); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
