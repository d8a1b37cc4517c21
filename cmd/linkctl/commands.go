package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/authstate"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/bootstrap"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/security/credtoken"
)

const defaultAuthDir = "./auth_info"

func newRootCmd() *cobra.Command {
	return buildRootCmd(newBridgeTransport)
}

func buildRootCmd(bridge bridgeFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "linkctl",
		Short:         "Link devices and inspect or repair titan credential directories",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().Bool("verbose", false, "log to stderr")

	root.AddCommand(
		newEncodeCmd(),
		newDecodeCmd(),
		newReconcileCmd(),
		newWipeCmd(),
		newLinkCmd(bridge),
	)
	return root
}

func cmdLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newEncodeCmd() *cobra.Command {
	var dir, prefix string
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print the session token for a credential directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := authstate.New(dir).ReadCreds()
			if err != nil {
				return fmt.Errorf("read %s: %w", dir, err)
			}
			token, err := credtoken.EncodeText(raw)
			if err != nil {
				return err
			}
			if prefix != "" {
				token = strings.TrimSuffix(prefix, ":") + ":" + token
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", defaultAuthDir, "credential directory")
	cmd.Flags().StringVar(&prefix, "prefix", "", "label prepended as <prefix>:")
	return cmd
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <token>",
		Short: "Print the credential bundle carried by a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := credtoken.Decode(args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(b, "", "  ")
			if err != nil {
				return err
			}
			text, err := json.Marshal(b)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(cmd.ErrOrStderr(), "fingerprint: %s\n", credtoken.Fingerprint(text)); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}

func newReconcileCmd() *cobra.Command {
	var dir, token string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Make a credential directory match a token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				token = os.Getenv("TITAN_SESSION_ID")
			}
			res, err := bootstrap.Reconcile(cmd.Context(), cmdLogger(cmd), authstate.New(dir), token)
			if err != nil {
				return err
			}
			if res.Outcome == bootstrap.OutcomeInvalidToken {
				return res.DecodeErr
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", res.Outcome, res.TokenFingerprint)
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", defaultAuthDir, "credential directory")
	cmd.Flags().StringVar(&token, "token", "", "session token (default $TITAN_SESSION_ID)")
	return cmd
}

func newWipeCmd() *cobra.Command {
	var dir string
	var yes bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete a credential directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to wipe %s without --yes", dir)
			}
			if err := authstate.New(dir).Wipe(); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wiped %s\n", dir)
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", defaultAuthDir, "credential directory")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
