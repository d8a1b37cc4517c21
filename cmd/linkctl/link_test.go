package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/authstate"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/transport"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/security/credtoken"
)

const linkedCreds = `{"me":{"id":"15550109999:3@s.whatsapp.net"},"registered":true}`

// scriptedBridge shows one QR challenge, then links after delay.
type scriptedBridge struct {
	delay time.Duration
	code  string
}

func (b *scriptedBridge) Open(_ context.Context, _ transport.OpenOptions, h transport.Handlers) (transport.Handle, error) {
	h.OnConnectionUpdate(transport.Update{Connection: transport.StateConnecting})
	h.OnConnectionUpdate(transport.Update{QR: "Q1"})
	go func() {
		time.Sleep(b.delay)
		h.OnCredentialsUpdate(json.RawMessage(linkedCreds))
		h.OnConnectionUpdate(transport.Update{Connection: transport.StateOpen})
	}()
	return scriptedHandle{code: b.code}, nil
}

type scriptedHandle struct{ code string }

func (h scriptedHandle) RequestPairingCode(context.Context, string) (string, error) {
	return h.code, nil
}

func (scriptedHandle) Close() error { return nil }

func executeLink(t *testing.T, br transport.Transport, args ...string) (string, error) {
	t.Helper()
	root := buildRootCmd(func(*slog.Logger, transport.WSConfig) transport.Transport { return br })
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"link"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLink_QRPrintsTokenAndReconciles(t *testing.T) {
	t.Setenv("TITAN_BRIDGE_URL", "")

	dir := filepath.Join(t.TempDir(), "auth")
	out, err := executeLink(t, &scriptedBridge{delay: 50 * time.Millisecond},
		"--bridge", "ws://bridge.test/link", "--poll", "5ms", "--timeout", "5s", "--dir", dir)
	if err != nil {
		t.Fatalf("link: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	token := lines[len(lines)-1]
	b, err := credtoken.Decode(token)
	if err != nil {
		t.Fatalf("decode printed token %q: %v", token, err)
	}
	if b["registered"] != true {
		t.Fatalf("unexpected bundle %v", b)
	}

	got, err := authstate.New(dir).ReadCreds()
	if err != nil || !credtoken.Equal(got, []byte(linkedCreds)) {
		t.Fatalf("credentials not reconciled: %s err=%v", got, err)
	}
}

func TestLink_PairingPrintsCode(t *testing.T) {
	t.Setenv("TITAN_BRIDGE_URL", "")

	out, err := executeLink(t, &scriptedBridge{delay: 100 * time.Millisecond, code: "WXYZ-9876"},
		"--bridge", "ws://bridge.test/link", "--kind", "pairing", "--phone", "+1 555 010 9999", "--poll", "5ms", "--timeout", "5s")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if !strings.HasPrefix(out, "pairing code: WXYZ-9876\n") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestLink_Validation(t *testing.T) {
	t.Setenv("TITAN_BRIDGE_URL", "")

	cases := []struct {
		name string
		args []string
	}{
		{"no bridge", nil},
		{"unknown kind", []string{"--bridge", "ws://bridge.test", "--kind", "carrier-pigeon"}},
		{"pairing without phone", []string{"--bridge", "ws://bridge.test", "--kind", "pairing"}},
		{"zero poll", []string{"--bridge", "ws://bridge.test", "--poll", "0s"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := executeLink(t, &scriptedBridge{delay: time.Hour}, tc.args...); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
