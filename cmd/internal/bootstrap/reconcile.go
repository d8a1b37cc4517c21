// Package bootstrap reconciles a supplied session token with the persisted
// credential store before the primary connection starts.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/authstate"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/security/credtoken"
)

// Outcome describes what Reconcile did.
type Outcome string

const (
	OutcomeNoToken      Outcome = "no_token"
	OutcomeInvalidToken Outcome = "invalid_token"
	OutcomeCreated      Outcome = "created"
	OutcomeUnchanged    Outcome = "unchanged"
	OutcomeReplaced     Outcome = "replaced"
)

// Result reports the outcome together with content fingerprints.
type Result struct {
	Outcome Outcome

	// TokenFingerprint and StoredFingerprint identify contents without exposing them.
	TokenFingerprint  string
	StoredFingerprint string

	// DecodeErr is set for OutcomeInvalidToken.
	DecodeErr error
}

// Reconcile makes the store hold exactly the credentials carried by token.
//
// An empty token leaves the store alone. A token that cannot be decoded is a
// soft failure: the store is untouched and the caller keeps whatever was
// persisted. Equal contents (ignoring whitespace) are never rewritten, so
// file timestamps and auxiliary key files survive a restart with the same
// token. A missing creds.json or different contents wipe the store before
// writing.
func Reconcile(ctx context.Context, log *slog.Logger, store *authstate.Store, token string) (Result, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		return Result{}, errors.New("bootstrap: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		log.Info("bootstrap.token.absent", "dir", store.Dir())
		return Result{Outcome: OutcomeNoToken}, nil
	}

	text, err := credtoken.DecodeText(token)
	if err != nil {
		log.Warn("bootstrap.token.invalid", "err", err)
		return Result{Outcome: OutcomeInvalidToken, DecodeErr: err}, nil
	}
	res := Result{TokenFingerprint: credtoken.Fingerprint(text)}

	current, err := store.ReadCreds()
	switch {
	case errors.Is(err, authstate.ErrNoCredentials):
		// Key files without creds.json belong to no known registration.
		if err := store.Replace(text); err != nil {
			return Result{}, fmt.Errorf("bootstrap: write credentials: %w", err)
		}
		res.Outcome = OutcomeCreated
		log.Info("bootstrap.creds.created", "token_fp", res.TokenFingerprint)
		return res, nil
	case err != nil:
		return Result{}, fmt.Errorf("bootstrap: read credentials: %w", err)
	}

	res.StoredFingerprint = credtoken.Fingerprint(current)
	if credtoken.Equal(current, text) {
		res.Outcome = OutcomeUnchanged
		log.Info("bootstrap.creds.unchanged", "token_fp", res.TokenFingerprint)
		return res, nil
	}

	if err := store.Replace(text); err != nil {
		return Result{}, fmt.Errorf("bootstrap: replace credentials: %w", err)
	}
	res.Outcome = OutcomeReplaced
	log.Warn("bootstrap.creds.replaced", "token_fp", res.TokenFingerprint, "stored_fp", res.StoredFingerprint)
	return res, nil
}
