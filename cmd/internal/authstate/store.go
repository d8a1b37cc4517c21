// Package authstate manages a multi-file credential directory: one canonical
// creds.json plus auxiliary key material files written by the transport.
//
// The same layout serves the global persisted store and every per-session
// work directory of a linking attempt.
package authstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/security/credtoken"
)

// CredsFile is the canonical credentials file name inside a store directory.
const CredsFile = "creds.json"

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

var (
	// ErrNoCredentials is returned when the directory has no creds.json.
	ErrNoCredentials = errors.New("authstate: no credentials")

	// ErrInvalidKeyName is returned for key names that would escape the directory.
	ErrInvalidKeyName = errors.New("authstate: invalid key name")
)

// Store is a credential directory guarded by a mutex.
// Writers (reconciler, credential updates, recovery wipe) serialize on it.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New returns a Store rooted at dir. The directory is created lazily on first write.
func New(dir string) *Store {
	return &Store{dir: filepath.Clean(dir)}
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

// CredsPath returns the absolute location of creds.json.
func (s *Store) CredsPath() string { return filepath.Join(s.dir, CredsFile) }

// Exists reports whether creds.json is present.
func (s *Store) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.CredsPath())
	return err == nil && info.Mode().IsRegular()
}

// ReadCreds returns the raw creds.json contents.
func (s *Store) ReadCreds() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readCredsLocked()
}

func (s *Store) readCredsLocked() ([]byte, error) {
	b, err := os.ReadFile(s.CredsPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCredentials
		}
		return nil, err
	}
	return b, nil
}

// ReadBundle parses creds.json into a bundle.
func (s *Store) ReadBundle() (credtoken.Bundle, error) {
	raw, err := s.ReadCreds()
	if err != nil {
		return nil, err
	}
	var b credtoken.Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("authstate: parse %s: %w", CredsFile, err)
	}
	return b, nil
}

// WriteCreds atomically replaces creds.json, leaving key files untouched.
// This is the incremental update path used for credential refresh notifications.
func (s *Store) WriteCreds(raw []byte) error {
	if !json.Valid(raw) {
		return fmt.Errorf("authstate: refusing to write invalid JSON to %s", CredsFile)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFileLocked(CredsFile, raw)
}

// WriteKey persists auxiliary key material as <name>.json.
func (s *Store) WriteKey(name string, raw []byte) error {
	name = strings.TrimSpace(name)
	if name == "" || name == "creds" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return ErrInvalidKeyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFileLocked(name+".json", raw)
}

// Replace wipes the directory and writes raw as the only file.
func (s *Store) Replace(raw []byte) error {
	if !json.Valid(raw) {
		return fmt.Errorf("authstate: refusing to write invalid JSON to %s", CredsFile)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("authstate: wipe %s: %w", s.dir, err)
	}
	return s.writeFileLocked(CredsFile, raw)
}

// Wipe removes the whole directory. Missing directories are not an error.
func (s *Store) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("authstate: wipe %s: %w", s.dir, err)
	}
	return nil
}

// Ensure creates the directory if needed.
func (s *Store) Ensure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.MkdirAll(s.dir, dirPerm)
}

func (s *Store) writeFileLocked(name string, raw []byte) error {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("authstate: create %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(s.dir, name))
}
