package app

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ValidateStartup enforces the filesystem and transport policy before anything runs.
//
// Per-session work directories are wiped wholesale, so they must never
// overlap the persisted credential store.
func ValidateStartup(cfg Config) error {
	authDir, err := filepath.Abs(strings.TrimSpace(cfg.AuthDir))
	if err != nil || strings.TrimSpace(cfg.AuthDir) == "" {
		return fmt.Errorf("%w: TITAN_AUTH_DIR is required", ErrConfig)
	}
	workRoot, err := filepath.Abs(strings.TrimSpace(cfg.Link.WorkRoot))
	if err != nil || strings.TrimSpace(cfg.Link.WorkRoot) == "" {
		return fmt.Errorf("%w: TITAN_LINK_WORK_ROOT is required", ErrConfig)
	}
	if within(authDir, workRoot) || within(workRoot, authDir) {
		return fmt.Errorf("%w: TITAN_AUTH_DIR and TITAN_LINK_WORK_ROOT must not overlap", ErrConfig)
	}

	if raw := strings.TrimSpace(cfg.Bridge.URL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%w: TITAN_BRIDGE_URL is not a valid URL", ErrConfig)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("%w: TITAN_BRIDGE_URL must use ws or wss", ErrConfig)
		}
	}

	if cfg.DBMinConns > cfg.DBMaxConns && cfg.DBMaxConns > 0 {
		return fmt.Errorf("%w: TITAN_DB_MIN_CONNS exceeds TITAN_DB_MAX_CONNS", ErrConfig)
	}
	return nil
}

// within reports whether path equals dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
