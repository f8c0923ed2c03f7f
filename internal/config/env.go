package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file configuration.
const (
	EnvBackendURL = "CONSULT_BACKEND_URL"
	EnvStreamURL  = "CONSULT_STREAM_URL"
	EnvProfile    = "CONSULT_PROFILE"
	EnvLogLevel   = "CONSULT_LOG_LEVEL"
)

// LoadDotenv populates the process environment from .env files. Missing files
// are skipped; variables already present in the environment win.
func LoadDotenv(paths ...string) error {
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %q: %w", path, err)
		}
	}
	return nil
}

// ApplyEnv overlays CONSULT_* variables onto cfg and reports whether anything changed.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) bool {
	if lookup == nil {
		return false
	}

	changed := false
	apply := func(name string, dst *string, transform func(string) string) {
		value, ok := lookup(name)
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			return
		}
		if transform != nil {
			value = transform(value)
		}
		*dst = value
		changed = true
	}

	apply(EnvBackendURL, &cfg.Backend.URL, nil)
	apply(EnvStreamURL, &cfg.Stream.URL, nil)
	apply(EnvProfile, &cfg.Session.Profile, nil)
	apply(EnvLogLevel, &cfg.Log.Level, strings.ToLower)
	return changed
}
