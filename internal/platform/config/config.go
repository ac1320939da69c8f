// Package config reads process settings from the environment (optionally
// seeded from .env files) and packaging jobs from YAML files.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Load sets environment variables from the given .env files, ".env" when
// none is given. Missing files are skipped; variables already set in the
// environment win.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return errors.Wrap(godotenv.Load(existing...), "load env file")
}

func lookup(key string) (string, bool) {
	s := os.Getenv(key)
	return s, s != ""
}

// GetEnv returns the value of key, or fallback if it is unset or empty.
func GetEnv(key, fallback string) string {
	if s, ok := lookup(key); ok {
		return s
	}
	return fallback
}

// GetEnvInt returns key as an integer, or fallback if it is unset, empty or
// not an integer.
func GetEnvInt(key string, fallback int) int {
	if s, ok := lookup(key); ok {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool accepts the values of strconv.ParseBool.
func GetEnvBool(key string, fallback bool) bool {
	if s, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

// GetEnvDuration accepts time.ParseDuration values such as "10s".
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s, ok := lookup(key); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}
