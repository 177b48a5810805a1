// Package settings provides the small string -> typed-value conversions
// every module constructor needs when validating its settings map: plain
// defaulted, hand-parsed lookups (e.g. use_sudo=true) rather than a generic
// config-binding library.
package settings

import (
	"strconv"
	"time"
)

// Bool parses a settings value, defaulting when absent or unparsable.
func Bool(m map[string]string, key string, def bool) bool {
	v, ok := m[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Int parses a settings value, defaulting when absent or unparsable.
func Int(m map[string]string, key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// String returns a settings value or a default.
func String(m map[string]string, key string, def string) string {
	v, ok := m[key]
	if !ok || v == "" {
		return def
	}
	return v
}

// Duration parses an integer settings value as a count of seconds.
func Duration(m map[string]string, key string, def time.Duration) time.Duration {
	v, ok := m[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}
