package cfg

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Loader reads settings from the environment, falling back to an optional
// YAML overlay. Problems are collected so Load reports all of them at once.
type Loader struct {
	errs    []error
	overlay map[string]string
}

func NewLoader() *Loader {
	return &Loader{errs: make([]error, 0), overlay: make(map[string]string)}
}

func (l *Loader) HasErrors() bool {
	return len(l.errs) > 0
}

func (l *Loader) Error() error {
	if len(l.errs) > 0 {
		return errors.Join(l.errs...)
	}
	return nil
}

// loadOverlay reads a flat YAML file whose keys are setting names in lower
// case (registry_path, lock_ttl_seconds, ...). Environment variables take
// precedence over the file.
func (l *Loader) loadOverlay(path string) {
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("read config file %s: %w", path, err))
		return
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		l.errs = append(l.errs, fmt.Errorf("parse config file %s: %w", path, err))
		return
	}
	for k, v := range raw {
		if v == nil {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(k))
		switch val := v.(type) {
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			l.overlay[key] = strings.Join(parts, ",")
		default:
			l.overlay[key] = fmt.Sprint(val)
		}
	}
}

func (l *Loader) lookup(key string) (string, bool) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value, true
	}
	value, exists := l.overlay[key]
	return value, exists && value != ""
}

func (l *Loader) requireEnv(key string) string {
	value, exists := l.lookup(key)
	if !exists {
		l.errs = append(l.errs, errors.New("missing env: "+key))
	}
	return value
}

func (l *Loader) getEnvWithDefault(key, defaultValue string) string {
	if value, exists := l.lookup(key); exists {
		return value
	}
	return defaultValue
}

func (l *Loader) getEnvIntOrDefault(key string, defaultValue int) int {
	value, exists := l.lookup(key)
	if !exists {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		l.errs = append(l.errs, errors.New("invalid int for "+key+": "+value))
		return defaultValue
	}
	return intValue
}

// getEnvSecondsOrDefault reads a whole number of seconds.
func (l *Loader) getEnvSecondsOrDefault(key string, defaultValue time.Duration) time.Duration {
	value, exists := l.lookup(key)
	if !exists {
		return defaultValue
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		l.errs = append(l.errs, errors.New("invalid seconds for "+key+": "+value))
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}

func (l *Loader) getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value, exists := l.lookup(key)
	if !exists {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		l.errs = append(l.errs, errors.New("invalid duration for "+key+": "+value))
		return defaultValue
	}
	return duration
}

func (l *Loader) getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value, exists := l.lookup(key)
	if !exists {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		l.errs = append(l.errs, errors.New("invalid bool for "+key+": "+value))
		return defaultValue
	}
	return boolValue
}

func (l *Loader) getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value, exists := l.lookup(key)
	if !exists {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		l.errs = append(l.errs, errors.New("invalid float for "+key+": "+value))
		return defaultValue
	}
	return floatValue
}

func (l *Loader) oneOf(key, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	l.errs = append(l.errs, fmt.Errorf("invalid %s: %q, must be one of: %s", key, value, strings.Join(allowed, ", ")))
}

// splitAndTrim splits a string by separator, trims whitespace and drops
// empty parts.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
