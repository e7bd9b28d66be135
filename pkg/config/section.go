package config

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"crane-go/pkg/errors"
)

// LookupFunc returns the value of a variable and whether it was set.
// os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Section provides typed access to variables sharing a prefix, tracking
// which options were read.
type Section struct {
	prefix string
	lookup LookupFunc

	mu       sync.Mutex
	accessed map[string]struct{}
}

// NewSection creates a Section reading <prefix>_<OPTION> through lookup.
func NewSection(prefix string, lookup LookupFunc) *Section {
	return &Section{
		prefix:   strings.ToUpper(prefix),
		lookup:   lookup,
		accessed: make(map[string]struct{}),
	}
}

// Key returns the variable name backing option.
func (s *Section) Key(option string) string {
	if s.prefix == "" {
		return strings.ToUpper(option)
	}
	return s.prefix + "_" + strings.ToUpper(option)
}

func (s *Section) raw(option string) (string, bool) {
	key := s.Key(option)
	s.mu.Lock()
	s.accessed[key] = struct{}{}
	s.mu.Unlock()

	v, ok := s.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// GetAccessedOptions returns the variable names read so far.
func (s *Section) GetAccessedOptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.accessed))
	for k := range s.accessed {
		out = append(out, k)
	}
	return out
}

// Get returns a string option, or fallback when unset or empty.
func (s *Section) Get(option, fallback string) string {
	if v, ok := s.raw(option); ok {
		return v
	}
	return fallback
}

// GetInt returns an integer option.
func (s *Section) GetInt(option string, fallback int) (int, error) {
	v, ok := s.raw(option)
	if !ok {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.ConfigTypeError(s.Key(option), v, "integer", err)
	}
	return i, nil
}

// GetBool returns a boolean option.
// Accepts: 1, true, yes, on (true) and 0, false, no, off (false).
func (s *Section) GetBool(option string, fallback bool) (bool, error) {
	v, ok := s.raw(option)
	if !ok {
		return fallback, nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, errors.ConfigTypeError(s.Key(option), v, "boolean", nil)
}

// GetMillis returns an option given in milliseconds as a Duration.
// Negative values are rejected.
func (s *Section) GetMillis(option string, fallback time.Duration) (time.Duration, error) {
	v, ok := s.raw(option)
	if !ok {
		return fallback, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.ConfigTypeError(s.Key(option), v, "milliseconds", err)
	}
	if ms < 0 {
		return 0, errors.ConfigValidationError(s.Key(option), "must not be negative")
	}
	return time.Duration(ms) * time.Millisecond, nil
}
