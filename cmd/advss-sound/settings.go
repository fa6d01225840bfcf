package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Settings is the host's settings object for one segment instance.
//
// Settings decoded for an invocation belong to the worker running it and must
// be released exactly once with Release. Settings handed to the host as a
// segment's default settings belong to the host and are never released here.
type Settings struct {
	mu       sync.RWMutex
	values   CallData
	defaults CallData
	released bool

	onRelease func()
}

// NewSettings returns empty settings.
func NewSettings() *Settings {
	return &Settings{
		values:   CallData{},
		defaults: CallData{},
	}
}

// ParseSettings decodes a settings JSON object as sent in a trigger signal.
// An empty string yields empty settings.
func ParseSettings(raw string) (*Settings, error) {
	s := NewSettings()
	if strings.TrimSpace(raw) == "" {
		return s, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("decode settings json: %w", err)
	}
	if values != nil {
		s.values = CallData(values)
	}
	return s, nil
}

func (s *Settings) lookup(key string) CallData {
	if s.values.Has(key) {
		return s.values
	}
	return s.defaults
}

// String returns the value for key, falling back to its default.
func (s *Settings) String(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(key).String(key)
}

// SetString sets an explicit value.
func (s *Settings) SetString(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.values[key] = value
}

// SetDefaultString sets the value used while no explicit value exists.
func (s *Settings) SetDefaultString(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.defaults[key] = value
}

// Released reports whether Release has been called.
func (s *Settings) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released
}

// Release drops the settings data. Reads after Release return zero values.
// Only the first call has any effect.
func (s *Settings) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.values = CallData{}
	s.defaults = CallData{}
	hook := s.onRelease
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// MarshalJSON encodes the effective values (defaults overlaid by explicit values).
func (s *Settings) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(map[string]any, len(s.defaults)+len(s.values))
	for k, v := range s.defaults {
		merged[k] = v
	}
	for k, v := range s.values {
		merged[k] = v
	}
	return json.Marshal(merged)
}
