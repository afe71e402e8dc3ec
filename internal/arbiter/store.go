// Package arbiter suppresses the daemon's own notifications for paired
// devices and restores the prior settings verbatim when they unpair.
package arbiter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/kcbridge/kcbridge/internal/model"
)

// SettingsStore is the daemon's key-grouped settings store. Values are
// raw strings; whether a key exists is part of its state and must be
// preserved across a mutate and restore cycle.
type SettingsStore interface {
	// Value returns the raw value of a key and whether it exists.
	Value(group, key string) (string, bool, error)
	// SetValue writes a key, creating it if needed.
	SetValue(group, key, value string) error
	// DeleteKey removes a key if present.
	DeleteKey(group, key string) error
}

// FileStore is a SettingsStore over an INI-style settings file. Every
// access re-reads the file, so changes by other writers are always
// observed before a mutation. All I/O failures classify as
// suppression being unavailable; the daemon owns this file and the
// arbiter never creates it.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store over the given settings file.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultSettingsPath returns the KDE Connect daemon's settings file path.
func DefaultSettingsPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "kdeconnect", "config"), nil
}

// Path returns the settings file path.
func (s *FileStore) Path() string {
	return s.path
}

// load re-reads the settings file.
func (s *FileStore) load() (*ini.File, error) {
	f, err := ini.Load(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("settings store %s not found: %w", s.path, model.ErrSuppressionUnavailable)
		}
		return nil, fmt.Errorf("settings store %s unreadable (%v): %w", s.path, err, model.ErrSuppressionUnavailable)
	}
	return f, nil
}

// save writes the settings file atomically via a temp file.
func (s *FileStore) save(f *ini.File) error {
	tmpPath := s.path + ".tmp"
	if err := f.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("settings store %s not writable (%v): %w", s.path, err, model.ErrSuppressionUnavailable)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("settings store %s not writable (%v): %w", s.path, err, model.ErrSuppressionUnavailable)
	}
	return nil
}

// Value returns the raw value of a key and whether it exists.
func (s *FileStore) Value(group, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return "", false, err
	}

	sec := f.Section(group)
	if !sec.HasKey(key) {
		return "", false, nil
	}
	return sec.Key(key).String(), true, nil
}

// SetValue writes a key, creating it if needed.
func (s *FileStore) SetValue(group, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}

	f.Section(group).Key(key).SetValue(value)
	return s.save(f)
}

// DeleteKey removes a key if present.
func (s *FileStore) DeleteKey(group, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}

	sec := f.Section(group)
	if !sec.HasKey(key) {
		return nil
	}
	sec.DeleteKey(key)
	return s.save(f)
}
