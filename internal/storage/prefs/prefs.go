// Package prefs хранит UI-настройки клиента (видимость окна, позиция, звук) в YAML-файле.
// Схема не версионируется: отсутствующий или битый файл читается как значения по умолчанию.
package prefs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/chatsync/internal/logger"
)

type Position struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
}

// Preferences — запись настроек на весь процесс.
type Preferences struct {
	Visible   bool     `yaml:"visible" json:"visible"`
	Minimized bool     `yaml:"minimized" json:"minimized"`
	Position  Position `yaml:"position" json:"position"`
	Muted     bool     `yaml:"muted" json:"muted"`
	Notify    bool     `yaml:"notify" json:"notify"`
	Width     int      `yaml:"width" json:"width"`
	Height    int      `yaml:"height" json:"height"`
}

// Defaults returns the preferences used when nothing is stored.
func Defaults(minimized bool) Preferences {
	return Preferences{
		Visible:   true,
		Minimized: minimized,
		Notify:    true,
		Width:     400,
		Height:    500,
	}
}

type Store struct {
	mu       sync.Mutex
	path     string
	defaults Preferences
	current  Preferences
}

// Open reads path once. Errors are logged, never returned: preferences are cosmetic.
func Open(path string, defaults Preferences) *Store {
	s := &Store{path: path, defaults: defaults, current: defaults}
	if path == "" {
		return s
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Errorf("prefs: read %s: %v", path, err)
		}
		return s
	}
	p := defaults
	if err := yaml.Unmarshal(data, &p); err != nil {
		logger.Errorf("prefs: parse %s: %v (using defaults)", path, err)
		return s
	}
	s.current = p
	return s
}

func (s *Store) Get() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set replaces the record and writes it to disk.
func (s *Store) Set(p Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = p
	return s.writeLocked()
}

// Update applies fn to a copy and persists the result.
func (s *Store) Update(fn func(*Preferences)) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.current
	fn(&p)
	s.current = p
	return p, s.writeLocked()
}

func (s *Store) writeLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(s.current)
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("prefs: mkdir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("prefs: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("prefs: rename: %w", err)
	}
	return nil
}
