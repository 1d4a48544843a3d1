// Package settings handles loading, validating, and hot-reloading the
// playingpack proxy's runtime knobs from ~/.playingpack/settings.yaml.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// CacheMode controls how the lifecycle engine uses the cache store.
type CacheMode string

const (
	// CacheOff never reads or writes the cache.
	CacheOff CacheMode = "off"
	// CacheRead replays from cache only; a miss is a hard cache_not_found
	// error, never falling through to the LLM even if the operator asks
	// for it at point 1.
	CacheRead CacheMode = "read"
	// CacheReadWrite replays hits and records misses after forwarding.
	CacheReadWrite CacheMode = "read-write"
)

// ServerConfig defines where the proxy listens.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CacheConfig controls cache-store behavior.
type CacheConfig struct {
	Mode CacheMode `yaml:"mode"`
	Dir  string    `yaml:"dir"`
}

// Settings is the process-wide, hot-swappable configuration: the three
// knobs an operator may change at runtime (cache mode, intervene,
// upstream) plus the server bind address that's fixed at startup.
type Settings struct {
	Server    ServerConfig `yaml:"server"`
	Cache     CacheConfig  `yaml:"cache"`
	Intervene bool         `yaml:"intervene"`
	Upstream  string       `yaml:"upstream"`
}

// Load reads and parses settings.yaml from path. A missing file returns
// defaults, not an error — first run before any settings file exists.
func Load(path string) (*Settings, error) {
	s := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("settings: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("settings: parsing %s: %w", path, err)
	}

	if err := validate(s); err != nil {
		return nil, fmt.Errorf("settings: invalid config: %w", err)
	}

	return s, nil
}

// WriteDefault writes a default settings.yaml with a comment header,
// creating its parent directory if needed.
func WriteDefault(path string) error {
	s := defaults()
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: marshaling defaults: %w", err)
	}

	header := `# playingpack settings
#
# server:
#   host/port: where the proxy listens
#
# cache:
#   mode: off | read | read-write
#   dir: directory holding cached response files
#
# intervene: whether the operator is suspended at point 1 / point 2
#
# upstream: base URL of the real chat-completions API

`
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("settings: creating %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

func defaults() *Settings {
	return &Settings{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8787},
		Cache: CacheConfig{
			Mode: CacheReadWrite,
			Dir:  "cache",
		},
		Intervene: true,
		Upstream:  "https://api.openai.com",
	}
}

func validate(s *Settings) error {
	switch s.Cache.Mode {
	case CacheOff, CacheRead, CacheReadWrite:
	default:
		return fmt.Errorf("cache.mode %q must be one of off|read|read-write", s.Cache.Mode)
	}
	if s.Upstream == "" {
		return fmt.Errorf("upstream must not be empty")
	}
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range (1-65535)", s.Server.Port)
	}
	return nil
}

// Store holds the current Settings and lets readers take a cheap
// per-request snapshot without blocking a concurrent hot-reload.
type Store struct {
	mu  sync.Mutex
	ptr atomic.Pointer[Settings]
}

// NewStore returns a Store seeded with initial.
func NewStore(initial *Settings) *Store {
	s := &Store{}
	s.ptr.Store(initial)
	return s
}

// Snapshot returns the current settings. Safe to call concurrently with
// Update from any number of goroutines.
func (s *Store) Snapshot() Settings {
	return *s.ptr.Load()
}

// Update replaces the current settings, validating first.
func (s *Store) Update(next Settings) error {
	if err := validate(&next); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ptr.Store(&next)
	return nil
}
