package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NonexistentFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load with nonexistent file should not error: %v", err)
	}

	if s.Server.Host != "127.0.0.1" {
		t.Errorf("default host: expected 127.0.0.1, got %q", s.Server.Host)
	}
	if s.Server.Port != 8787 {
		t.Errorf("default port: expected 8787, got %d", s.Server.Port)
	}
	if s.Cache.Mode != CacheReadWrite {
		t.Errorf("default cache mode: expected read-write, got %q", s.Cache.Mode)
	}
	if !s.Intervene {
		t.Error("default intervene: expected true")
	}
	if s.Upstream != "https://api.openai.com" {
		t.Errorf("default upstream: expected https://api.openai.com, got %q", s.Upstream)
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	yaml := `
server:
  host: "0.0.0.0"
  port: 9090
cache:
  mode: read
  dir: "mycache"
intervene: false
upstream: "https://example.test"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.Server.Port != 9090 {
		t.Errorf("port: expected 9090, got %d", s.Server.Port)
	}
	if s.Cache.Mode != CacheRead {
		t.Errorf("cache mode: expected read, got %q", s.Cache.Mode)
	}
	if s.Intervene {
		t.Error("intervene: expected false")
	}
	if s.Upstream != "https://example.test" {
		t.Errorf("upstream: expected https://example.test, got %q", s.Upstream)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte(`{{{invalid yaml`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_InvalidCacheModeRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  mode: bogus\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid cache mode")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr bool
	}{
		{name: "valid", s: *defaults(), wantErr: false},
		{
			name:    "bad cache mode",
			s:       Settings{Cache: CacheConfig{Mode: "bogus"}, Upstream: "http://x", Server: ServerConfig{Port: 80}},
			wantErr: true,
		},
		{
			name:    "empty upstream",
			s:       Settings{Cache: CacheConfig{Mode: CacheOff}, Upstream: "", Server: ServerConfig{Port: 80}},
			wantErr: true,
		},
		{
			name:    "port 0",
			s:       Settings{Cache: CacheConfig{Mode: CacheOff}, Upstream: "http://x", Server: ServerConfig{Port: 0}},
			wantErr: true,
		},
		{
			name:    "port 65536",
			s:       Settings{Cache: CacheConfig{Mode: CacheOff}, Upstream: "http://x", Server: ServerConfig{Port: 65536}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(&tt.s)
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWriteDefault_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not created: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load after WriteDefault: %v", err)
	}
	if s.Server.Port != 8787 {
		t.Errorf("roundtrip port: expected 8787, got %d", s.Server.Port)
	}
	if s.Cache.Mode != CacheReadWrite {
		t.Errorf("roundtrip cache mode: expected read-write, got %q", s.Cache.Mode)
	}
}

func TestStore_SnapshotAndUpdate(t *testing.T) {
	store := NewStore(defaults())

	snap := store.Snapshot()
	if snap.Cache.Mode != CacheReadWrite {
		t.Fatalf("initial snapshot cache mode = %q", snap.Cache.Mode)
	}

	next := snap
	next.Cache.Mode = CacheOff
	if err := store.Update(next); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if store.Snapshot().Cache.Mode != CacheOff {
		t.Errorf("snapshot after update: expected off, got %q", store.Snapshot().Cache.Mode)
	}
}

func TestStore_UpdateRejectsInvalid(t *testing.T) {
	store := NewStore(defaults())
	bad := store.Snapshot()
	bad.Upstream = ""

	if err := store.Update(bad); err == nil {
		t.Error("expected Update to reject an empty upstream")
	}
	if store.Snapshot().Upstream == "" {
		t.Error("store should retain its prior valid settings after a rejected update")
	}
}
