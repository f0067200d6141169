package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gpulend/gpulend-cli/internal/platform"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Setenv("GPULEND_CONFIG_DIR", t.TempDir())

	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.RelayURL != DefaultRelayURL {
		t.Errorf("relay url = %q", s.RelayURL)
	}
	if s.MaxRuntime != DefaultMaxRuntime {
		t.Errorf("max runtime = %s", s.MaxRuntime)
	}
	if s.LoggedIn() {
		t.Error("fresh settings should not be logged in")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("GPULEND_CONFIG_DIR", filepath.Join(t.TempDir(), "cfg"))

	in := Settings{
		RelayURL:   "http://relay.example:8000",
		Username:   "alice",
		Password:   "secret",
		AutoAccept: true,
		MaxRuntime: 45 * time.Minute,
	}
	in.Profile.VRAMGB = 12
	if err := Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Username != "alice" || out.Password != "secret" || !out.AutoAccept {
		t.Errorf("settings = %+v", out)
	}
	if out.MaxRuntime != 45*time.Minute || out.Profile.VRAMGB != 12 {
		t.Errorf("settings = %+v", out)
	}
	if !out.LoggedIn() {
		t.Error("saved credentials should read as logged in")
	}

	// The file holds a password; it must not be world-readable.
	info, err := os.Stat(filepath.Join(platform.ConfigDir(), settingsFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %o", perm)
	}
}

func TestLoadFillsZeroedFields(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GPULEND_CONFIG_DIR", dir)
	if err := os.WriteFile(filepath.Join(dir, settingsFile), []byte("username: bob\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.RelayURL != DefaultRelayURL || s.MaxRuntime != DefaultMaxRuntime {
		t.Errorf("defaults not applied: %+v", s)
	}
	if s.Username != "bob" {
		t.Errorf("username = %q", s.Username)
	}
}
