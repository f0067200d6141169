// Package config loads and saves the client's settings file:
// credentials, relay location, declared hardware, and sharing policy.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gpulend/gpulend-cli/internal/platform"
)

const (
	settingsFile = "config.yaml"

	// DefaultRelayURL is the public relay; overridable per command.
	DefaultRelayURL = "http://localhost:8000"

	// DefaultMaxRuntime caps a rented job's runtime when sharing.
	DefaultMaxRuntime = time.Hour
)

// Settings is everything persisted under the config directory.
type Settings struct {
	RelayURL string `yaml:"relay_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Profile is the hardware declared when sharing. Values above
	// what the machine actually has are clamped at announce time.
	Profile platform.Profile `yaml:"profile"`

	// AutoAccept answers incoming rent requests without prompting.
	AutoAccept bool `yaml:"auto_accept"`

	// MaxRuntime is this sharer's ceiling for any single job.
	MaxRuntime time.Duration `yaml:"max_runtime"`

	// Image overrides the container image used for rented jobs.
	Image string `yaml:"image,omitempty"`
}

func defaults() Settings {
	return Settings{
		RelayURL:   DefaultRelayURL,
		MaxRuntime: DefaultMaxRuntime,
	}
}

func path() string {
	return filepath.Join(platform.ConfigDir(), settingsFile)
}

// Load reads the settings file, filling defaults for anything unset.
// A missing file yields pure defaults, not an error.
func Load() (Settings, error) {
	s := defaults()
	data, err := os.ReadFile(path())
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parsing %s: %w", path(), err)
	}
	if s.RelayURL == "" {
		s.RelayURL = DefaultRelayURL
	}
	if s.MaxRuntime <= 0 {
		s.MaxRuntime = DefaultMaxRuntime
	}
	return s, nil
}

// Save writes the settings file with owner-only permissions (it holds
// the relay password).
func Save(s Settings) error {
	dir := platform.ConfigDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, settingsFile), data, 0o600)
}

// LoggedIn reports whether stored credentials exist.
func (s Settings) LoggedIn() bool {
	return s.Username != "" && s.Password != ""
}
