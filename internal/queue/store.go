package queue

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/gpulend/gpulend-cli/internal/platform"
)

const queueFile = "jobs.yaml"

// Store persists the job queue to a YAML file so queued work survives
// between invocations.
type Store struct {
	path string
}

// NewStore uses the default queue file under the config directory.
func NewStore() *Store {
	return &Store{path: filepath.Join(platform.ConfigDir(), queueFile)}
}

// NewStoreAt uses an explicit file path.
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

type queueDoc struct {
	Jobs []*Job `yaml:"jobs"`
}

// Load reads the queue file. A missing file is an empty queue.
func (s *Store) Load() ([]*Job, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading queue file: %w", err)
	}
	var doc queueDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return doc.Jobs, nil
}

// Save writes the queue file, creating the config directory if needed.
func (s *Store) Save(jobs []*Job) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(queueDoc{Jobs: jobs})
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
