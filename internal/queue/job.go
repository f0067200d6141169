// Package queue holds the renter's local job queue: a FIFO list of job
// folders waiting to be shipped to a sharer, persisted to disk between
// invocations, and the pipeline that feeds jobs into an active session
// one at a time.
package queue

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Priority orders jobs within the queue. Higher priorities run first;
// ties keep insertion order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParsePriority accepts the string forms used on the CLI and in the
// queue file.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "":
		return PriorityLow, nil
	case "medium", "med":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityLow, fmt.Errorf("unknown priority %q (low, medium, high)", s)
	}
}

func (p Priority) MarshalYAML() (any, error) { return p.String(), nil }

func (p *Priority) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Job statuses. Waiting through Running are queue-driven; anything
// else is a remote status echoed from the sharer and treated as
// terminal for display.
const (
	StatusWaiting   = "waiting"
	StatusUploading = "uploading"
	StatusRunning   = "running on sharer"
	StatusDone      = "done"
	StatusFailed    = "failed"
)

// Job is one unit of work: a folder plus the command to run inside it.
type Job struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Folder   string   `yaml:"folder"`
	Command  string   `yaml:"command"`
	Priority Priority `yaml:"priority"`
	Status   string   `yaml:"status"`
}

// NewJob builds a Waiting job with a fresh ID. Name defaults to the
// folder's base name when empty; that is handled by the caller, which
// has the cleaned path.
func NewJob(name, folder, command string, prio Priority) *Job {
	return &Job{
		ID:       uuid.NewString()[:8],
		Name:     name,
		Folder:   folder,
		Command:  command,
		Priority: prio,
		Status:   StatusWaiting,
	}
}

// Terminal reports whether the job is finished (successfully or not).
// Anything else, including the mirrored "remote: <status>" reports,
// is in-flight work that a later session may pick back up.
func (j *Job) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusFailed
}
