// Package dispatch is the sharer's job executor: it reacts to begin
// events from the signal channel, fetches the renter's job archive,
// runs it in the sandbox off the control loop, and reports the outcome
// back through the same channel.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gpulend/gpulend-cli/internal/archive"
	"github.com/gpulend/gpulend-cli/internal/relay"
	"github.com/gpulend/gpulend-cli/internal/sandbox"
	"github.com/gpulend/gpulend-cli/internal/signal"
)

// Transport is the slice of the relay client the dispatcher needs.
type Transport interface {
	DownloadArtifact(ctx context.Context, ref relay.ArtifactRef, destPath string) error
	UploadArtifact(ctx context.Context, token, role, path string) (string, error)
	SendSignal(ctx context.Context, token, role string, payload signal.Payload) error
}

// Runner executes a prepared workspace. Satisfied by *sandbox.Runner.
type Runner interface {
	Run(ctx context.Context, opts sandbox.Options) (*sandbox.Result, error)
}

// Completion is posted to the completions channel when a background
// job finishes, so the control loop mutates its own state from one
// place only.
type Completion struct {
	Filename string
	Status   string // "done" or "failed"
	ExitCode int
	Duration time.Duration
	Err      error
}

// Dispatcher handles one session's incoming jobs. Its HandleBegin is
// called from the signal polling loop; execution happens in a
// background goroutine per job.
type Dispatcher struct {
	transport Transport
	runner    Runner
	token     string

	image   string
	ceiling time.Duration // hard cap on any renter-requested runtime
	gpu     bool

	completions chan Completion
	logf        func(format string, args ...any)
}

// Config carries the sharer's execution policy.
type Config struct {
	Token   string
	Image   string        // container image for jobs, sandbox default if empty
	Ceiling time.Duration // max runtime regardless of what the renter asks
	GPU     bool
	Logf    func(format string, args ...any)
}

// NewDispatcher builds a dispatcher for an active session.
func NewDispatcher(t Transport, r Runner, cfg Config) *Dispatcher {
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Dispatcher{
		transport:   t,
		runner:      r,
		token:       cfg.Token,
		image:       cfg.Image,
		ceiling:     cfg.Ceiling,
		gpu:         cfg.GPU,
		completions: make(chan Completion, 16),
		logf:        logf,
	}
}

// Completions is drained by the control loop on each tick.
func (d *Dispatcher) Completions() <-chan Completion { return d.completions }

// HandleBegin fetches the job archive and starts execution in the
// background. Fetch and extraction failures are reported to the renter
// as a failed done; they never block the polling loop for long.
func (d *Dispatcher) HandleBegin(b signal.Begin) {
	ctx := context.Background()
	d.logf("received job %s (cmd: %s)", b.Filename, b.Cmd)

	workdir, err := d.fetchWorkspace(ctx, b)
	if err != nil {
		d.logf("fetching job %s: %v", b.Filename, err)
		d.reportFailure(ctx, b, fmt.Sprintf("fetching job archive: %v", err))
		return
	}

	go d.execute(ctx, b, workdir)
}

// HandleOutput is a no-op on the sharer side; output messages are
// authored here and consumed by the renter.
func (d *Dispatcher) HandleOutput(signal.Output) {}

// HandleDone is likewise renter-bound.
func (d *Dispatcher) HandleDone(signal.Done) {}

// HandleSessionEnded is handled by the share control loop via the
// channel's ended flag; nothing to do here.
func (d *Dispatcher) HandleSessionEnded() {}

// fetchWorkspace downloads and unpacks the job archive into a fresh
// directory, ready to hand to the sandbox.
func (d *Dispatcher) fetchWorkspace(ctx context.Context, b signal.Begin) (string, error) {
	scratch, err := os.MkdirTemp("", "gpulend-job-")
	if err != nil {
		return "", err
	}

	ref := relay.ArtifactRef{ArtifactID: b.ArtifactID}
	if ref.ArtifactID == "" {
		// Older clients upload keyed by session token and filename.
		ref = relay.ArtifactRef{Token: d.token, Filename: b.Filename}
	}

	zipPath := filepath.Join(scratch, "job.zip")
	if err := d.transport.DownloadArtifact(ctx, ref, zipPath); err != nil {
		os.RemoveAll(scratch)
		return "", err
	}

	workdir := filepath.Join(scratch, "job")
	if err := archive.Unpack(zipPath, workdir); err != nil {
		os.RemoveAll(scratch)
		return "", fmt.Errorf("unpacking archive: %w", err)
	}
	os.Remove(zipPath)

	// A zip of a folder often has that folder as its single root
	// entry; the command expects to run at the project top level.
	if err := archive.NormalizeSingleDir(workdir); err != nil {
		os.RemoveAll(scratch)
		return "", err
	}
	if empty, err := archive.IsEmptyDir(workdir); err != nil || empty {
		os.RemoveAll(scratch)
		return "", fmt.Errorf("job archive is empty")
	}
	return workdir, nil
}

// execute runs the job, uploads the result archive, and signals the
// outcome. Runs in its own goroutine; every failure path still ends in
// a done so the renter is never left waiting.
func (d *Dispatcher) execute(ctx context.Context, b signal.Begin, workdir string) {
	defer os.RemoveAll(filepath.Dir(workdir))
	start := time.Now()

	res, err := d.runner.Run(ctx, sandbox.Options{
		JobFolder: workdir,
		Cmd:       b.Cmd,
		Image:     d.image,
		Timeout:   d.jobTimeout(b),
		GPU:       d.gpu,
	})
	if err != nil {
		d.logf("running job %s: %v", b.Filename, err)
		d.reportFailure(ctx, b, fmt.Sprintf("runner error: %v", err))
		d.complete(Completion{Filename: b.Filename, Status: "failed", ExitCode: -1, Duration: time.Since(start), Err: err})
		return
	}

	artifact := d.uploadResult(ctx, res)

	status := "done"
	if !res.OK {
		status = "failed"
	}
	message := fmt.Sprintf("exit=%d\nstdout:\n%s\nstderr:\n%s", res.ExitCode, res.Stdout, res.Stderr)

	// Logs first, then the terminal done carrying artifact metadata.
	// The done is what moves the renter's queue forward, so it is
	// sent even when the output post fails.
	if err := d.transport.SendSignal(ctx, d.token, signal.RoleSharer, signal.Output{Status: status, Message: message}); err != nil {
		d.logf("posting job output: %v", err)
	}
	done := signal.Done{Status: status, Message: message, Artifact: artifact}
	if err := d.transport.SendSignal(ctx, d.token, signal.RoleRenter, done); err != nil {
		d.logf("posting job done: %v", err)
	}

	d.complete(Completion{
		Filename: b.Filename,
		Status:   status,
		ExitCode: res.ExitCode,
		Duration: time.Since(start),
	})
}

// uploadResult ships the workspace zip back and describes the outcome
// for the done payload. Upload failure is reported, not fatal.
func (d *Dispatcher) uploadResult(ctx context.Context, res *sandbox.Result) *signal.Artifact {
	if res.WorkspaceZip == "" {
		return &signal.Artifact{Uploaded: false, Error: "no artifact produced"}
	}
	defer os.Remove(res.WorkspaceZip)

	info, statErr := os.Stat(res.WorkspaceZip)
	artifact := &signal.Artifact{Filename: filepath.Base(res.WorkspaceZip)}
	if statErr == nil {
		artifact.Size = info.Size()
	}

	id, err := d.transport.UploadArtifact(ctx, d.token, signal.RoleSharer, res.WorkspaceZip)
	if err != nil {
		d.logf("uploading result archive: %v", err)
		artifact.Error = err.Error()
		return artifact
	}
	artifact.Uploaded = true
	artifact.ArtifactID = id
	return artifact
}

// jobTimeout clamps the renter's requested runtime to the sharer's
// configured ceiling. The renter's number is advisory; this machine's
// limit wins.
func (d *Dispatcher) jobTimeout(b signal.Begin) time.Duration {
	requested := time.Duration(b.MaxTime) * time.Second
	if requested <= 0 {
		return d.ceiling
	}
	if d.ceiling > 0 && requested > d.ceiling {
		return d.ceiling
	}
	return requested
}

func (d *Dispatcher) reportFailure(ctx context.Context, b signal.Begin, msg string) {
	done := signal.Done{
		Status:   "failed",
		Message:  msg,
		Artifact: &signal.Artifact{Uploaded: false, Error: msg},
	}
	if err := d.transport.SendSignal(ctx, d.token, signal.RoleRenter, done); err != nil {
		d.logf("posting failure done: %v", err)
	}
}

// complete posts without blocking; if the control loop has fallen this
// far behind, dropping the local notification is better than wedging
// the executor (the renter already has its done).
func (d *Dispatcher) complete(c Completion) {
	select {
	case d.completions <- c:
	default:
		d.logf("completion channel full, dropping notification for %s", c.Filename)
	}
}
