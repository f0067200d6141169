// Package sandbox runs a job's command inside a locked-down podman
// container. The job folder is copied into a scratch workspace first;
// the container only ever sees the copy, and the whole workspace
// (outputs, logs and all) is zipped up afterwards.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gpulend/gpulend-cli/internal/archive"
	"github.com/gpulend/gpulend-cli/internal/platform"
)

const (
	// maxLogBytes bounds the stdout/stderr carried back over the
	// signal channel. The full logs stay in the workspace zip.
	maxLogBytes = 200_000

	defaultImage   = "docker.io/library/python:3.11-slim"
	defaultTimeout = 10 * time.Minute
)

var (
	// ErrRuntimeNotFound means no podman executable could be located.
	ErrRuntimeNotFound = errors.New("podman not found; install podman to run jobs")

	// ErrMachineUnavailable means the podman VM could not be brought up.
	ErrMachineUnavailable = errors.New("podman machine unavailable")

	// ErrUnsupportedPlatform means this OS has no supported podman setup.
	ErrUnsupportedPlatform = errors.New("unsupported platform for the container runtime")

	// ErrEmptyWorkspace means the job folder had no files to run against.
	ErrEmptyWorkspace = errors.New("job folder is empty")
)

// Options describes one sandboxed run.
type Options struct {
	JobFolder string        // directory copied into the workspace
	Cmd       string        // shell command executed in /workspace
	Image     string        // container image, defaultImage if empty
	Timeout   time.Duration // hard wall clock limit, defaultTimeout if zero

	CPUCores int     // --cpus, 0 = unlimited
	RAMGB    float64 // --memory, 0 = unlimited
	GPU      bool    // expose GPUs via CDI

	// KeepDirs leaves the scratch workspace on disk for inspection.
	KeepDirs bool
}

// Result is the outcome of a sandboxed run.
type Result struct {
	OK           bool
	ExitCode     int
	Stdout       string
	Stderr       string
	WorkspaceZip string // empty when KeepDirs is false or zipping failed
	Workspace    string // set only when KeepDirs
	Duration     time.Duration
}

// Runner executes jobs with podman. The zero value is not usable; use
// NewRunner.
type Runner struct {
	podmanPath string
}

// NewRunner locates podman and, on macOS and Windows, ensures the
// backing machine is running.
func NewRunner(ctx context.Context) (*Runner, error) {
	switch platform.OS() {
	case "linux", "darwin", "windows":
	default:
		return nil, ErrUnsupportedPlatform
	}
	path := platform.FindPodman()
	if path == "" {
		return nil, ErrRuntimeNotFound
	}
	if err := platform.EnsurePodmanMachine(ctx, path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMachineUnavailable, err)
	}
	return &Runner{podmanPath: path}, nil
}

// NewRunnerWithPath builds a runner around a known podman executable,
// skipping discovery and machine checks. Used by tests and callers
// that have already done the probing.
func NewRunnerWithPath(path string) *Runner {
	return &Runner{podmanPath: path}
}

// Run copies the job folder into a fresh workspace, executes the
// command in a container with the workspace mounted at /workspace, and
// returns logs plus a zip of the workspace. The returned error covers
// setup failures only; a failing command is reported through
// Result.ExitCode.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Image == "" {
		opts.Image = defaultImage
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	empty, err := archive.IsEmptyDir(opts.JobFolder)
	if err != nil {
		return nil, fmt.Errorf("reading job folder: %w", err)
	}
	if empty {
		return nil, ErrEmptyWorkspace
	}

	scratch, err := os.MkdirTemp(platform.WorkDir(), "gpulend-run-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	workspace := filepath.Join(scratch, "workspace")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		os.RemoveAll(scratch)
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	if err := archive.CopyTree(opts.JobFolder, workspace); err != nil {
		os.RemoveAll(scratch)
		return nil, fmt.Errorf("copying job folder: %w", err)
	}
	// The container user may differ from ours; the workspace must be
	// writable for stdout.log/stderr.log regardless.
	os.Chmod(workspace, 0o777)

	res, runErr := r.runContainer(ctx, opts, workspace)
	if runErr != nil {
		if !opts.KeepDirs {
			os.RemoveAll(scratch)
		}
		return nil, runErr
	}

	zipPath := filepath.Join(scratch, "workspace.zip")
	if err := archive.ZipDir(workspace, zipPath); err == nil {
		res.WorkspaceZip = zipPath
	}

	if opts.KeepDirs {
		res.Workspace = workspace
	} else {
		// The zip must outlive the workspace; the caller removes it
		// after upload.
		os.RemoveAll(workspace)
	}
	return res, nil
}

func (r *Runner) runContainer(ctx context.Context, opts Options, workspace string) (*Result, error) {
	name := containerName()
	args := r.containerArgs(opts, workspace, name, networkFlag())

	start := time.Now()
	rc, stdout, stderr, timedOut := r.execute(ctx, opts.Timeout, name, args)

	// Rootless setups without slirp4netns can still run on the bridge.
	if rc != 0 && !timedOut && strings.Contains(stderr, "slirp4netns") {
		name = containerName()
		args = r.containerArgs(opts, workspace, name, "bridge")
		rc, stdout, stderr, timedOut = r.execute(ctx, opts.Timeout, name, args)
	}

	res := &Result{
		OK:       rc == 0,
		ExitCode: rc,
		Duration: time.Since(start),
	}
	if timedOut {
		res.OK = false
		res.ExitCode = -1
		stderr = fmt.Sprintf("timeout: command exceeded %s", opts.Timeout)
	}

	// Prefer the in-workspace logs (written by the command itself);
	// fall back to whatever podman captured.
	res.Stdout = readLog(filepath.Join(workspace, "stdout.log"), stdout)
	res.Stderr = readLog(filepath.Join(workspace, "stderr.log"), stderr)
	return res, nil
}

// containerArgs builds the podman run argument list. The container is
// throwaway and unprivileged: no capabilities, no privilege
// escalation, bounded pids.
func (r *Runner) containerArgs(opts Options, workspace, name, network string) []string {
	args := []string{
		"run", "--rm",
		"--name", name,
		"--security-opt", "no-new-privileges",
		"--cap-drop", "ALL",
		"--pids-limit", "128",
	}
	if network != "" {
		args = append(args, "--network", network)
	}
	if opts.CPUCores > 0 {
		args = append(args, "--cpus", fmt.Sprintf("%d", opts.CPUCores))
	}
	if opts.RAMGB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%.0fg", opts.RAMGB))
	}
	if opts.GPU {
		args = append(args, "--device", "nvidia.com/gpu=all")
	}

	mount := workspace + ":/workspace:rw"
	if platform.IsLinux() {
		mount += ",Z"
	}
	args = append(args, "-v", mount, opts.Image, "sh", "-c", innerScript(opts, workspace))
	return args
}

// innerScript is what runs inside the container: install declared
// dependencies if present, then run the job command with its output
// captured into the workspace.
func innerScript(opts Options, workspace string) string {
	var b strings.Builder
	b.WriteString("set -eu; cd /workspace; ")
	if _, err := os.Stat(filepath.Join(workspace, "requirements.txt")); err == nil {
		b.WriteString("if command -v pip >/dev/null 2>&1; then pip install --no-cache-dir -q -r requirements.txt; fi; ")
	}
	b.WriteString("HOME=/tmp sh -c ")
	b.WriteString(shellQuote(opts.Cmd))
	b.WriteString(" > /workspace/stdout.log 2> /workspace/stderr.log")
	return b.String()
}

// execute runs podman with a hard wall clock limit. On timeout the
// whole process group is killed and (rc=-1, timedOut=true) returned.
func (r *Runner) execute(ctx context.Context, timeout time.Duration, name string, args []string) (rc int, stdout, stderr string, timedOut bool) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(r.podmanPath, args...)
	setupProcessGroup(cmd)

	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Start(); err != nil {
		return -1, "", fmt.Sprintf("starting podman: %v", err), false
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		rc = 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			rc = exitErr.ExitCode()
		} else if err != nil {
			rc = -1
		}
		return rc, outBuf.String(), errBuf.String(), false
	case <-runCtx.Done():
		killProcessGroup(cmd)
		<-done
		// Best effort: --rm removes the container once the runtime
		// notices, but don't leave it lingering.
		rm := exec.Command(r.podmanPath, "rm", "-f", name)
		rm.Run()
		return -1, outBuf.String(), errBuf.String(), true
	}
}

// readLog returns the file's contents, truncated to maxLogBytes, or
// the fallback when the file is missing.
func readLog(path, fallback string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return Truncate(fallback)
	}
	return Truncate(string(data))
}

// Truncate caps a log at maxLogBytes, marking the cut.
func Truncate(s string) string {
	if len(s) <= maxLogBytes {
		return s
	}
	return s[:maxLogBytes] + "\n...[truncated]\n"
}

func containerName() string {
	return "gpulend-" + uuid.NewString()[:12]
}

// shellQuote wraps s in single quotes for sh -c, escaping embedded
// single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// networkFlag picks the container network: user-mode networking with
// host loopback blocked on Linux, the platform default inside the
// podman machine elsewhere.
func networkFlag() string {
	if platform.IsLinux() {
		return "slirp4netns:allow_host_loopback=false"
	}
	return ""
}
