package platform

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// FindPodman locates the podman executable: PATH first, then the
// standard install locations per OS. Returns empty string if absent.
func FindPodman() string {
	if path, err := exec.LookPath("podman"); err == nil {
		return path
	}

	var candidates []string
	if IsWindows() {
		candidates = []string{
			`C:\Program Files\RedHat\Podman\podman.exe`,
			`C:\Program Files\Podman\podman.exe`,
		}
	} else {
		candidates = []string{
			"/usr/local/bin/podman",
			"/usr/bin/podman",
			"/bin/podman",
		}
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// machineTriggers are the "podman info" failure fragments that indicate
// a missing or stopped podman machine rather than some other fault.
var machineTriggers = []string{
	"vm does not exist",
	"unable to connect",
	"no connection",
	"cannot connect",
	"connection refused",
}

// EnsurePodmanMachine verifies the VM backing podman is reachable on
// macOS and Windows, starting (and if needed, initializing) the default
// machine. On Linux there is no machine and this is a no-op.
func EnsurePodmanMachine(ctx context.Context, podmanPath string) error {
	if IsLinux() {
		return nil
	}

	rc, _, stderr := runPodman(ctx, podmanPath, 20*time.Second, "info")
	if rc == 0 {
		return nil
	}

	errText := strings.ToLower(stderr)
	triggered := false
	for _, t := range machineTriggers {
		if strings.Contains(errText, t) {
			triggered = true
			break
		}
	}
	if !triggered {
		return fmt.Errorf("podman info failed: %s", strings.TrimSpace(stderr))
	}

	rc, _, stderr = runPodman(ctx, podmanPath, 2*time.Minute, "machine", "start")
	if rc == 0 {
		return nil
	}

	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "vm does not exist") || strings.Contains(lower, "not found") {
		if rc, _, initErr := runPodman(ctx, podmanPath, 2*time.Minute, "machine", "init"); rc != 0 {
			return fmt.Errorf("podman machine init failed: %s", strings.TrimSpace(initErr))
		}
		if rc, _, startErr := runPodman(ctx, podmanPath, 2*time.Minute, "machine", "start"); rc != 0 {
			return fmt.Errorf("podman machine start failed after init: %s", strings.TrimSpace(startErr))
		}
		return nil
	}
	return fmt.Errorf("podman machine start failed: %s", strings.TrimSpace(stderr))
}

// runPodman executes a podman subcommand with a timeout and returns
// (exit code, stdout, stderr). Exit code -1 means the process did not
// run to completion.
func runPodman(ctx context.Context, podmanPath string, timeout time.Duration, args ...string) (int, string, string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, podmanPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), stdout.String(), stderr.String()
		}
		return -1, stdout.String(), stderr.String()
	}
	return 0, stdout.String(), stderr.String()
}
