package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakePodman writes an executable shell script standing in for podman.
func fakePodman(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "podman")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func jobFolder(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestTruncate(t *testing.T) {
	short := "hello"
	if got := Truncate(short); got != short {
		t.Errorf("short log modified: %q", got)
	}

	long := strings.Repeat("x", maxLogBytes+500)
	got := Truncate(long)
	if !strings.HasSuffix(got, "...[truncated]\n") {
		t.Errorf("truncated log missing marker: ...%q", got[len(got)-30:])
	}
	if len(got) > maxLogBytes+len("\n...[truncated]\n") {
		t.Errorf("truncated log too long: %d bytes", len(got))
	}
}

func TestContainerArgs(t *testing.T) {
	r := NewRunnerWithPath("podman")
	ws := t.TempDir()

	args := r.containerArgs(Options{Cmd: "python main.py"}, ws, "gpulend-test", "bridge")
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--rm",
		"--security-opt no-new-privileges",
		"--cap-drop ALL",
		"--pids-limit 128",
		"--network bridge",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	for _, banned := range []string{"--cpus", "--memory", "--device"} {
		if strings.Contains(joined, banned) {
			t.Errorf("unlimited run should not carry %q: %s", banned, joined)
		}
	}
	if !strings.Contains(joined, ws+":/workspace:rw") {
		t.Errorf("workspace mount missing: %s", joined)
	}
}

func TestContainerArgsResourceLimits(t *testing.T) {
	r := NewRunnerWithPath("podman")
	args := r.containerArgs(Options{Cmd: "true", CPUCores: 4, RAMGB: 8, GPU: true}, t.TempDir(), "n", "")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "--cpus 4") {
		t.Errorf("missing cpu limit: %s", joined)
	}
	if !strings.Contains(joined, "--memory 8g") {
		t.Errorf("missing memory limit: %s", joined)
	}
	if !strings.Contains(joined, "--device nvidia.com/gpu=all") {
		t.Errorf("missing gpu device: %s", joined)
	}
	if strings.Contains(joined, "--network") {
		t.Errorf("empty network should add no flag: %s", joined)
	}
}

func TestInnerScriptQuoting(t *testing.T) {
	ws := t.TempDir()
	script := innerScript(Options{Cmd: `echo 'it works'`}, ws)
	if !strings.Contains(script, "cd /workspace") {
		t.Errorf("script missing workspace cd: %s", script)
	}
	if !strings.Contains(script, `'\''it works'\''`) {
		t.Errorf("embedded quotes not escaped: %s", script)
	}
	if strings.Contains(script, "requirements.txt") {
		t.Errorf("no requirements file, no pip install: %s", script)
	}

	os.WriteFile(filepath.Join(ws, "requirements.txt"), []byte("requests\n"), 0o644)
	script = innerScript(Options{Cmd: "true"}, ws)
	if !strings.Contains(script, "pip install") {
		t.Errorf("requirements present but not installed: %s", script)
	}
}

func TestRunEmptyFolder(t *testing.T) {
	r := NewRunnerWithPath(fakePodman(t, "exit 0"))
	_, err := r.Run(context.Background(), Options{JobFolder: t.TempDir(), Cmd: "true"})
	if !errors.Is(err, ErrEmptyWorkspace) {
		t.Fatalf("err = %v, want ErrEmptyWorkspace", err)
	}
}

func TestRunCapturesWorkspaceLogs(t *testing.T) {
	// The copied workspace already contains the log files the command
	// would have written; a no-op podman leaves them as-is.
	folder := jobFolder(t, map[string]string{
		"main.py":    "print('hi')\n",
		"stdout.log": "hi\n",
		"stderr.log": "",
	})
	r := NewRunnerWithPath(fakePodman(t, "exit 0"))

	res, err := r.Run(context.Background(), Options{JobFolder: folder, Cmd: "python main.py"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.OK || res.ExitCode != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Stdout != "hi\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if res.WorkspaceZip == "" {
		t.Fatal("no workspace zip produced")
	}
	if _, err := os.Stat(res.WorkspaceZip); err != nil {
		t.Errorf("workspace zip missing: %v", err)
	}
	os.RemoveAll(filepath.Dir(res.WorkspaceZip))
}

func TestRunNonZeroExit(t *testing.T) {
	folder := jobFolder(t, map[string]string{"main.py": "x"})
	r := NewRunnerWithPath(fakePodman(t, "echo boom >&2; exit 3"))

	res, err := r.Run(context.Background(), Options{JobFolder: folder, Cmd: "python main.py"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.OK || res.ExitCode != 3 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Stderr, "boom") {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.WorkspaceZip != "" {
		os.RemoveAll(filepath.Dir(res.WorkspaceZip))
	}
}

func TestRunTimeoutKills(t *testing.T) {
	folder := jobFolder(t, map[string]string{"main.py": "x"})
	r := NewRunnerWithPath(fakePodman(t, "sleep 30"))

	start := time.Now()
	res, err := r.Run(context.Background(), Options{
		JobFolder: folder,
		Cmd:       "python main.py",
		Timeout:   200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
	if res.OK || res.ExitCode != -1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Stderr, "timeout") {
		t.Errorf("stderr = %q, want timeout marker", res.Stderr)
	}
	if res.WorkspaceZip != "" {
		os.RemoveAll(filepath.Dir(res.WorkspaceZip))
	}
}

func TestRunSlirpFallback(t *testing.T) {
	folder := jobFolder(t, map[string]string{"main.py": "x"})
	// Fail once complaining about slirp4netns, succeed on the bridge.
	script := `case "$*" in
*slirp4netns*) echo "error: slirp4netns binary not found" >&2; exit 126 ;;
*) exit 0 ;;
esac`
	r := NewRunnerWithPath(fakePodman(t, script))

	res, err := r.Run(context.Background(), Options{JobFolder: folder, Cmd: "true"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.OK {
		t.Fatalf("bridge fallback did not run: %+v", res)
	}
	if res.WorkspaceZip != "" {
		os.RemoveAll(filepath.Dir(res.WorkspaceZip))
	}
}

func TestRunSingleFileJobFolder(t *testing.T) {
	// The scratch workspace does not exist until Run creates it; a
	// flat folder whose first entry is a regular file must still copy.
	folder := jobFolder(t, map[string]string{"main.py": "print('hello')\n"})
	r := NewRunnerWithPath(fakePodman(t, "exit 0"))

	res, err := r.Run(context.Background(), Options{JobFolder: folder, Cmd: "python main.py"})
	if err != nil {
		t.Fatalf("Run on a flat job folder: %v", err)
	}
	if !res.OK || res.ExitCode != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.WorkspaceZip == "" {
		t.Fatal("no workspace zip produced")
	}
	os.RemoveAll(filepath.Dir(res.WorkspaceZip))
}
