package platform

import (
	"os"
	"path/filepath"
	"runtime"
)

// OS returns the current operating system (linux, darwin or windows)
func OS() string {
	return runtime.GOOS
}

// IsLinux returns true if running on Linux
func IsLinux() bool {
	return runtime.GOOS == "linux"
}

// IsDarwin returns true if running on macOS
func IsDarwin() bool {
	return runtime.GOOS == "darwin"
}

// IsWindows returns true if running on Windows
func IsWindows() bool {
	return runtime.GOOS == "windows"
}

// ConfigDir returns the per-user configuration directory (~/.gpulend).
// The directory is not created here; callers create it on first write.
// GPULEND_CONFIG_DIR overrides the location.
func ConfigDir() string {
	if dir := os.Getenv("GPULEND_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gpulend"
	}
	return filepath.Join(home, ".gpulend")
}

// WorkDir returns the base directory for sandbox workspaces. It honors
// the GPULEND_WORKDIR override, prefers /var/tmp on unix systems so big
// job folders don't land on a size-limited tmpfs, and falls back to the
// OS temp dir.
func WorkDir() string {
	if dir := os.Getenv("GPULEND_WORKDIR"); dir != "" {
		return dir
	}
	if !IsWindows() {
		if fi, err := os.Stat("/var/tmp"); err == nil && fi.IsDir() {
			return "/var/tmp"
		}
	}
	return os.TempDir()
}
