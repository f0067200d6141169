package platform

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// GPUInfo describes one detected GPU.
type GPUInfo struct {
	Name   string
	VRAMGB float64
}

// GPUDetector defines GPU detection operations for one platform.
type GPUDetector interface {
	HasGPU() bool
	GetGPUInfo() ([]GPUInfo, error)
}

// GetGPUDetector returns the appropriate GPU detector for the current OS
func GetGPUDetector() (GPUDetector, error) {
	switch OS() {
	case "linux":
		return &nvidiaDetector{}, nil
	case "windows":
		return &nvidiaDetector{smiPath: windowsNvidiaSMI()}, nil
	case "darwin":
		return &darwinDetector{}, nil
	default:
		return nil, fmt.Errorf("unsupported operating system: %s", OS())
	}
}

// nvidiaDetector queries nvidia-smi. Works on Linux and Windows.
type nvidiaDetector struct {
	smiPath string // optional explicit path; falls back to PATH lookup
}

func (d *nvidiaDetector) smi() string {
	if d.smiPath != "" {
		return d.smiPath
	}
	return "nvidia-smi"
}

func (d *nvidiaDetector) HasGPU() bool {
	cmd := exec.Command(d.smi(), "-L")
	return cmd.Run() == nil
}

func (d *nvidiaDetector) GetGPUInfo() ([]GPUInfo, error) {
	cmd := exec.Command(d.smi(), "--query-gpu=name,memory.total", "--format=csv,noheader,nounits")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to query NVIDIA GPUs: %w", err)
	}
	return parseNvidiaSMI(string(output)), nil
}

// parseNvidiaSMI parses "name, memory-MB" CSV lines from nvidia-smi.
func parseNvidiaSMI(output string) []GPUInfo {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	gpus := make([]GPUInfo, 0, len(lines))
	for _, line := range lines {
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			continue
		}
		gpu := GPUInfo{Name: strings.TrimSpace(parts[0])}
		if mb, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err == nil {
			gpu.VRAMGB = mb / 1024
		}
		gpus = append(gpus, gpu)
	}
	return gpus
}

// windowsNvidiaSMI returns the standard install path of nvidia-smi.exe
// if present, otherwise empty so the PATH lookup applies.
func windowsNvidiaSMI() string {
	path := `C:\Program Files\NVIDIA Corporation\NVSMI\nvidia-smi.exe`
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// darwinDetector parses system_profiler output for Metal GPUs.
type darwinDetector struct{}

func (d *darwinDetector) HasGPU() bool {
	cmd := exec.Command("system_profiler", "SPDisplaysDataType")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(output), "Chipset Model:")
}

func (d *darwinDetector) GetGPUInfo() ([]GPUInfo, error) {
	cmd := exec.Command("system_profiler", "SPDisplaysDataType")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to query GPU info: %w", err)
	}
	gpus := parseSystemProfiler(string(output))
	if len(gpus) == 0 {
		return nil, fmt.Errorf("no GPUs detected")
	}
	return gpus, nil
}

func parseSystemProfiler(output string) []GPUInfo {
	var gpus []GPUInfo
	var current *GPUInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Chipset Model:"):
			if current != nil {
				gpus = append(gpus, *current)
			}
			current = &GPUInfo{Name: strings.TrimSpace(strings.TrimPrefix(line, "Chipset Model:"))}
		case current != nil && strings.HasPrefix(line, "VRAM (Total):"):
			memStr := strings.TrimSpace(strings.TrimPrefix(line, "VRAM (Total):"))
			if gb, ok := parseVRAM(memStr); ok {
				current.VRAMGB = gb
			}
		}
	}
	if current != nil {
		gpus = append(gpus, *current)
	}
	return gpus
}

func parseVRAM(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "GB") {
		if v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "GB")), 64); err == nil {
			return v, true
		}
	}
	if strings.HasSuffix(s, "MB") {
		if v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "MB")), 64); err == nil {
			return v / 1024, true
		}
	}
	return 0, false
}
