package platform

import (
	"math"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Profile is the resource ceiling a sharer declares to the relay. A
// declared profile is always clamped to the physically detected limits
// before it leaves the machine.
type Profile struct {
	GPUName    string  `json:"gpu" yaml:"gpu"`
	VRAMGB     float64 `json:"vram" yaml:"vram"`
	CPUCores   int     `json:"cpu_cores" yaml:"cpu_cores"`
	CPUThreads int     `json:"cpu_threads" yaml:"cpu_threads"`
	RAMGB      float64 `json:"ram_gb" yaml:"ram_gb"`
	NumGPU     int     `json:"num_gpu" yaml:"num_gpu"`
}

// DetectProfile gathers the physical machine profile: CPU topology and
// RAM via gopsutil, GPU name/VRAM via the platform detector. GPU
// detection failure is not an error; the profile just reports no GPU.
func DetectProfile() Profile {
	p := Profile{GPUName: "None"}

	if cores, err := cpu.Counts(false); err == nil {
		p.CPUCores = cores
	}
	if threads, err := cpu.Counts(true); err == nil {
		p.CPUThreads = threads
	}
	if v, err := mem.VirtualMemory(); err == nil {
		p.RAMGB = math.Round(float64(v.Total)/(1024*1024*1024)*100) / 100
	}

	detector, err := GetGPUDetector()
	if err != nil {
		return p
	}
	gpus, err := detector.GetGPUInfo()
	if err != nil || len(gpus) == 0 {
		return p
	}
	p.GPUName = gpus[0].Name
	p.VRAMGB = math.Round(gpus[0].VRAMGB*100) / 100
	p.NumGPU = len(gpus)
	return p
}

// Clamp limits a declared profile to the detected physical machine. A
// zero declared field means "use the detected value". The GPU name and
// count always come from detection.
func Clamp(declared, detected Profile) Profile {
	out := detected
	if declared.VRAMGB > 0 && declared.VRAMGB < detected.VRAMGB {
		out.VRAMGB = declared.VRAMGB
	}
	if declared.CPUCores > 0 && declared.CPUCores < detected.CPUCores {
		out.CPUCores = declared.CPUCores
	}
	if declared.CPUThreads > 0 && declared.CPUThreads < detected.CPUThreads {
		out.CPUThreads = declared.CPUThreads
	}
	if declared.RAMGB > 0 && declared.RAMGB < detected.RAMGB {
		out.RAMGB = declared.RAMGB
	}
	if declared.NumGPU > 0 && declared.NumGPU < detected.NumGPU {
		out.NumGPU = declared.NumGPU
	}
	return out
}
