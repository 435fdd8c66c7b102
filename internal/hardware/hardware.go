// Package hardware implements the Hardware Detector collaborator: a
// blocking, once-at-startup probe of the host's OS, CPU family, and GPU
// acceleration, producing the models.HardwareProfile adapter resolution
// consults.
package hardware

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"ioac/models"
)

// Detect produces a models.HardwareProfile for the current host. It
// classifies OS and CPU family from the Go runtime, probes for vendor GPU
// tooling, and reports total/available memory as reported by the caller
// (Go has no portable stdlib equivalent of sysinfo's memory query, so the
// caller supplies it — see Option below).
func Detect(ctx context.Context, opts ...Option) models.HardwareProfile {
	cfg := options{
		gpuProbeTimeout: 2 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}

	profile := models.HardwareProfile{
		OS:                   classifyOS(runtime.GOOS),
		CPUFamily:            classifyCPU(runtime.GOARCH, runtime.GOOS),
		TotalMemoryBytes:     cfg.totalMemoryBytes,
		AvailableMemoryBytes: cfg.availableMemoryBytes,
	}

	probeCtx, cancel := context.WithTimeout(ctx, cfg.gpuProbeTimeout)
	defer cancel()
	profile.GPUAvailable, profile.GPUType = detectGPU(probeCtx, profile.OS)

	return profile
}

type options struct {
	totalMemoryBytes     uint64
	availableMemoryBytes uint64
	gpuProbeTimeout      time.Duration
}

// Option customises Detect.
type Option func(*options)

// WithMemory supplies total/available memory, since the standard library
// has no portable way to query it (the teacher's corpus doesn't need this
// concern at all; the sysinfo crate the original source relies on has no
// Go stdlib equivalent, so the caller — typically reading /proc/meminfo or
// an orchestrator-level config override — supplies the figures instead).
func WithMemory(totalBytes, availableBytes uint64) Option {
	return func(o *options) {
		o.totalMemoryBytes = totalBytes
		o.availableMemoryBytes = availableBytes
	}
}

// WithGPUProbeTimeout bounds how long vendor CLI probes are allowed to run.
func WithGPUProbeTimeout(d time.Duration) Option {
	return func(o *options) { o.gpuProbeTimeout = d }
}

func classifyOS(goos string) string {
	switch goos {
	case "darwin":
		return "macos"
	case "windows":
		return "windows"
	case "linux":
		return "linux"
	default:
		return goos
	}
}

func classifyCPU(goarch, goos string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "arm64":
		if goos == "darwin" {
			return "apple-silicon"
		}
		return "arm"
	case "arm":
		return "arm"
	default:
		return goarch
	}
}

// detectGPU mirrors hardware.rs's detect_gpu: macOS is assumed to have
// Metal always available; Windows/Linux probe vendor CLI tools in order
// (nvidia-smi, rocm-smi, sycl-ls), requiring non-empty successful output,
// not just that the binary exists.
func detectGPU(ctx context.Context, os string) (bool, models.GPUType) {
	switch os {
	case "macos":
		return true, models.GPUMetal
	case "windows", "linux":
		if checkVendorGPU(ctx, "nvidia-smi", []string{"--query-gpu=name", "--format=csv,noheader"}, "") {
			return true, models.GPUCuda
		}
		if checkVendorGPU(ctx, "rocm-smi", []string{"--showid"}, "") {
			return true, models.GPURocm
		}
		if checkVendorGPU(ctx, "sycl-ls", nil, "Intel") {
			return true, models.GPUIntel
		}
		return false, models.GPUNone
	default:
		return false, models.GPUNone
	}
}

// checkVendorGPU runs a vendor probe binary and reports whether it exited
// successfully with non-empty output (and, when mustContain is set, output
// containing that substring). A binary that exists but reports no device
// is not treated as a usable GPU.
func checkVendorGPU(ctx context.Context, binary string, args []string, mustContain string) bool {
	cmd := exec.CommandContext(ctx, binary, args...)
	out, err := cmd.Output()
	if err != nil || len(out) == 0 {
		return false
	}
	if mustContain != "" && !strings.Contains(string(out), mustContain) {
		return false
	}
	return true
}
