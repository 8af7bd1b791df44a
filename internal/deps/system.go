package deps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"unmix/internal/config"
)

// CheckSystemDeps evaluates the external binaries the worker shells out to.
// Both the daemon status surface and the CLI health command use this so the
// requirements list lives in one place.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []Status {
	requirements := []Requirement{
		{
			Name:        "audio-separator",
			Command:     cfg.SeparatorBinary(),
			Description: "Required for running separation models",
		},
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Used by the engine for non-WAV output encoding",
			Optional:    true,
		},
	}
	statuses := CheckBinaries(requirements)
	statuses = append(statuses, CheckGPU(ctx))
	return statuses
}

// CheckGPU probes NVIDIA driver availability through nvidia-smi. A missing
// GPU is reported, never fatal: the engine falls back to CPU inference on
// its own.
func CheckGPU(ctx context.Context) Status {
	status := Status{
		Name:        "GPU",
		Command:     "nvidia-smi",
		Description: "CUDA acceleration for the separation engine",
		Optional:    true,
	}

	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		status.Detail = "nvidia-smi not found; engine will run on CPU"
		return status
	}
	status.Command = path

	out, err := exec.CommandContext(ctx, path, "--query-gpu=name", "--format=csv,noheader").Output()
	if err != nil {
		status.Detail = fmt.Sprintf("nvidia-smi failed: %v; engine will run on CPU", err)
		return status
	}

	names := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(names) == 0 || strings.TrimSpace(names[0]) == "" {
		status.Detail = "no GPU reported; engine will run on CPU"
		return status
	}
	status.Available = true
	status.Detail = strings.TrimSpace(names[0])
	return status
}
