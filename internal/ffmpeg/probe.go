package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// ProbeResult is the subset of ffprobe format output the pipeline uses.
type ProbeResult struct {
	FormatName      string
	DurationSeconds float64
	SizeBytes       int64
}

// Prober runs ffprobe against media files.
type Prober struct {
	probePath string
}

// NewProber creates a Prober for the given ffprobe binary.
func NewProber(probePath string) *Prober {
	return &Prober{probePath: probePath}
}

// probeFormat mirrors ffprobe's -show_format JSON.
type probeFormat struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
	} `json:"format"`
}

// Probe returns container-level information for a media file.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, p.probePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}

	var raw probeFormat
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	result := &ProbeResult{FormatName: raw.Format.FormatName}
	if raw.Format.Duration != "" {
		d, err := strconv.ParseFloat(raw.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing duration %q: %w", raw.Format.Duration, err)
		}
		result.DurationSeconds = d
	}
	if raw.Format.Size != "" {
		size, err := strconv.ParseInt(raw.Format.Size, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing size %q: %w", raw.Format.Size, err)
		}
		result.SizeBytes = size
	}
	return result, nil
}
