// Package ffmpeg wraps invocation of the ffmpeg and ffprobe binaries for
// post-processing: segment concat, transmux, metadata and chapter embedding,
// thumbnail extraction, and media probing.
package ffmpeg

import (
	"fmt"
	"os/exec"
)

// Binaries holds resolved paths to the ffmpeg and ffprobe executables.
type Binaries struct {
	FFmpeg  string
	FFprobe string
}

// Locate resolves the ffmpeg and ffprobe binaries. Explicit paths are taken
// as-is; empty paths are searched on PATH.
func Locate(ffmpegPath, probePath string) (*Binaries, error) {
	b := &Binaries{FFmpeg: ffmpegPath, FFprobe: probePath}

	if b.FFmpeg == "" {
		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("locating ffmpeg: %w", err)
		}
		b.FFmpeg = path
	}
	if b.FFprobe == "" {
		path, err := exec.LookPath("ffprobe")
		if err != nil {
			return nil, fmt.Errorf("locating ffprobe: %w", err)
		}
		b.FFprobe = path
	}
	return b, nil
}
