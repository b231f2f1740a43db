package postproc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// basePath strips the container extension from a recording output path.
func basePath(outputPath string) string {
	return strings.TrimSuffix(outputPath, filepath.Ext(outputPath))
}

// mp4Path returns the final container path for a recording.
func mp4Path(outputPath string) string {
	return basePath(outputPath) + ".mp4"
}

// thumbnailPath returns the thumbnail sidecar path for a recording.
func thumbnailPath(outputPath string) string {
	return basePath(outputPath) + ".jpg"
}

// chaptersVTTPath returns the chapters sidecar path for a recording.
func chaptersVTTPath(outputPath string) string {
	return basePath(outputPath) + ".chapters.vtt"
}

// tempFile returns a work file path inside dir, creating dir if needed.
func tempFile(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating temp directory: %w", err)
	}
	return filepath.Join(dir, name), nil
}

// replaceFile atomically moves src over dst.
func replaceFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("replacing %s: %w", dst, err)
	}
	return nil
}
