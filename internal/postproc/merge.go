package postproc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/streamvault/streamvault/internal/ffmpeg"
	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/repository"
)

// MergeHandler concatenates a recording's rotated segments into a single
// transport stream file.
type MergeHandler struct {
	recordings      repository.RecordingRepository
	binaries        *ffmpeg.Binaries
	tempDir         string
	minSegmentBytes int64
	logger          *slog.Logger
}

// NewMergeHandler creates a merge task handler.
func NewMergeHandler(recordings repository.RecordingRepository, binaries *ffmpeg.Binaries, tempDir string, minSegmentBytes int64) *MergeHandler {
	return &MergeHandler{
		recordings:      recordings,
		binaries:        binaries,
		tempDir:         tempDir,
		minSegmentBytes: minSegmentBytes,
		logger:          slog.Default(),
	}
}

// WithLogger sets the logger.
func (h *MergeHandler) WithLogger(logger *slog.Logger) *MergeHandler {
	h.logger = logger
	return h
}

var _ TaskHandler = (*MergeHandler)(nil)

// Execute merges all usable segments into the base output path. Undersized
// segments are discarded; with no usable segment the recording is marked
// failed and the task errors, halting the rest of the pipeline.
func (h *MergeHandler) Execute(ctx context.Context, task *models.Task) (string, error) {
	rec, err := h.recordings.GetByID(ctx, task.TargetID)
	if err != nil {
		return "", fmt.Errorf("loading recording: %w", err)
	}
	if rec == nil {
		return "", models.ErrRecordingNotFound
	}
	if rec.SegmentCount <= 1 {
		return "single segment, nothing to merge", nil
	}

	usable, discarded := h.selectSegments(rec)
	for _, path := range discarded {
		h.logger.Warn("discarding undersized segment",
			slog.String("recording_id", rec.ID.String()),
			slog.String("path", path))
	}
	if len(usable) == 0 {
		rec.MarkFailed(models.Now(), fmt.Errorf("no usable segments to merge"))
		if uerr := h.recordings.Update(ctx, rec); uerr != nil {
			return "", fmt.Errorf("persisting failed recording: %w", uerr)
		}
		return "", fmt.Errorf("merging %s: no usable segments", rec.ID)
	}

	if len(usable) > 1 {
		if err := h.concat(ctx, rec, usable); err != nil {
			return "", err
		}
	} else if usable[0] != rec.OutputPath {
		// One survivor that is not already the base file.
		if err := replaceFile(usable[0], rec.OutputPath); err != nil {
			return "", err
		}
	}

	// The merged file replaced the base path; drop everything else.
	for _, path := range rec.SegmentPaths() {
		if path != rec.OutputPath {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				h.logger.Warn("removing merged segment",
					slog.String("path", path),
					slog.Any("error", err))
			}
		}
	}

	merged := rec.SegmentCount
	rec.SegmentCount = 1
	rec.LastSegmentIndex = 1
	if err := h.recordings.Update(ctx, rec); err != nil {
		return "", fmt.Errorf("updating recording after merge: %w", err)
	}
	return fmt.Sprintf("merged %d segments (%d discarded)", merged, len(discarded)), nil
}

// selectSegments splits the recording's segments into usable and discarded.
// Missing files are skipped silently; undersized files are discarded.
func (h *MergeHandler) selectSegments(rec *models.Recording) (usable, discarded []string) {
	for _, path := range rec.SegmentPaths() {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if fi.Size() < h.minSegmentBytes {
			discarded = append(discarded, path)
			continue
		}
		usable = append(usable, path)
	}
	return usable, discarded
}

// concat runs ffmpeg's concat demuxer over the usable segments and replaces
// the base output path with the result. Partial output is deleted on failure.
func (h *MergeHandler) concat(ctx context.Context, rec *models.Recording, segments []string) error {
	listPath, err := tempFile(h.tempDir, rec.ID.String()+"_concat.txt")
	if err != nil {
		return err
	}
	defer os.Remove(listPath)
	if err := os.WriteFile(listPath, []byte(concatList(segments)), 0o644); err != nil {
		return fmt.Errorf("writing concat list: %w", err)
	}

	outPath, err := tempFile(h.tempDir, rec.ID.String()+"_merged.ts")
	if err != nil {
		return err
	}

	err = ffmpeg.NewCommandBuilder(h.binaries.FFmpeg).
		Overwrite().
		InputArgs("-f", "concat", "-safe", "0").
		Input(listPath).
		CopyStreams().
		Output(outPath).
		Run(ctx)
	if err != nil {
		os.Remove(outPath)
		return fmt.Errorf("concatenating segments: %w", err)
	}

	fi, err := os.Stat(outPath)
	if err != nil || fi.Size() == 0 {
		os.Remove(outPath)
		return fmt.Errorf("merge produced no output")
	}
	return replaceFile(outPath, rec.OutputPath)
}

// concatList renders the ffmpeg concat demuxer list. Single quotes in paths
// are escaped per the demuxer's quoting rules.
func concatList(segments []string) string {
	var b strings.Builder
	for _, path := range segments {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(path, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}
