package postproc

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/streamvault/streamvault/internal/ffmpeg"
	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/repository"
)

// TransmuxHandler stream-copies the captured transport stream into an MP4
// container and promotes the recording to completed.
type TransmuxHandler struct {
	recordings repository.RecordingRepository
	metadata   repository.StreamMetadataRepository
	binaries   *ffmpeg.Binaries
	prober     *ffmpeg.Prober
	tempDir    string
	minBytes   int64
	logger     *slog.Logger
}

// NewTransmuxHandler creates a transmux task handler.
func NewTransmuxHandler(
	recordings repository.RecordingRepository,
	metadata repository.StreamMetadataRepository,
	binaries *ffmpeg.Binaries,
	tempDir string,
	minBytes int64,
) *TransmuxHandler {
	return &TransmuxHandler{
		recordings: recordings,
		metadata:   metadata,
		binaries:   binaries,
		prober:     ffmpeg.NewProber(binaries.FFprobe),
		tempDir:    tempDir,
		minBytes:   minBytes,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger.
func (h *TransmuxHandler) WithLogger(logger *slog.Logger) *TransmuxHandler {
	h.logger = logger
	return h
}

var _ TaskHandler = (*TransmuxHandler)(nil)

// Execute transmuxes the .ts capture into an .mp4, validates the result,
// promotes the recording to completed, and only then deletes the source.
// The source .ts survives any failure so a retry can start over.
func (h *TransmuxHandler) Execute(ctx context.Context, task *models.Task) (string, error) {
	rec, err := h.recordings.GetByID(ctx, task.TargetID)
	if err != nil {
		return "", fmt.Errorf("loading recording: %w", err)
	}
	if rec == nil {
		return "", models.ErrRecordingNotFound
	}
	if rec.Status == models.RecordingStatusCompleted {
		return "already transmuxed", nil
	}

	source := rec.OutputPath
	if _, err := os.Stat(source); err != nil {
		return "", fmt.Errorf("capture file missing: %w", err)
	}
	finalPath := mp4Path(source)

	workPath, err := tempFile(h.tempDir, rec.ID.String()+".mp4")
	if err != nil {
		return "", err
	}

	err = ffmpeg.NewCommandBuilder(h.binaries.FFmpeg).
		Overwrite().
		Input(source).
		CopyStreams().
		OutputArgs("-movflags", "+faststart").
		Output(workPath).
		Run(ctx)
	if err != nil {
		os.Remove(workPath)
		return "", fmt.Errorf("transmuxing %s: %w", source, err)
	}

	fi, err := os.Stat(workPath)
	if err != nil {
		return "", fmt.Errorf("validating transmux output: %w", err)
	}
	if fi.Size() < h.minBytes {
		os.Remove(workPath)
		return "", fmt.Errorf("transmux output too small: %d bytes", fi.Size())
	}

	probe, err := h.prober.Probe(ctx, workPath)
	if err != nil {
		os.Remove(workPath)
		return "", fmt.Errorf("probing transmux output: %w", err)
	}

	if err := replaceFile(workPath, finalPath); err != nil {
		return "", err
	}

	rec.MarkCompleted(finalPath, fi.Size())
	if err := h.recordings.Update(ctx, rec); err != nil {
		return "", fmt.Errorf("updating recording after transmux: %w", err)
	}

	if err := h.metadata.Upsert(ctx, &models.StreamMetadata{
		StreamID:        rec.StreamID,
		DurationSeconds: probe.DurationSeconds,
		FileSizeBytes:   fi.Size(),
	}); err != nil {
		return "", fmt.Errorf("recording stream metadata: %w", err)
	}

	// Source cleanup happens last, after the MP4 is validated and in place.
	if err := os.Remove(source); err != nil && !os.IsNotExist(err) {
		h.logger.Warn("removing source transport stream",
			slog.String("path", source),
			slog.Any("error", err))
	}

	return fmt.Sprintf("transmuxed to %s (%.0fs, %d bytes)", finalPath, probe.DurationSeconds, fi.Size()), nil
}
