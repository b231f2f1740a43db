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

// MetadataEmbedHandler writes broadcast tags into the MP4 container.
type MetadataEmbedHandler struct {
	recordings repository.RecordingRepository
	streams    repository.StreamRepository
	channels   repository.ChannelRepository
	binaries   *ffmpeg.Binaries
	tempDir    string
	logger     *slog.Logger
}

// NewMetadataEmbedHandler creates a metadata_embed task handler.
func NewMetadataEmbedHandler(
	recordings repository.RecordingRepository,
	streams repository.StreamRepository,
	channels repository.ChannelRepository,
	binaries *ffmpeg.Binaries,
	tempDir string,
) *MetadataEmbedHandler {
	return &MetadataEmbedHandler{
		recordings: recordings,
		streams:    streams,
		channels:   channels,
		binaries:   binaries,
		tempDir:    tempDir,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger.
func (h *MetadataEmbedHandler) WithLogger(logger *slog.Logger) *MetadataEmbedHandler {
	h.logger = logger
	return h
}

var _ TaskHandler = (*MetadataEmbedHandler)(nil)

// Execute rewrites the MP4 in place with title, artist, date, and genre
// tags. Cover art is attached by the thumbnail stage, which runs after
// this one.
func (h *MetadataEmbedHandler) Execute(ctx context.Context, task *models.Task) (string, error) {
	rec, err := h.recordings.GetByID(ctx, task.TargetID)
	if err != nil {
		return "", fmt.Errorf("loading recording: %w", err)
	}
	if rec == nil {
		return "", models.ErrRecordingNotFound
	}
	if rec.Status != models.RecordingStatusCompleted {
		return "", fmt.Errorf("recording %s not transmuxed yet", rec.ID)
	}

	stream, err := h.streams.GetByID(ctx, rec.StreamID)
	if err != nil {
		return "", fmt.Errorf("loading stream: %w", err)
	}
	if stream == nil {
		return "", models.ErrStreamNotFound
	}
	channel, err := h.channels.GetByID(ctx, rec.ChannelID)
	if err != nil {
		return "", fmt.Errorf("loading channel: %w", err)
	}
	if channel == nil {
		return "", models.ErrChannelNotFound
	}

	workPath, err := tempFile(h.tempDir, rec.ID.String()+"_meta.mp4")
	if err != nil {
		return "", err
	}

	err = ffmpeg.NewCommandBuilder(h.binaries.FFmpeg).
		Overwrite().
		Input(rec.OutputPath).
		CopyStreams().
		OutputArgs(
			"-metadata", "title="+stream.Title,
			"-metadata", "artist="+channel.Login,
			"-metadata", "date="+stream.StartedAt.Format("2006-01-02"),
			"-metadata", "genre="+stream.Category,
		).
		OutputArgs("-movflags", "+faststart").
		Output(workPath).
		Run(ctx)
	if err != nil {
		os.Remove(workPath)
		return "", fmt.Errorf("embedding metadata: %w", err)
	}
	if err := replaceFile(workPath, rec.OutputPath); err != nil {
		return "", err
	}
	return "embedded tags", nil
}
