package postproc

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"

	"golang.org/x/image/draw"

	"github.com/streamvault/streamvault/internal/ffmpeg"
	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/repository"
)

// thumbnailMaxWidth bounds the sidecar's width; larger frames are scaled down.
const thumbnailMaxWidth = 1280

// ThumbnailHandler extracts a representative frame into a JPEG sidecar.
type ThumbnailHandler struct {
	recordings repository.RecordingRepository
	metadata   repository.StreamMetadataRepository
	binaries   *ffmpeg.Binaries
	prober     *ffmpeg.Prober
	tempDir    string
	logger     *slog.Logger
}

// NewThumbnailHandler creates a thumbnail task handler.
func NewThumbnailHandler(
	recordings repository.RecordingRepository,
	metadata repository.StreamMetadataRepository,
	binaries *ffmpeg.Binaries,
	tempDir string,
) *ThumbnailHandler {
	return &ThumbnailHandler{
		recordings: recordings,
		metadata:   metadata,
		binaries:   binaries,
		prober:     ffmpeg.NewProber(binaries.FFprobe),
		tempDir:    tempDir,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger.
func (h *ThumbnailHandler) WithLogger(logger *slog.Logger) *ThumbnailHandler {
	h.logger = logger
	return h
}

var _ TaskHandler = (*ThumbnailHandler)(nil)

// Execute extracts a frame at 10% of the recording's duration, validates and
// normalizes it, writes the .jpg sidecar next to the MP4, and attaches the
// sidecar to the container as cover art.
func (h *ThumbnailHandler) Execute(ctx context.Context, task *models.Task) (string, error) {
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

	probe, err := h.prober.Probe(ctx, rec.OutputPath)
	if err != nil {
		return "", fmt.Errorf("probing recording: %w", err)
	}
	seek := probe.DurationSeconds * 0.1

	workPath, err := tempFile(h.tempDir, rec.ID.String()+"_thumb.jpg")
	if err != nil {
		return "", err
	}

	err = ffmpeg.NewCommandBuilder(h.binaries.FFmpeg).
		Overwrite().
		InputArgs("-ss", fmt.Sprintf("%.3f", seek)).
		Input(rec.OutputPath).
		OutputArgs("-frames:v", "1", "-q:v", "2").
		Output(workPath).
		Run(ctx)
	if err != nil {
		os.Remove(workPath)
		return "", fmt.Errorf("extracting thumbnail frame: %w", err)
	}

	if err := normalizeThumbnail(workPath); err != nil {
		os.Remove(workPath)
		return "", err
	}

	sidecar := thumbnailPath(rec.OutputPath)
	if err := replaceFile(workPath, sidecar); err != nil {
		return "", err
	}

	if err := h.metadata.Upsert(ctx, &models.StreamMetadata{
		StreamID:      rec.StreamID,
		ThumbnailPath: sidecar,
	}); err != nil {
		return "", fmt.Errorf("recording thumbnail path: %w", err)
	}

	if err := h.embedCover(ctx, rec, sidecar); err != nil {
		return "", err
	}
	return fmt.Sprintf("thumbnail at %.1fs with cover art: %s", seek, sidecar), nil
}

// embedCover rewrites the MP4 with the sidecar attached as cover art. The
// metadata stage has already written the tags; stream copy preserves them.
func (h *ThumbnailHandler) embedCover(ctx context.Context, rec *models.Recording, sidecar string) error {
	workPath, err := tempFile(h.tempDir, rec.ID.String()+"_cover.mp4")
	if err != nil {
		return err
	}

	err = ffmpeg.NewCommandBuilder(h.binaries.FFmpeg).
		Overwrite().
		Input(rec.OutputPath).
		Input(sidecar).
		CopyStreams().
		OutputArgs("-map", "0", "-map", "1", "-disposition:v:1", "attached_pic").
		OutputArgs("-movflags", "+faststart").
		Output(workPath).
		Run(ctx)
	if err != nil {
		os.Remove(workPath)
		return fmt.Errorf("attaching cover art: %w", err)
	}
	return replaceFile(workPath, rec.OutputPath)
}

// normalizeThumbnail decodes the extracted frame to verify it is a real
// image and scales it down when wider than thumbnailMaxWidth.
func normalizeThumbnail(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening thumbnail: %w", err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decoding thumbnail: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= thumbnailMaxWidth {
		return nil
	}

	height := bounds.Dy() * thumbnailMaxWidth / bounds.Dx()
	scaled := image.NewRGBA(image.Rect(0, 0, thumbnailMaxWidth, height))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rewriting thumbnail: %w", err)
	}
	defer out.Close()
	if err := jpeg.Encode(out, scaled, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("encoding thumbnail: %w", err)
	}
	return nil
}
