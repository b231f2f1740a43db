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

// ChaptersEmbedHandler turns accumulated chapter markers into a WEBVTT
// sidecar and embeds chapter entries in the MP4 container.
type ChaptersEmbedHandler struct {
	recordings repository.RecordingRepository
	streams    repository.StreamRepository
	events     repository.StreamEventRepository
	metadata   repository.StreamMetadataRepository
	binaries   *ffmpeg.Binaries
	prober     *ffmpeg.Prober
	tempDir    string
	logger     *slog.Logger
}

// NewChaptersEmbedHandler creates a chapters_embed task handler.
func NewChaptersEmbedHandler(
	recordings repository.RecordingRepository,
	streams repository.StreamRepository,
	events repository.StreamEventRepository,
	metadata repository.StreamMetadataRepository,
	binaries *ffmpeg.Binaries,
	tempDir string,
) *ChaptersEmbedHandler {
	return &ChaptersEmbedHandler{
		recordings: recordings,
		streams:    streams,
		events:     events,
		metadata:   metadata,
		binaries:   binaries,
		prober:     ffmpeg.NewProber(binaries.FFprobe),
		tempDir:    tempDir,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger.
func (h *ChaptersEmbedHandler) WithLogger(logger *slog.Logger) *ChaptersEmbedHandler {
	h.logger = logger
	return h
}

var _ TaskHandler = (*ChaptersEmbedHandler)(nil)

// chapter is one resolved chapter span.
type chapter struct {
	startSeconds float64
	endSeconds   float64
	title        string
}

// Execute builds the chapter list from the stream's markers, writes the
// .chapters.vtt sidecar, and rewrites the container with chapter entries.
// A stream without markers is a successful no-op.
func (h *ChaptersEmbedHandler) Execute(ctx context.Context, task *models.Task) (string, error) {
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

	markers, err := h.events.GetByStreamID(ctx, stream.ID)
	if err != nil {
		return "", fmt.Errorf("loading chapter markers: %w", err)
	}
	if len(markers) == 0 {
		return "no chapter markers", nil
	}

	probe, err := h.prober.Probe(ctx, rec.OutputPath)
	if err != nil {
		return "", fmt.Errorf("probing recording: %w", err)
	}

	chapters := buildChapters(stream, markers, probe.DurationSeconds)

	sidecar := chaptersVTTPath(rec.OutputPath)
	if err := os.WriteFile(sidecar, []byte(renderVTT(chapters)), 0o644); err != nil {
		return "", fmt.Errorf("writing chapters sidecar: %w", err)
	}

	if err := h.embed(ctx, rec, chapters); err != nil {
		return "", err
	}

	if err := h.metadata.Upsert(ctx, &models.StreamMetadata{
		StreamID:        rec.StreamID,
		ChaptersVTTPath: sidecar,
	}); err != nil {
		return "", fmt.Errorf("recording chapters path: %w", err)
	}
	return fmt.Sprintf("embedded %d chapters", len(chapters)), nil
}

// embed rewrites the container with chapter entries from an ffmetadata file,
// keeping the existing stream tags.
func (h *ChaptersEmbedHandler) embed(ctx context.Context, rec *models.Recording, chapters []chapter) error {
	metaPath, err := tempFile(h.tempDir, rec.ID.String()+"_chapters.ffmeta")
	if err != nil {
		return err
	}
	defer os.Remove(metaPath)
	if err := os.WriteFile(metaPath, []byte(renderFFMetadata(chapters)), 0o644); err != nil {
		return fmt.Errorf("writing chapter metadata: %w", err)
	}

	workPath, err := tempFile(h.tempDir, rec.ID.String()+"_chapters.mp4")
	if err != nil {
		return err
	}

	err = ffmpeg.NewCommandBuilder(h.binaries.FFmpeg).
		Overwrite().
		Input(rec.OutputPath).
		Input(metaPath).
		OutputArgs("-map_metadata", "0", "-map_chapters", "1").
		CopyStreams().
		Output(workPath).
		Run(ctx)
	if err != nil {
		os.Remove(workPath)
		return fmt.Errorf("embedding chapters: %w", err)
	}
	return replaceFile(workPath, rec.OutputPath)
}

// buildChapters resolves markers into contiguous spans. The stream's opening
// title covers the time before the first marker; each marker runs until the
// next one or the end of the recording.
func buildChapters(stream *models.Stream, markers []*models.StreamEvent, totalSeconds float64) []chapter {
	chapters := make([]chapter, 0, len(markers)+1)

	if len(markers) == 0 || markers[0].OffsetSeconds > 0 {
		first := chapter{startSeconds: 0, title: chapterTitle(stream.Title, stream.Category)}
		if len(markers) > 0 {
			first.endSeconds = markers[0].OffsetSeconds
		} else {
			first.endSeconds = totalSeconds
		}
		chapters = append(chapters, first)
	}

	for i, m := range markers {
		c := chapter{
			startSeconds: m.OffsetSeconds,
			endSeconds:   totalSeconds,
			title:        chapterTitle(m.Title, m.Category),
		}
		if i+1 < len(markers) {
			c.endSeconds = markers[i+1].OffsetSeconds
		}
		// Markers past the recorded duration carry no span.
		if c.startSeconds >= totalSeconds {
			continue
		}
		if c.endSeconds > totalSeconds {
			c.endSeconds = totalSeconds
		}
		chapters = append(chapters, c)
	}
	return chapters
}

func chapterTitle(title, category string) string {
	title = strings.TrimSpace(title)
	category = strings.TrimSpace(category)
	switch {
	case title == "" && category == "":
		return "Untitled"
	case title == "":
		return category
	case category == "":
		return title
	default:
		return title + " (" + category + ")"
	}
}

// renderVTT produces a WEBVTT chapters document.
func renderVTT(chapters []chapter) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for i, c := range chapters {
		fmt.Fprintf(&b, "\n%d\n%s --> %s\n%s\n",
			i+1, vttTimestamp(c.startSeconds), vttTimestamp(c.endSeconds), c.title)
	}
	return b.String()
}

// vttTimestamp formats seconds as HH:MM:SS.mmm.
func vttTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int64(seconds*1000 + 0.5)
	h := millis / 3600000
	m := millis % 3600000 / 60000
	s := millis % 60000 / 1000
	ms := millis % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// renderFFMetadata produces an ffmetadata document carrying chapter entries.
func renderFFMetadata(chapters []chapter) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	for _, c := range chapters {
		b.WriteString("\n[CHAPTER]\nTIMEBASE=1/1000\n")
		fmt.Fprintf(&b, "START=%d\n", int64(c.startSeconds*1000+0.5))
		fmt.Fprintf(&b, "END=%d\n", int64(c.endSeconds*1000+0.5))
		fmt.Fprintf(&b, "title=%s\n", escapeFFMetadata(c.title))
	}
	return b.String()
}

// escapeFFMetadata escapes the characters the ffmetadata format reserves.
func escapeFFMetadata(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "=", `\=`, ";", `\;`, "#", `\#`, "\n", `\`+"\n")
	return r.Replace(s)
}
