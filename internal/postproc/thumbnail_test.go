package postproc

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/streamvault/streamvault/internal/ffmpeg"
	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/repository"
)

// loggingBinaries is fakeBinaries with every ffmpeg invocation appended to a
// log file, one line of arguments per call.
func loggingBinaries(t *testing.T) (*ffmpeg.Binaries, string) {
	t.Helper()
	dir := t.TempDir()
	argsLog := filepath.Join(dir, "ffmpeg-args.log")

	ffmpegScript := `#!/bin/sh
echo "$@" >> ` + argsLog + `
in=""
prev=""
out=""
for a in "$@"; do
  if [ "$prev" = "-i" ] && [ -z "$in" ]; then in="$a"; fi
  prev="$a"
  out="$a"
done
cat "$in" > "$out"
`
	probeScript := `#!/bin/sh
printf '{"format":{"format_name":"mov,mp4","duration":"120.5","size":"4096"}}'
`
	ffmpegPath := filepath.Join(dir, "ffmpeg")
	probePath := filepath.Join(dir, "ffprobe")
	require.NoError(t, os.WriteFile(ffmpegPath, []byte(ffmpegScript), 0o755))
	require.NoError(t, os.WriteFile(probePath, []byte(probeScript), 0o755))

	return &ffmpeg.Binaries{FFmpeg: ffmpegPath, FFprobe: probePath}, argsLog
}

// completedRecordingWithJPEG inserts a transmuxed recording whose MP4 holds
// real JPEG bytes, so the fake frame extraction yields a decodable image.
func completedRecordingWithJPEG(t *testing.T, db *gorm.DB, dir string) *models.Recording {
	t.Helper()

	ch := &models.Channel{Login: "somestreamer", PlatformID: "pid-1"}
	require.NoError(t, db.Create(ch).Error)
	st := &models.Stream{ChannelID: ch.ID, PlatformStreamID: "ps-1", StartedAt: models.Now()}
	require.NoError(t, db.Create(st).Error)

	ended := models.Now()
	rec := &models.Recording{
		StreamID:   st.ID,
		ChannelID:  ch.ID,
		StartedAt:  st.StartedAt,
		EndedAt:    &ended,
		Status:     models.RecordingStatusCompleted,
		OutputPath: filepath.Join(dir, "broadcast.mp4"),
	}
	require.NoError(t, db.Create(rec).Error)

	img := image.NewRGBA(image.Rect(0, 0, 16, 9))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	require.NoError(t, os.WriteFile(rec.OutputPath, buf.Bytes(), 0o644))
	return rec
}

func TestThumbnailHandler_SidecarAndCoverArt(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	rec := completedRecordingWithJPEG(t, db, dir)

	binaries, argsLog := loggingBinaries(t)
	recordings := repository.NewRecordingRepository(db)
	metadata := repository.NewStreamMetadataRepository(db)
	handler := NewThumbnailHandler(recordings, metadata, binaries, filepath.Join(dir, ".tmp"))

	result, err := handler.Execute(context.Background(), models.NewTask(models.TaskKindThumbnail, rec.ID))
	require.NoError(t, err)
	assert.Contains(t, result, "cover art")

	sidecar := thumbnailPath(rec.OutputPath)
	assert.FileExists(t, sidecar)

	meta, err := metadata.GetByStreamID(context.Background(), rec.StreamID)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, sidecar, meta.ThumbnailPath)

	// Two ffmpeg runs: frame extraction, then the container rewrite that
	// attaches the sidecar as cover art.
	log, err := os.ReadFile(argsLog)
	require.NoError(t, err)
	calls := strings.Split(strings.TrimSpace(string(log)), "\n")
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1], sidecar)
	assert.Contains(t, calls[1], "attached_pic")
	assert.FileExists(t, rec.OutputPath)
}

func TestThumbnailHandler_NotTransmuxedYet(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	rec := stoppedRecording(t, db, dir, "still a transport stream")

	binaries, _ := loggingBinaries(t)
	handler := NewThumbnailHandler(repository.NewRecordingRepository(db),
		repository.NewStreamMetadataRepository(db), binaries, filepath.Join(dir, ".tmp"))

	_, err := handler.Execute(context.Background(), models.NewTask(models.TaskKindThumbnail, rec.ID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not transmuxed")
}
