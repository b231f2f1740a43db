package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandBuilder_Args(t *testing.T) {
	args := NewCommandBuilder("ffmpeg").
		Overwrite().
		InputArgs("-f", "concat", "-safe", "0").
		Input("/tmp/list.txt").
		CopyStreams().
		Output("/tmp/out.ts").
		Args()

	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-f", "concat", "-safe", "0", "-i", "/tmp/list.txt",
		"-c", "copy",
		"/tmp/out.ts",
	}, args)
}

func TestCommandBuilder_MultipleInputs(t *testing.T) {
	args := NewCommandBuilder("ffmpeg").
		Input("/tmp/in.mp4").
		Input("/tmp/cover.jpg").
		OutputArgs("-map", "0", "-map", "1").
		Output("/tmp/out.mp4").
		Args()

	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", "/tmp/in.mp4",
		"-i", "/tmp/cover.jpg",
		"-map", "0", "-map", "1",
		"/tmp/out.mp4",
	}, args)
}

func TestLocate_ExplicitPaths(t *testing.T) {
	b, err := Locate("/opt/ffmpeg", "/opt/ffprobe")
	assert.NoError(t, err)
	assert.Equal(t, "/opt/ffmpeg", b.FFmpeg)
	assert.Equal(t, "/opt/ffprobe", b.FFprobe)
}
