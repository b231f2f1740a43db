package template

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testValues() Values {
	return Values{
		Streamer:  "somestreamer",
		Title:     "Late Night Speedruns",
		Game:      "Some Game",
		TwitchID:  "41375541868",
		ID:        "01JABCDEF000000000000000",
		Season:    "S2026-08",
		Episode:   3,
		StartedAt: time.Date(2026, 8, 24, 21, 5, 9, 0, time.UTC),
	}
}

func TestRender_AllVariables(t *testing.T) {
	tmpl := "{streamer}/{year}-{month}-{day}_{hour}{minute}{second}_{title}_{game}_{season}_E{episode}_{twitch_id}_{id}"
	got, err := Render(tmpl, testValues())
	require.NoError(t, err)
	assert.Equal(t,
		"somestreamer/2026-08-24_210509_Late_Night_Speedruns_Some_Game_S2026-08_E03_41375541868_01JABCDEF000000000000000",
		got)
}

func TestRender_TimestampAndDatetime(t *testing.T) {
	v := testValues()
	got, err := Render("{timestamp}", v)
	require.NoError(t, err)
	assert.Equal(t, "1787605509", got)

	got, err = Render("{datetime}", v)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-24_21-05-09", got)
}

func TestRender_UniqueDiffers(t *testing.T) {
	v := testValues()
	a, err := Render("{streamer}_{unique}", v)
	require.NoError(t, err)
	b, err := Render("{streamer}_{unique}", v)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRender_UnknownVariable(t *testing.T) {
	_, err := Render("{streamer}/{bogus}", testValues())
	require.Error(t, err)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "bogus", terr.Variable)
}

func TestRender_ValueCannotEscapeDirectory(t *testing.T) {
	v := testValues()
	v.Title = "../../etc/passwd"
	got, err := Render("{streamer}/{title}", v)
	require.NoError(t, err)
	// Separators and leading dots are stripped from the value.
	assert.Equal(t, "somestreamer/etc_passwd", got)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"with spaces here", "with_spaces_here"},
		{`bad:<>chars?|`, "bad_chars"},
		{"  trimmed  ", "trimmed"},
		{"", "untitled"},
		{"///", "untitled"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}
