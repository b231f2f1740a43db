package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Size
	}{
		{"1024", 1024},
		{"1KB", KB},
		{"1kib", KB},
		{"5MB", 5 * MB},
		{"1.5 GB", Size(1.5 * float64(GB))},
		{"2TB", 2 * TB},
		{"500 kb", 500 * KB},
		{"0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, input := range []string{"", "abc", "5XB", "-5MB"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0B", Format(0))
	assert.Equal(t, "512B", Format(512))
	assert.Equal(t, "1KB", Format(KB))
	assert.Equal(t, "5MB", Format(5*MB))
	assert.Equal(t, "1.5GB", Format(Size(1.5*float64(GB))))
	assert.Equal(t, "-1KB", Format(-KB))
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("bogus") })
	assert.Equal(t, 5*MB, MustParse("5MB"))
}
