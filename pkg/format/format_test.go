package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	assert.Equal(t, "0 B", Bytes(0))
	assert.Equal(t, "512 B", Bytes(512))
	assert.Equal(t, "1.5 KB", Bytes(1536))
	assert.Equal(t, "2.0 GB", Bytes(2*1024*1024*1024))
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "1,234,567", Number(1234567))
	assert.Equal(t, "42", Number(42))
}

func TestNumberCompact(t *testing.T) {
	assert.Equal(t, "999", NumberCompact(999))
	assert.Equal(t, "1.2M", NumberCompact(1_234_567))
	assert.Equal(t, "2.5B", NumberCompact(2_500_000_000))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "3h25m", Duration(3*time.Hour+25*time.Minute))
	assert.Equal(t, "5m09s", Duration(5*time.Minute+9*time.Second))
	assert.Equal(t, "42s", Duration(42*time.Second))
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, "2:01:05", Seconds(7265.5))
	assert.Equal(t, "4:05", Seconds(245))
}
