package recorder

import (
	"time"

	"github.com/streamvault/streamvault/internal/config"
)

// RotationPolicy decides when the current capture segment should end and a
// new one begin. Implementations must be safe for concurrent use.
type RotationPolicy interface {
	// ShouldRotate is called on every monitor poll with the current
	// segment's age and on-disk size.
	ShouldRotate(segmentAge time.Duration, segmentBytes int64) bool
}

// timeRotation rotates when a segment exceeds a fixed duration.
type timeRotation struct {
	interval time.Duration
}

func (p timeRotation) ShouldRotate(age time.Duration, _ int64) bool {
	return age >= p.interval
}

// sizeRotation rotates when a segment grows past a byte limit.
type sizeRotation struct {
	maxBytes int64
}

func (p sizeRotation) ShouldRotate(_ time.Duration, bytes int64) bool {
	return bytes >= p.maxBytes
}

// anyRotation rotates when any member policy says so.
type anyRotation []RotationPolicy

func (ps anyRotation) ShouldRotate(age time.Duration, bytes int64) bool {
	for _, p := range ps {
		if p.ShouldRotate(age, bytes) {
			return true
		}
	}
	return false
}

// neverRotation disables rotation.
type neverRotation struct{}

func (neverRotation) ShouldRotate(time.Duration, int64) bool { return false }

// NewRotationPolicy builds the rotation predicate from configuration.
// Time and size triggers combine with OR; both disabled means no rotation.
func NewRotationPolicy(cfg config.RecorderConfig) RotationPolicy {
	var policies anyRotation
	if cfg.RotationInterval > 0 {
		policies = append(policies, timeRotation{interval: cfg.RotationInterval})
	}
	if cfg.RotationMaxBytes > 0 {
		policies = append(policies, sizeRotation{maxBytes: cfg.RotationMaxBytes.Bytes()})
	}
	if len(policies) == 0 {
		return neverRotation{}
	}
	return policies
}
