package models

import (
	"fmt"
	"path/filepath"
	"strings"

	"gorm.io/gorm"
)

// RecordingStatus represents the current status of a recording.
type RecordingStatus string

const (
	// RecordingStatusRecording indicates capture is in progress.
	RecordingStatusRecording RecordingStatus = "recording"
	// RecordingStatusStopped indicates capture ended and post-processing
	// has not yet completed.
	RecordingStatusStopped RecordingStatus = "stopped"
	// RecordingStatusFailed indicates the recording failed with no usable output.
	RecordingStatusFailed RecordingStatus = "failed"
	// RecordingStatusCompleted indicates transmux succeeded and the final
	// MP4 is in place.
	RecordingStatusCompleted RecordingStatus = "completed"
)

// Recording represents the intent and state of capturing one stream.
//
// Status transitions are monotonic: recording -> stopped|failed -> completed,
// where completed is reached only through a successful transmux. Segmentation
// is a counter on one recording, never a second recording row.
type Recording struct {
	BaseModel

	// StreamID is the owning stream. A stream normally owns one recording,
	// but a crash restart may start a fresh recording on the same stream
	// after the zombie is settled; at most one of them is ever active, which
	// the repository enforces per channel.
	StreamID ULID    `gorm:"not null;type:varchar(26);index" json:"stream_id"`
	Stream   *Stream `gorm:"foreignKey:StreamID" json:"stream,omitempty"`

	// ChannelID is denormalized from the stream for active-recording lookups.
	ChannelID ULID `gorm:"not null;type:varchar(26);index" json:"channel_id"`

	// StartedAt is when capture began.
	StartedAt Time `gorm:"not null" json:"started_at"`

	// EndedAt is when capture ended. Null while recording.
	EndedAt *Time `json:"ended_at,omitempty"`

	// Status is the recording lifecycle state.
	Status RecordingStatus `gorm:"not null;default:'recording';size:16;index" json:"status"`

	// OutputPath is the base capture path (.ts during capture, .mp4 after
	// transmux).
	OutputPath string `gorm:"not null;size:1024" json:"output_path"`

	// SegmentCount is the number of segments captured so far. Starts at 1.
	SegmentCount int `gorm:"default:1" json:"segment_count"`

	// LastSegmentIndex is the index of the segment currently being written.
	// Index 1 is the first capture.
	LastSegmentIndex int `gorm:"default:1" json:"last_segment_index"`

	// Quality is the quality actually negotiated by the capture tool.
	Quality string `gorm:"size:64" json:"quality,omitempty"`

	// SizeBytes is the total on-disk size, set after post-processing.
	SizeBytes int64 `json:"size_bytes,omitempty"`

	// LastError holds the most recent capture or post-processing error.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`
}

// TableName returns the table name for Recording.
func (Recording) TableName() string {
	return "recordings"
}

// IsActive reports whether capture is in progress.
func (r *Recording) IsActive() bool {
	return r.Status == RecordingStatusRecording
}

// MarkStopped transitions the recording to stopped and stamps the end time.
func (r *Recording) MarkStopped(at Time) {
	r.Status = RecordingStatusStopped
	if r.EndedAt == nil {
		r.EndedAt = &at
	}
}

// MarkFailed transitions the recording to failed with an error message.
func (r *Recording) MarkFailed(at Time, err error) {
	r.Status = RecordingStatusFailed
	if r.EndedAt == nil {
		r.EndedAt = &at
	}
	if err != nil {
		r.LastError = err.Error()
	}
}

// MarkCompleted transitions the recording to completed with the final path.
func (r *Recording) MarkCompleted(outputPath string, sizeBytes int64) {
	r.Status = RecordingStatusCompleted
	r.OutputPath = outputPath
	r.SizeBytes = sizeBytes
	r.LastError = ""
}

// SegmentPath returns the on-disk path for segment index n, derived from the
// base output path: "<base>_segment_NNN.ts". A single-segment recording
// writes straight to the base path.
func (r *Recording) SegmentPath(index int) string {
	base := strings.TrimSuffix(r.OutputPath, filepath.Ext(r.OutputPath))
	return fmt.Sprintf("%s_segment_%03d.ts", base, index)
}

// CapturePath returns the file the capture tool writes for segment index n.
// The first segment goes straight to the base output path; rotated segments
// use the _segment_NNN suffix.
func (r *Recording) CapturePath(index int) string {
	if index <= 1 {
		return r.OutputPath
	}
	return r.SegmentPath(index)
}

// SegmentPaths returns the on-disk paths of all captured segments in order.
func (r *Recording) SegmentPaths() []string {
	paths := make([]string, 0, r.SegmentCount)
	for i := 1; i <= r.SegmentCount; i++ {
		paths = append(paths, r.CapturePath(i))
	}
	return paths
}

// Validate performs basic validation on the recording.
func (r *Recording) Validate() error {
	if r.StreamID.IsZero() {
		return ErrStreamIDRequired
	}
	if r.ChannelID.IsZero() {
		return ErrChannelIDRequired
	}
	if r.OutputPath == "" {
		return ErrOutputPathRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the recording and generates a ULID.
func (r *Recording) BeforeCreate(tx *gorm.DB) error {
	if err := r.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return r.Validate()
}
