package models

import "gorm.io/gorm"

// StreamMetadata holds post-processing output for one stream.
//
// Created exactly once per stream after a successful transmux; subsequent
// pipeline stages (thumbnail, chapters) fill in their columns.
type StreamMetadata struct {
	BaseModel

	// StreamID is the owning stream. One row per stream.
	StreamID ULID    `gorm:"not null;type:varchar(26);uniqueIndex" json:"stream_id"`
	Stream   *Stream `gorm:"foreignKey:StreamID" json:"stream,omitempty"`

	// ThumbnailPath is the extracted thumbnail sidecar (.jpg).
	ThumbnailPath string `gorm:"size:1024" json:"thumbnail_path,omitempty"`

	// CategoryImagePath is the category box-art sidecar, if downloaded by
	// the presentation layer.
	CategoryImagePath string `gorm:"size:1024" json:"category_image_path,omitempty"`

	// DurationSeconds is the probed duration of the final MP4.
	DurationSeconds float64 `json:"duration_seconds"`

	// FileSizeBytes is the size of the final MP4.
	FileSizeBytes int64 `json:"file_size_bytes"`

	// ChaptersVTTPath is the generated WEBVTT chapters sidecar.
	ChaptersVTTPath string `gorm:"size:1024" json:"chapters_vtt_path,omitempty"`
}

// TableName returns the table name for StreamMetadata.
func (StreamMetadata) TableName() string {
	return "stream_metadata"
}

// Validate performs basic validation on the metadata.
func (m *StreamMetadata) Validate() error {
	if m.StreamID.IsZero() {
		return ErrStreamIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the metadata and generates a ULID.
func (m *StreamMetadata) BeforeCreate(tx *gorm.DB) error {
	if err := m.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return m.Validate()
}
