package models

import "gorm.io/gorm"

// StreamEvent is a chapter marker recorded when a live stream changes title
// or category. Accumulated markers become WEBVTT chapters during the
// chapters_embed post-processing stage.
type StreamEvent struct {
	BaseModel

	// StreamID is the owning stream.
	StreamID ULID `gorm:"not null;type:varchar(26);index" json:"stream_id"`

	// OffsetSeconds is the chapter start, relative to the stream start.
	OffsetSeconds float64 `gorm:"not null" json:"offset_seconds"`

	// Title is the broadcast title at this point.
	Title string `gorm:"size:512" json:"title"`

	// Category is the broadcast category at this point.
	Category string `gorm:"size:255" json:"category"`
}

// TableName returns the table name for StreamEvent.
func (StreamEvent) TableName() string {
	return "stream_events"
}

// Validate performs basic validation on the event.
func (e *StreamEvent) Validate() error {
	if e.StreamID.IsZero() {
		return ErrStreamIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the event and generates a ULID.
func (e *StreamEvent) BeforeCreate(tx *gorm.DB) error {
	if err := e.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return e.Validate()
}
