package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Stream represents one live broadcast instance for a channel.
//
// A stream is created on the first online event carrying a new platform
// stream ID and closed (EndedAt stamped) on the matching offline event.
// Invariant: at most one open stream (EndedAt null) per channel; the
// repository layer enforces this on create.
type Stream struct {
	BaseModel

	// ChannelID is the owning channel.
	ChannelID ULID `gorm:"not null;type:varchar(26);index" json:"channel_id"`
	Channel   *Channel `gorm:"foreignKey:ChannelID" json:"channel,omitempty"`

	// PlatformStreamID is the platform's ID for this broadcast.
	PlatformStreamID string `gorm:"not null;size:64;index" json:"platform_stream_id"`

	// StartedAt is when the broadcast went live.
	StartedAt Time `gorm:"not null;index" json:"started_at"`

	// EndedAt is when the broadcast went offline. Null while live.
	EndedAt *Time `gorm:"index" json:"ended_at,omitempty"`

	// Title is the broadcast title, updated by channel_update events.
	Title string `gorm:"size:512" json:"title"`

	// Category is the broadcast category/game.
	Category string `gorm:"size:255" json:"category"`

	// Language is the broadcast language code.
	Language string `gorm:"size:16" json:"language,omitempty"`

	// EpisodeNumber is monotonic per channel per calendar month, assigned
	// on create.
	EpisodeNumber int `gorm:"default:0" json:"episode_number"`
}

// TableName returns the table name for Stream.
func (Stream) TableName() string {
	return "streams"
}

// IsOpen reports whether the stream has not yet ended.
func (s *Stream) IsOpen() bool {
	return s.EndedAt == nil
}

// Season returns the season label for this stream in "SYYYY-MM" format.
func (s *Stream) Season() string {
	return fmt.Sprintf("S%04d-%02d", s.StartedAt.Year(), int(s.StartedAt.Month()))
}

// Validate performs basic validation on the stream.
func (s *Stream) Validate() error {
	if s.ChannelID.IsZero() {
		return ErrChannelIDRequired
	}
	if s.PlatformStreamID == "" {
		return ErrPlatformIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the stream and generates a ULID.
func (s *Stream) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}
