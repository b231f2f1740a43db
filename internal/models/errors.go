package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrChannelLoginRequired indicates a required channel login field is empty.
	ErrChannelLoginRequired = errors.New("channel login is required")

	// ErrPlatformIDRequired indicates a required platform ID field is empty.
	ErrPlatformIDRequired = errors.New("platform_id is required")

	// ErrChannelIDRequired indicates a required channel ID field is zero.
	ErrChannelIDRequired = errors.New("channel_id is required")

	// ErrStreamIDRequired indicates a required stream ID field is zero.
	ErrStreamIDRequired = errors.New("stream_id is required")

	// ErrRecordingIDRequired indicates a required recording ID field is zero.
	ErrRecordingIDRequired = errors.New("recording_id is required")

	// ErrTaskKindRequired indicates a required task kind field is empty.
	ErrTaskKindRequired = errors.New("task kind is required")

	// ErrTargetIDRequired indicates a required task target ID field is zero.
	ErrTargetIDRequired = errors.New("target_id is required")

	// ErrOutputPathRequired indicates a required output path field is empty.
	ErrOutputPathRequired = errors.New("output path is required")
)

// Domain errors shared across the recording core.
var (
	// ErrDuplicateActiveRecording indicates a second concurrent recording was
	// attempted for a channel that already has one.
	ErrDuplicateActiveRecording = errors.New("channel already has an active recording")

	// ErrDuplicateOpenStream indicates a second open stream was attempted for
	// a channel whose current stream has not ended.
	ErrDuplicateOpenStream = errors.New("channel already has an open stream")

	// ErrRecordingNotFound indicates a recording was not found.
	ErrRecordingNotFound = errors.New("recording not found")

	// ErrChannelNotFound indicates a channel was not found.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrStreamNotFound indicates a stream was not found.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrNoOpenStream indicates a channel has no open stream.
	ErrNoOpenStream = errors.New("channel has no open stream")
)
