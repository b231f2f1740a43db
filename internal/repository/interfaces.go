// Package repository defines data access interfaces for streamvault entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/streamvault/streamvault/internal/models"
)

// ChannelRepository defines operations for channel persistence.
type ChannelRepository interface {
	// Create creates a new channel.
	Create(ctx context.Context, channel *models.Channel) error
	// GetByID retrieves a channel by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Channel, error)
	// GetByPlatformID retrieves a channel by its platform ID.
	GetByPlatformID(ctx context.Context, platformID string) (*models.Channel, error)
	// GetByLogin retrieves a channel by login name.
	GetByLogin(ctx context.Context, login string) (*models.Channel, error)
	// GetAll retrieves all channels ordered by login.
	GetAll(ctx context.Context) ([]*models.Channel, error)
	// Update updates an existing channel.
	Update(ctx context.Context, channel *models.Channel) error
	// UpdateLiveState sets the live flag and last-live timestamp.
	UpdateLiveState(ctx context.Context, id models.ULID, live bool, at time.Time) error
	// Delete deletes a channel by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// StreamRepository defines operations for stream persistence.
type StreamRepository interface {
	// Create creates a new stream, assigning the next per-month episode
	// number and enforcing at most one open stream per channel.
	Create(ctx context.Context, stream *models.Stream) error
	// GetByID retrieves a stream by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Stream, error)
	// GetByPlatformStreamID retrieves a stream by channel and platform stream ID.
	GetByPlatformStreamID(ctx context.Context, channelID models.ULID, platformStreamID string) (*models.Stream, error)
	// GetOpenByChannel retrieves the channel's open stream, if any.
	GetOpenByChannel(ctx context.Context, channelID models.ULID) (*models.Stream, error)
	// GetOpen retrieves all open streams.
	GetOpen(ctx context.Context) ([]*models.Stream, error)
	// Update updates an existing stream.
	Update(ctx context.Context, stream *models.Stream) error
	// Close stamps the stream's end time if not already set.
	Close(ctx context.Context, id models.ULID, at time.Time) error
}

// RecordingRepository defines operations for recording persistence.
type RecordingRepository interface {
	// Create creates a new recording, enforcing at most one active
	// recording per channel.
	Create(ctx context.Context, recording *models.Recording) error
	// GetByID retrieves a recording by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Recording, error)
	// GetByStreamID retrieves the recording owned by a stream.
	GetByStreamID(ctx context.Context, streamID models.ULID) (*models.Recording, error)
	// GetActiveByChannel retrieves the channel's active recording, if any.
	GetActiveByChannel(ctx context.Context, channelID models.ULID) (*models.Recording, error)
	// GetActive retrieves all recordings in the recording state.
	GetActive(ctx context.Context) ([]*models.Recording, error)
	// GetAll retrieves all recordings, newest first.
	GetAll(ctx context.Context) ([]*models.Recording, error)
	// GetByChannel retrieves all recordings for a channel, newest first.
	GetByChannel(ctx context.Context, channelID models.ULID) ([]*models.Recording, error)
	// Update updates an existing recording.
	Update(ctx context.Context, recording *models.Recording) error
	// Delete deletes a recording by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// StreamMetadataRepository defines operations for stream metadata persistence.
type StreamMetadataRepository interface {
	// Upsert creates or updates the metadata row for a stream.
	Upsert(ctx context.Context, meta *models.StreamMetadata) error
	// GetByStreamID retrieves metadata for a stream.
	GetByStreamID(ctx context.Context, streamID models.ULID) (*models.StreamMetadata, error)
}

// StreamEventRepository defines operations for chapter marker persistence.
type StreamEventRepository interface {
	// Create creates a new stream event.
	Create(ctx context.Context, event *models.StreamEvent) error
	// GetByStreamID retrieves all events for a stream in offset order.
	GetByStreamID(ctx context.Context, streamID models.ULID) ([]*models.StreamEvent, error)
}

// TaskRepository defines operations for the durable post-processing queue.
type TaskRepository interface {
	// Create creates a new task.
	Create(ctx context.Context, task *models.Task) error
	// CreatePipeline creates a full ordered pipeline for a target in one
	// transaction.
	CreatePipeline(ctx context.Context, targetID models.ULID, kinds []models.TaskKind) error
	// GetByID retrieves a task by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Task, error)
	// GetByTargetID retrieves all tasks for a target in pipeline order.
	GetByTargetID(ctx context.Context, targetID models.ULID) ([]*models.Task, error)
	// GetByStatus retrieves tasks by status.
	GetByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error)
	// Acquire atomically claims the next runnable task for a worker.
	// A task is runnable when it is pending, due, unlocked, no earlier
	// pipeline stage for the same target is unfinished, and no other task
	// for the same target is running. Returns (nil, nil) when none.
	Acquire(ctx context.Context, workerID string) (*models.Task, error)
	// Release returns a claimed task to pending without counting an attempt.
	Release(ctx context.Context, id models.ULID) error
	// Update updates an existing task.
	Update(ctx context.Context, task *models.Task) error
	// FailSuccessors marks a target's pending tasks after the given pipeline
	// position as failed, cancelling the rest of the pipeline when a stage
	// fails permanently.
	FailSuccessors(ctx context.Context, targetID models.ULID, afterSortOrder int, cause string) (int64, error)
	// ResetRunning reverts all running tasks to pending. Used by startup
	// reconciliation after a crash.
	ResetRunning(ctx context.Context) (int64, error)
	// DeleteFinished deletes done and failed tasks older than the given time.
	DeleteFinished(ctx context.Context, before time.Time) (int64, error)
}

// Compile-time interface checks live next to each implementation.
