// Package reconcile repairs persistent state at startup: recordings and
// tasks that a previous process left mid-flight are settled before the
// service starts accepting events.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/observability"
	"github.com/streamvault/streamvault/internal/recorder"
	"github.com/streamvault/streamvault/internal/repository"
)

// RecordingStarter starts a recording for an already-open stream and reports
// which channels it is actively capturing. Satisfied by recorder.Service.
type RecordingStarter interface {
	Start(ctx context.Context, channel *models.Channel, stream *models.Stream) (*models.Recording, error)
	IsRecording(channelID models.ULID) bool
}

// Reconciler settles zombie state exactly once before dispatch begins.
// Running it again is a no-op.
type Reconciler struct {
	channels   repository.ChannelRepository
	streams    repository.StreamRepository
	recordings repository.RecordingRepository
	tasks      repository.TaskRepository
	starter    RecordingStarter
	logger     *slog.Logger
}

// New creates a Reconciler.
func New(
	channels repository.ChannelRepository,
	streams repository.StreamRepository,
	recordings repository.RecordingRepository,
	tasks repository.TaskRepository,
	starter RecordingStarter,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		channels:   channels,
		streams:    streams,
		recordings: recordings,
		tasks:      tasks,
		starter:    starter,
		logger:     observability.WithComponent(logger, "reconcile"),
	}
}

// Run performs the full reconciliation pass.
func (r *Reconciler) Run(ctx context.Context) error {
	done := observability.TimedOperation(ctx, r.logger, "reconcile")
	defer done()

	if err := r.settleZombieRecordings(ctx); err != nil {
		return fmt.Errorf("settling zombie recordings: %w", err)
	}
	if err := r.resetRunningTasks(ctx); err != nil {
		return fmt.Errorf("resetting running tasks: %w", err)
	}
	if err := r.settleOpenStreams(ctx); err != nil {
		return fmt.Errorf("settling open streams: %w", err)
	}
	return nil
}

// settleZombieRecordings finalizes recordings a dead process left in the
// recording state. Recordings whose channel has a live capture subprocess
// in this process are not zombies and are left alone. Recordings with
// captured data go through the normal post-processing pipeline; recordings
// with nothing on disk are failed.
func (r *Reconciler) settleZombieRecordings(ctx context.Context) error {
	active, err := r.recordings.GetActive(ctx)
	if err != nil {
		return err
	}

	settled := 0
	for _, rec := range active {
		if r.starter.IsRecording(rec.ChannelID) {
			continue
		}
		logger := r.logger.With(slog.String("recording_id", rec.ID.String()))
		now := models.Now()

		if hasUsableOutput(rec) {
			rec.MarkStopped(now)
		} else {
			rec.MarkFailed(now, fmt.Errorf("no capture output found after restart"))
		}
		if err := r.recordings.Update(ctx, rec); err != nil {
			return fmt.Errorf("updating recording %s: %w", rec.ID, err)
		}

		if rec.Status == models.RecordingStatusStopped {
			if err := r.tasks.CreatePipeline(ctx, rec.ID, recorder.PipelineKinds(rec)); err != nil {
				return fmt.Errorf("enqueueing pipeline for %s: %w", rec.ID, err)
			}
		}
		settled++
		logger.InfoContext(ctx, "zombie recording settled",
			slog.String("status", string(rec.Status)))
	}

	if settled > 0 {
		r.logger.InfoContext(ctx, "settled zombie recordings", slog.Int("count", settled))
	}
	return nil
}

// resetRunningTasks reverts tasks a dead worker left in the running state.
func (r *Reconciler) resetRunningTasks(ctx context.Context) error {
	reset, err := r.tasks.ResetRunning(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		r.logger.InfoContext(ctx, "reset interrupted tasks", slog.Int64("count", reset))
	}
	return nil
}

// settleOpenStreams handles streams still open after restart. A stream whose
// channel is still live and auto-recorded gets a fresh recording (the prior
// capture is gone; a new segment sequence begins on the same stream). A
// stream whose channel went dark is closed with the last known event time.
func (r *Reconciler) settleOpenStreams(ctx context.Context) error {
	open, err := r.streams.GetOpen(ctx)
	if err != nil {
		return err
	}

	for _, stream := range open {
		channel, err := r.channels.GetByID(ctx, stream.ChannelID)
		if err != nil {
			return fmt.Errorf("loading channel %s: %w", stream.ChannelID, err)
		}
		if channel == nil {
			continue
		}
		logger := r.logger.With(
			slog.String("stream_id", stream.ID.String()),
			slog.String("channel", channel.Login),
		)

		if channel.IsLive {
			if !channel.AutoRecordEnabled() || r.starter.IsRecording(channel.ID) {
				continue
			}
			_, err := r.starter.Start(ctx, channel, stream)
			if err != nil && !errors.Is(err, models.ErrDuplicateActiveRecording) {
				logger.ErrorContext(ctx, "restarting recording for live channel",
					slog.Any("error", err))
				continue
			}
			logger.InfoContext(ctx, "recording restarted for live channel")
			continue
		}

		closedAt := models.Now()
		if channel.LastLiveAt != nil {
			closedAt = *channel.LastLiveAt
		}
		if err := r.streams.Close(ctx, stream.ID, closedAt); err != nil {
			return fmt.Errorf("closing stream %s: %w", stream.ID, err)
		}
		logger.InfoContext(ctx, "abandoned stream closed")
	}
	return nil
}

// hasUsableOutput reports whether any captured segment holds data.
func hasUsableOutput(rec *models.Recording) bool {
	for _, path := range rec.SegmentPaths() {
		if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
			return true
		}
	}
	return false
}
