// Package dispatcher turns validated platform events into state changes:
// channel liveness, stream lifecycle, chapter markers, and recording
// start/stop calls.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/observability"
	"github.com/streamvault/streamvault/internal/policy"
	"github.com/streamvault/streamvault/internal/repository"
)

// EventKind classifies an incoming platform event.
type EventKind string

const (
	// EventOnline signals a channel went live.
	EventOnline EventKind = "online"
	// EventOffline signals a channel went offline.
	EventOffline EventKind = "offline"
	// EventChannelUpdate signals a title/category change on a live channel.
	EventChannelUpdate EventKind = "channel_update"
)

// ErrUnknownEventKind indicates an event with an unrecognized kind.
var ErrUnknownEventKind = errors.New("unknown event kind")

// Event is a validated platform event ready for dispatch.
type Event struct {
	ChannelID        models.ULID
	Kind             EventKind
	Title            string
	Category         string
	Language         string
	PlatformStreamID string
	ArrivedAt        time.Time
}

// RecordingController is the recording lifecycle surface the dispatcher
// drives. Satisfied by recorder.Service.
type RecordingController interface {
	IsRecording(channelID models.ULID) bool
	Start(ctx context.Context, channel *models.Channel, stream *models.Stream) (*models.Recording, error)
	Stop(ctx context.Context, channelID models.ULID) error
}

// Dispatcher routes events to the recording core. Events for the same
// channel are handled one at a time; events for different channels proceed
// concurrently.
type Dispatcher struct {
	channels RecordingController
	chanRepo repository.ChannelRepository
	streams  repository.StreamRepository
	events   repository.StreamEventRepository
	resolver *policy.Resolver
	logger   *slog.Logger
	dedup    *dedupCache

	mu    sync.Mutex
	locks map[models.ULID]*sync.Mutex
}

// New creates a Dispatcher with a 60 second deduplication window.
func New(
	controller RecordingController,
	chanRepo repository.ChannelRepository,
	streams repository.StreamRepository,
	events repository.StreamEventRepository,
	resolver *policy.Resolver,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		channels: controller,
		chanRepo: chanRepo,
		streams:  streams,
		events:   events,
		resolver: resolver,
		logger:   observability.WithComponent(logger, "dispatcher"),
		dedup:    newDedupCache(60*time.Second, 4096),
		locks:    make(map[models.ULID]*sync.Mutex),
	}
}

// channelLock returns the serialization mutex for a channel.
func (d *Dispatcher) channelLock(channelID models.ULID) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[channelID] = lock
	}
	return lock
}

// Dispatch handles one event. Duplicate online/offline deliveries inside the
// deduplication window are dropped silently.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	logger := d.logger.With(
		slog.String("channel_id", ev.ChannelID.String()),
		slog.String("kind", string(ev.Kind)),
	)

	var key dedupKey
	dedup := false
	switch ev.Kind {
	case EventOnline, EventOffline:
		key = dedupKey{channelID: ev.ChannelID, kind: ev.Kind, platformStreamID: ev.PlatformStreamID}
		dedup = true
		if d.dedup.Contains(key) {
			logger.DebugContext(ctx, "duplicate event dropped")
			return nil
		}
	case EventChannelUpdate:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, ev.Kind)
	}

	lock := d.channelLock(ev.ChannelID)
	lock.Lock()
	defer lock.Unlock()

	channel, err := d.chanRepo.GetByID(ctx, ev.ChannelID)
	if err != nil {
		return fmt.Errorf("loading channel: %w", err)
	}
	if channel == nil {
		return models.ErrChannelNotFound
	}

	switch ev.Kind {
	case EventOnline:
		err = d.handleOnline(ctx, channel, ev, logger)
	case EventOffline:
		err = d.handleOffline(ctx, channel, ev, logger)
	default:
		err = d.handleChannelUpdate(ctx, channel, ev, logger)
	}
	if err != nil {
		return err
	}

	// Marked only after the handler succeeded: a transient failure must not
	// suppress the platform's redelivery of the same event.
	if dedup {
		d.dedup.Mark(key)
	}
	return nil
}

func (d *Dispatcher) handleOnline(ctx context.Context, channel *models.Channel, ev Event, logger *slog.Logger) error {
	if err := d.chanRepo.UpdateLiveState(ctx, channel.ID, true, ev.ArrivedAt); err != nil {
		return fmt.Errorf("updating channel liveness: %w", err)
	}

	stream, err := d.streams.GetOpenByChannel(ctx, channel.ID)
	if err != nil {
		return fmt.Errorf("loading open stream: %w", err)
	}
	if stream == nil {
		stream = &models.Stream{
			ChannelID:        channel.ID,
			PlatformStreamID: ev.PlatformStreamID,
			StartedAt:        ev.ArrivedAt,
			Title:            ev.Title,
			Category:         ev.Category,
			Language:         ev.Language,
		}
		if err := d.streams.Create(ctx, stream); err != nil {
			return fmt.Errorf("creating stream: %w", err)
		}
		logger.InfoContext(ctx, "stream opened",
			slog.String("stream_id", stream.ID.String()),
			slog.Int("episode", stream.EpisodeNumber),
		)
	}

	if !channel.AutoRecordEnabled() {
		logger.DebugContext(ctx, "auto record disabled, not starting recording")
		return nil
	}
	return d.startRecording(ctx, channel, stream, logger)
}

// startRecording starts capture, treating a concurrent start's
// duplicate-recording rejection as a no-op.
func (d *Dispatcher) startRecording(ctx context.Context, channel *models.Channel, stream *models.Stream, logger *slog.Logger) error {
	_, err := d.channels.Start(ctx, channel, stream)
	if errors.Is(err, models.ErrDuplicateActiveRecording) {
		logger.DebugContext(ctx, "recording already active")
		return nil
	}
	if err != nil {
		return fmt.Errorf("starting recording: %w", err)
	}
	return nil
}

func (d *Dispatcher) handleOffline(ctx context.Context, channel *models.Channel, ev Event, logger *slog.Logger) error {
	if d.channels.IsRecording(channel.ID) {
		if err := d.channels.Stop(ctx, channel.ID); err != nil && !errors.Is(err, models.ErrRecordingNotFound) {
			logger.ErrorContext(ctx, "stopping recording on offline event",
				slog.String("error", err.Error()))
		}
	}

	stream, err := d.streams.GetOpenByChannel(ctx, channel.ID)
	if err != nil {
		return fmt.Errorf("loading open stream: %w", err)
	}
	if stream != nil {
		if err := d.streams.Close(ctx, stream.ID, ev.ArrivedAt); err != nil {
			return fmt.Errorf("closing stream: %w", err)
		}
		logger.InfoContext(ctx, "stream closed", slog.String("stream_id", stream.ID.String()))
	}

	if err := d.chanRepo.UpdateLiveState(ctx, channel.ID, false, ev.ArrivedAt); err != nil {
		return fmt.Errorf("updating channel liveness: %w", err)
	}
	return nil
}

func (d *Dispatcher) handleChannelUpdate(ctx context.Context, channel *models.Channel, ev Event, logger *slog.Logger) error {
	stream, err := d.streams.GetOpenByChannel(ctx, channel.ID)
	if err != nil {
		return fmt.Errorf("loading open stream: %w", err)
	}
	if stream == nil {
		logger.DebugContext(ctx, "channel update with no open stream, ignored")
		return nil
	}

	if ev.Title != "" {
		stream.Title = ev.Title
	}
	if ev.Category != "" {
		stream.Category = ev.Category
	}
	if ev.Language != "" {
		stream.Language = ev.Language
	}
	if err := d.streams.Update(ctx, stream); err != nil {
		return fmt.Errorf("updating stream: %w", err)
	}

	if d.resolver.Resolve(channel).UseChapters && d.channels.IsRecording(channel.ID) {
		offset := ev.ArrivedAt.Sub(stream.StartedAt).Seconds()
		if offset < 0 {
			offset = 0
		}
		marker := &models.StreamEvent{
			StreamID:      stream.ID,
			OffsetSeconds: offset,
			Title:         stream.Title,
			Category:      stream.Category,
		}
		if err := d.events.Create(ctx, marker); err != nil {
			return fmt.Errorf("recording chapter marker: %w", err)
		}
		logger.InfoContext(ctx, "chapter marker recorded",
			slog.String("stream_id", stream.ID.String()),
			slog.Float64("offset_seconds", offset),
		)
	}
	return nil
}

// ForceStart begins recording the channel's open stream regardless of its
// auto-record setting. This is the only override of the auto-record gate.
func (d *Dispatcher) ForceStart(ctx context.Context, channelID models.ULID) (*models.Recording, error) {
	lock := d.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	channel, err := d.chanRepo.GetByID(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("loading channel: %w", err)
	}
	if channel == nil {
		return nil, models.ErrChannelNotFound
	}

	stream, err := d.streams.GetOpenByChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("loading open stream: %w", err)
	}
	if stream == nil {
		return nil, models.ErrNoOpenStream
	}

	rec, err := d.channels.Start(ctx, channel, stream)
	if err != nil {
		return nil, fmt.Errorf("starting recording: %w", err)
	}
	d.logger.InfoContext(ctx, "recording force started",
		slog.String("channel_id", channelID.String()),
		slog.String("recording_id", rec.ID.String()),
	)
	return rec, nil
}
