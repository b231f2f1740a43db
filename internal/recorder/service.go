// Package recorder owns the recording lifecycle: starting capture when a
// channel goes live, monitoring the subprocess, rotating segments, and
// running the stop path that hands a finished recording to post-processing.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/streamvault/streamvault/internal/capture"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/observability"
	"github.com/streamvault/streamvault/internal/policy"
	"github.com/streamvault/streamvault/internal/repository"
	"github.com/streamvault/streamvault/internal/template"
)

// active tracks one in-flight recording.
type active struct {
	recordingID models.ULID
	channelID   models.ULID
	login       string

	cancel context.CancelFunc

	mu     sync.Mutex
	handle *capture.Handle

	// stopOnce guarantees the stop path runs exactly once per recording,
	// whether triggered by an offline event, operator stop, subprocess
	// death, or shutdown.
	stopOnce sync.Once
}

func (a *active) currentHandle() *capture.Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle
}

func (a *active) setHandle(h *capture.Handle) {
	a.mu.Lock()
	a.handle = h
	a.mu.Unlock()
}

// Service starts, supervises, and stops recordings.
type Service struct {
	cfg      config.RecorderConfig
	storage  config.StorageConfig
	logger   *slog.Logger
	runner   *capture.Runner
	resolver *policy.Resolver
	rotation RotationPolicy

	channels   repository.ChannelRepository
	streams    repository.StreamRepository
	recordings repository.RecordingRepository
	tasks      repository.TaskRepository

	mu     sync.Mutex
	actives map[models.ULID]*active // keyed by channel ID

	wg sync.WaitGroup
}

// NewService creates a recorder Service.
func NewService(
	cfg config.RecorderConfig,
	storage config.StorageConfig,
	runner *capture.Runner,
	resolver *policy.Resolver,
	channels repository.ChannelRepository,
	streams repository.StreamRepository,
	recordings repository.RecordingRepository,
	tasks repository.TaskRepository,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:        cfg,
		storage:    storage,
		logger:     observability.WithComponent(logger, "recorder"),
		runner:     runner,
		resolver:   resolver,
		rotation:   NewRotationPolicy(cfg),
		channels:   channels,
		streams:    streams,
		recordings: recordings,
		tasks:      tasks,
		actives:    make(map[models.ULID]*active),
	}
}

// IsRecording reports whether the channel has an in-flight recording.
func (s *Service) IsRecording(channelID models.ULID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.actives[channelID]
	return ok
}

// ActiveCount returns the number of in-flight recordings.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actives)
}

// ProcessStats samples the capture subprocess for an in-flight recording.
func (s *Service) ProcessStats(recordingID models.ULID) (*capture.Stats, error) {
	h := s.runner.Get(recordingID)
	if h == nil {
		return nil, models.ErrRecordingNotFound
	}
	return h.Stats()
}

// Start begins recording the given stream. The caller is responsible for the
// auto-record policy gate; Start only enforces the one-active-recording
// invariant. Errors from the start path surface to the caller.
func (s *Service) Start(ctx context.Context, channel *models.Channel, stream *models.Stream) (*models.Recording, error) {
	s.mu.Lock()
	if _, ok := s.actives[channel.ID]; ok {
		s.mu.Unlock()
		return nil, models.ErrDuplicateActiveRecording
	}
	// Reserve the channel slot before the slow path runs.
	act := &active{channelID: channel.ID, login: channel.Login}
	s.actives[channel.ID] = act
	s.mu.Unlock()

	rec, err := s.start(ctx, channel, stream, act)
	if err != nil {
		s.removeActive(channel.ID)
		return nil, err
	}
	return rec, nil
}

func (s *Service) start(ctx context.Context, channel *models.Channel, stream *models.Stream, act *active) (*models.Recording, error) {
	pol := s.resolver.Resolve(channel)

	outputPath, err := s.renderOutputPath(channel, stream, pol.FilenameTemplate)
	if err != nil {
		// A bad template fails the recording before any row is written.
		return nil, fmt.Errorf("resolving output path: %w", err)
	}

	rec := &models.Recording{
		StreamID:   stream.ID,
		ChannelID:  channel.ID,
		StartedAt:  models.Now(),
		Status:     models.RecordingStatusRecording,
		OutputPath: outputPath,
		Quality:    pol.Quality,
	}
	if err := s.recordings.Create(ctx, rec); err != nil {
		return nil, err
	}
	act.recordingID = rec.ID

	handle, err := s.spawn(ctx, rec, channel.Login, pol, 1)
	if err != nil {
		rec.MarkFailed(models.Now(), err)
		if uerr := s.recordings.Update(ctx, rec); uerr != nil {
			s.logger.ErrorContext(ctx, "persisting failed recording",
				slog.String("recording_id", rec.ID.String()),
				slog.String("error", uerr.Error()),
			)
		}
		return nil, fmt.Errorf("spawning capture: %w", err)
	}
	act.setHandle(handle)

	monitorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	act.cancel = cancel

	s.wg.Add(1)
	go s.monitor(monitorCtx, act)

	s.logger.InfoContext(ctx, "recording started",
		slog.String("recording_id", rec.ID.String()),
		slog.String("channel", channel.Login),
		slog.String("stream_id", stream.ID.String()),
		slog.String("output", outputPath),
	)
	return rec, nil
}

// renderOutputPath renders the filename template into an absolute .ts path
// under the recordings root.
func (s *Service) renderOutputPath(channel *models.Channel, stream *models.Stream, tmpl string) (string, error) {
	rendered, err := template.Render(tmpl, template.Values{
		Streamer:  channel.Login,
		Title:     stream.Title,
		Game:      stream.Category,
		TwitchID:  stream.PlatformStreamID,
		ID:        stream.ID.String(),
		Season:    stream.Season(),
		Episode:   stream.EpisodeNumber,
		StartedAt: stream.StartedAt,
	})
	if err != nil {
		return "", err
	}
	return filepath.Join(s.storage.RecordingsRoot, rendered+".ts"), nil
}

// spawn launches the capture subprocess for one segment.
func (s *Service) spawn(ctx context.Context, rec *models.Recording, login string, pol policy.Policy, segment int) (*capture.Handle, error) {
	return s.runner.Start(ctx, capture.StartSpec{
		RecordingID: rec.ID,
		Login:       login,
		OutputPath:  rec.CapturePath(segment),
		Quality:     pol.Quality,
		Codecs:      pol.Codecs,
		ProxyURL:    pol.ProxyURL,
		AuthHeader:  pol.AuthHeader,
		LogPath:     filepath.Join(s.storage.RecordingsRoot, login, "logs", rec.ID.String()+".log"),
	})
}

// monitor polls the subprocess and drives rotation. It exits when the
// subprocess dies (stop path), when rotation fails into the stop path, or
// when the monitor context is cancelled (explicit stop or shutdown).
func (s *Service) monitor(ctx context.Context, act *active) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	segmentStart := time.Now()

	for {
		handle := act.currentHandle()
		select {
		case <-ctx.Done():
			return
		case <-handle.Done():
			s.onExit(context.WithoutCancel(ctx), act, handle)
			return
		case <-ticker.C:
			if !handle.Alive() {
				s.onExit(context.WithoutCancel(ctx), act, handle)
				return
			}
			if s.shouldRotate(act, handle, segmentStart) {
				if ok := s.rotate(ctx, act); !ok {
					return
				}
				segmentStart = time.Now()
			}
		}
	}
}

func (s *Service) shouldRotate(act *active, handle *capture.Handle, segmentStart time.Time) bool {
	var size int64
	rec, err := s.recordings.GetByID(context.Background(), act.recordingID)
	if err != nil || rec == nil {
		return false
	}
	if fi, err := os.Stat(rec.CapturePath(rec.LastSegmentIndex)); err == nil {
		size = fi.Size()
	}
	return s.rotation.ShouldRotate(time.Since(segmentStart), size)
}

// rotate ends the current segment and starts the next one. The segment
// counter is incremented and persisted before anything else, so a crash
// mid-rotation is visible in the row. Cleanup failures never prevent the
// next segment; only a failed spawn falls through to the stop path.
// Returns false when the monitor should exit.
func (s *Service) rotate(ctx context.Context, act *active) bool {
	logger := s.logger.With(slog.String("recording_id", act.recordingID.String()))

	rec, err := s.recordings.GetByID(ctx, act.recordingID)
	if err != nil || rec == nil || !rec.IsActive() {
		return false
	}

	rec.SegmentCount++
	rec.LastSegmentIndex++
	if err := s.recordings.Update(ctx, rec); err != nil {
		logger.ErrorContext(ctx, "rotation abandoned, could not persist segment counter",
			slog.String("error", err.Error()))
		return true
	}

	old := act.currentHandle()
	if !old.Alive() {
		logger.InfoContext(ctx, "process already terminated")
	}
	if err := s.runner.Terminate(ctx, old, s.cfg.GraceRotate); err != nil {
		// Ignored: rotation must not be blocked by termination problems.
		logger.WarnContext(ctx, "terminating old segment process",
			slog.String("error", err.Error()))
	}

	channel, err := s.channels.GetByID(ctx, rec.ChannelID)
	if err != nil || channel == nil {
		s.finalize(ctx, act, fmt.Errorf("rotation: channel lookup failed"), true)
		return false
	}

	handle, err := s.spawn(ctx, rec, act.login, s.resolver.Resolve(channel), rec.LastSegmentIndex)
	if err != nil {
		logger.ErrorContext(ctx, "rotation spawn failed, running stop path",
			slog.String("error", err.Error()))
		s.finalize(ctx, act, fmt.Errorf("spawning rotation segment: %w", err), true)
		return false
	}
	act.setHandle(handle)

	logger.InfoContext(ctx, "segment rotated",
		slog.Int("segment", rec.LastSegmentIndex))
	return true
}

// onExit handles a subprocess that died on its own.
func (s *Service) onExit(ctx context.Context, act *active, handle *capture.Handle) {
	var exitErr error
	if err := handle.ExitErr(); err != nil {
		exitErr = err
	}
	// Vacate the runner slot; the process is already gone.
	_ = s.runner.Terminate(ctx, handle, 0)
	s.runStopPath(ctx, act, exitErr)
}

// Stop explicitly stops the channel's recording: terminate with grace, then
// the stop path. Proceeds even if the subprocess exit is delayed.
func (s *Service) Stop(ctx context.Context, channelID models.ULID) error {
	s.mu.Lock()
	act, ok := s.actives[channelID]
	s.mu.Unlock()
	if !ok {
		return models.ErrRecordingNotFound
	}

	if act.cancel != nil {
		act.cancel()
	}
	if handle := act.currentHandle(); handle != nil {
		if err := s.runner.Terminate(ctx, handle, s.cfg.GraceTerminate); err != nil {
			s.logger.WarnContext(ctx, "terminating capture on stop",
				slog.String("recording_id", act.recordingID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	s.runStopPath(ctx, act, nil)
	return nil
}

// runStopPath finalizes the recording row and enqueues post-processing.
// Runs at most once per recording.
func (s *Service) runStopPath(ctx context.Context, act *active, exitErr error) {
	s.finalize(ctx, act, exitErr, false)
}

// finalize is the single stop path. With failed set the recording is marked
// failed regardless of output, but captured segments are still sent through
// post-processing.
func (s *Service) finalize(ctx context.Context, act *active, exitErr error, failed bool) {
	act.stopOnce.Do(func() {
		defer s.removeActive(act.channelID)

		logger := s.logger.With(slog.String("recording_id", act.recordingID.String()))
		done := observability.TimedOperation(ctx, logger, "stop_path")
		defer done()

		rec, err := s.recordings.GetByID(ctx, act.recordingID)
		if err != nil || rec == nil {
			logger.ErrorContext(ctx, "stop path: loading recording failed")
			return
		}
		if !rec.IsActive() {
			return
		}

		now := models.Now()
		usable := s.hasUsableOutput(rec)
		if usable && !failed {
			rec.MarkStopped(now)
			if exitErr != nil {
				rec.LastError = exitErr.Error()
			}
		} else {
			rec.MarkFailed(now, exitErr)
		}
		if err := s.recordings.Update(ctx, rec); err != nil {
			logger.ErrorContext(ctx, "stop path: persisting recording failed",
				slog.String("error", err.Error()))
			return
		}

		if usable {
			if err := s.tasks.CreatePipeline(ctx, rec.ID, PipelineKinds(rec)); err != nil {
				logger.ErrorContext(ctx, "stop path: enqueueing pipeline failed",
					slog.String("error", err.Error()))
			}
		}

		if err := s.channels.UpdateLiveState(ctx, rec.ChannelID, false, now); err != nil {
			logger.WarnContext(ctx, "stop path: updating channel liveness",
				slog.String("error", err.Error()))
		}
	})
}

// hasUsableOutput reports whether any captured segment holds data.
func (s *Service) hasUsableOutput(rec *models.Recording) bool {
	for _, path := range rec.SegmentPaths() {
		if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
			return true
		}
	}
	return false
}

// PipelineKinds returns the post-processing stages for a finished recording.
// Single-segment recordings skip the merge stage.
func PipelineKinds(rec *models.Recording) []models.TaskKind {
	kinds := make([]models.TaskKind, 0, 6)
	if rec.SegmentCount > 1 {
		kinds = append(kinds, models.TaskKindMerge)
	}
	return append(kinds,
		models.TaskKindTransmux,
		models.TaskKindMetadataEmbed,
		models.TaskKindThumbnail,
		models.TaskKindChaptersEmbed,
		models.TaskKindCleanup,
	)
}

func (s *Service) removeActive(channelID models.ULID) {
	s.mu.Lock()
	delete(s.actives, channelID)
	s.mu.Unlock()
}

// Shutdown stops all monitors, terminates all live captures with the
// shutdown grace, and persists stopped state for each active recording.
// Pending post-processing resumes after restart.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	acts := make([]*active, 0, len(s.actives))
	for _, act := range s.actives {
		acts = append(acts, act)
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "shutting down recorder", slog.Int("active", len(acts)))

	var wg sync.WaitGroup
	for _, act := range acts {
		wg.Add(1)
		go func(act *active) {
			defer wg.Done()
			if act.cancel != nil {
				act.cancel()
			}
			if handle := act.currentHandle(); handle != nil {
				_ = s.runner.Terminate(ctx, handle, s.cfg.GraceShutdown)
			}
			s.runStopPath(ctx, act, nil)
		}(act)
	}
	wg.Wait()
	s.wg.Wait()
}
