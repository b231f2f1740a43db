package postproc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/policy"
	"github.com/streamvault/streamvault/internal/repository"
)

// CleanupHandler enforces the channel's retention policy after each
// recording finishes.
type CleanupHandler struct {
	recordings repository.RecordingRepository
	streams    repository.StreamRepository
	channels   repository.ChannelRepository
	resolver   *policy.Resolver
	logger     *slog.Logger
	now        func() time.Time
}

// NewCleanupHandler creates a cleanup task handler.
func NewCleanupHandler(
	recordings repository.RecordingRepository,
	streams repository.StreamRepository,
	channels repository.ChannelRepository,
	resolver *policy.Resolver,
) *CleanupHandler {
	return &CleanupHandler{
		recordings: recordings,
		streams:    streams,
		channels:   channels,
		resolver:   resolver,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// WithLogger sets the logger.
func (h *CleanupHandler) WithLogger(logger *slog.Logger) *CleanupHandler {
	h.logger = logger
	return h
}

var _ TaskHandler = (*CleanupHandler)(nil)

// Execute applies the channel's cleanup policy, deleting the oldest eligible
// completed recordings and their sidecar files.
func (h *CleanupHandler) Execute(ctx context.Context, task *models.Task) (string, error) {
	rec, err := h.recordings.GetByID(ctx, task.TargetID)
	if err != nil {
		return "", fmt.Errorf("loading recording: %w", err)
	}
	if rec == nil {
		return "", models.ErrRecordingNotFound
	}
	channel, err := h.channels.GetByID(ctx, rec.ChannelID)
	if err != nil {
		return "", fmt.Errorf("loading channel: %w", err)
	}
	if channel == nil {
		return "", models.ErrChannelNotFound
	}

	pol := h.resolver.Resolve(channel).Cleanup
	if !pol.Enabled() {
		return "cleanup disabled", nil
	}
	if pol.PreserveFavorites && channel.Favorite {
		return "channel is a favorite, preserved", nil
	}

	candidates, err := h.eligible(ctx, channel.ID, pol)
	if err != nil {
		return "", err
	}

	doomed := selectDoomed(candidates, pol, h.now())
	for _, victim := range doomed {
		if err := h.deleteRecording(ctx, victim); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("deleted %d of %d eligible recordings", len(doomed), len(candidates)), nil
}

// eligible returns the channel's completed recordings, oldest first, minus
// recordings whose category the policy preserves.
func (h *CleanupHandler) eligible(ctx context.Context, channelID models.ULID, pol policy.CleanupPolicy) ([]*models.Recording, error) {
	all, err := h.recordings.GetByChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}

	eligible := make([]*models.Recording, 0, len(all))
	for _, rec := range all {
		if rec.Status != models.RecordingStatusCompleted {
			continue
		}
		if len(pol.PreserveCategories) > 0 {
			stream, err := h.streams.GetByID(ctx, rec.StreamID)
			if err != nil {
				return nil, fmt.Errorf("loading stream: %w", err)
			}
			if stream != nil && slices.Contains(pol.PreserveCategories, stream.Category) {
				continue
			}
		}
		eligible = append(eligible, rec)
	}

	// GetByChannel returns newest first; pruning wants oldest first.
	slices.Reverse(eligible)
	return eligible, nil
}

// selectDoomed picks the recordings the policy deletes. Candidates must be
// ordered oldest first. Strategies compose: a recording is deleted when any
// enabled limit applies to it.
func selectDoomed(candidates []*models.Recording, pol policy.CleanupPolicy, now time.Time) []*models.Recording {
	doom := make(map[models.ULID]*models.Recording)

	byCount := pol.Strategy == models.CleanupByCount || pol.Strategy == models.CleanupComposite
	bySize := pol.Strategy == models.CleanupBySize || pol.Strategy == models.CleanupComposite
	byAge := pol.Strategy == models.CleanupByAge || pol.Strategy == models.CleanupComposite

	if byCount && pol.MaxCount > 0 && len(candidates) > pol.MaxCount {
		for _, rec := range candidates[:len(candidates)-pol.MaxCount] {
			doom[rec.ID] = rec
		}
	}

	if bySize && pol.MaxBytes > 0 {
		var total int64
		for _, rec := range candidates {
			total += rec.SizeBytes
		}
		for _, rec := range candidates {
			if total <= pol.MaxBytes {
				break
			}
			if _, ok := doom[rec.ID]; !ok {
				doom[rec.ID] = rec
			}
			total -= rec.SizeBytes
		}
	}

	if byAge && pol.MaxAge > 0 {
		cutoff := now.Add(-pol.MaxAge)
		for _, rec := range candidates {
			if rec.EndedAt != nil && rec.EndedAt.Before(cutoff) {
				doom[rec.ID] = rec
			}
		}
	}

	// Preserve candidate order (oldest first) in the result.
	doomed := make([]*models.Recording, 0, len(doom))
	for _, rec := range candidates {
		if _, ok := doom[rec.ID]; ok {
			doomed = append(doomed, rec)
		}
	}
	return doomed
}

// deleteRecording removes the recording's files and row.
func (h *CleanupHandler) deleteRecording(ctx context.Context, rec *models.Recording) error {
	paths := []string{
		rec.OutputPath,
		thumbnailPath(rec.OutputPath),
		chaptersVTTPath(rec.OutputPath),
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}

	if err := h.recordings.Delete(ctx, rec.ID); err != nil {
		return fmt.Errorf("deleting recording row: %w", err)
	}
	h.logger.Info("recording pruned",
		slog.String("recording_id", rec.ID.String()),
		slog.String("path", rec.OutputPath))
	return nil
}
