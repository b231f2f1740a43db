package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/streamvault/streamvault/internal/models"
)

// streamRepo implements StreamRepository using GORM.
type streamRepo struct {
	db *gorm.DB
}

var _ StreamRepository = (*streamRepo)(nil)

// NewStreamRepository creates a new StreamRepository.
func NewStreamRepository(db *gorm.DB) *streamRepo {
	return &streamRepo{db: db}
}

// Create creates a new stream. Within one transaction it enforces at most
// one open stream per channel and assigns the next episode number for the
// channel's current calendar month.
func (r *streamRepo) Create(ctx context.Context, stream *models.Stream) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&models.Stream{}).
			Where("channel_id = ? AND ended_at IS NULL", stream.ChannelID).
			Count(&open).Error; err != nil {
			return fmt.Errorf("counting open streams: %w", err)
		}
		if open > 0 {
			return models.ErrDuplicateOpenStream
		}

		if stream.StartedAt.IsZero() {
			stream.StartedAt = models.Now()
		}
		if stream.EpisodeNumber == 0 {
			episode, err := nextEpisodeNumber(tx, stream.ChannelID, stream.StartedAt)
			if err != nil {
				return err
			}
			stream.EpisodeNumber = episode
		}

		if err := tx.Create(stream).Error; err != nil {
			return fmt.Errorf("creating stream: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateOpenStream) {
			return err
		}
		return fmt.Errorf("creating stream: %w", err)
	}
	return nil
}

// nextEpisodeNumber returns max(episode_number)+1 among the channel's streams
// started in the same calendar month as startedAt.
func nextEpisodeNumber(tx *gorm.DB, channelID models.ULID, startedAt time.Time) (int, error) {
	monthStart := time.Date(startedAt.Year(), startedAt.Month(), 1, 0, 0, 0, 0, startedAt.Location())
	monthEnd := monthStart.AddDate(0, 1, 0)

	var maxEpisode int
	err := tx.Model(&models.Stream{}).
		Where("channel_id = ? AND started_at >= ? AND started_at < ?", channelID, monthStart, monthEnd).
		Select("COALESCE(MAX(episode_number), 0)").
		Scan(&maxEpisode).Error
	if err != nil {
		return 0, fmt.Errorf("getting max episode number: %w", err)
	}
	return maxEpisode + 1, nil
}

// GetByID retrieves a stream by ID.
func (r *streamRepo) GetByID(ctx context.Context, id models.ULID) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&stream).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by ID: %w", err)
	}
	return &stream, nil
}

// GetByPlatformStreamID retrieves a stream by channel and platform stream ID.
func (r *streamRepo) GetByPlatformStreamID(ctx context.Context, channelID models.ULID, platformStreamID string) (*models.Stream, error) {
	var stream models.Stream
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND platform_stream_id = ?", channelID, platformStreamID).
		First(&stream).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by platform stream ID: %w", err)
	}
	return &stream, nil
}

// GetOpenByChannel retrieves the channel's open stream, if any.
func (r *streamRepo) GetOpenByChannel(ctx context.Context, channelID models.ULID) (*models.Stream, error) {
	var stream models.Stream
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND ended_at IS NULL", channelID).
		Order("started_at DESC").
		First(&stream).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting open stream: %w", err)
	}
	return &stream, nil
}

// GetOpen retrieves all open streams.
func (r *streamRepo) GetOpen(ctx context.Context) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).Where("ended_at IS NULL").Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting open streams: %w", err)
	}
	return streams, nil
}

// Update updates an existing stream.
func (r *streamRepo) Update(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Save(stream).Error; err != nil {
		return fmt.Errorf("updating stream: %w", err)
	}
	return nil
}

// Close stamps the stream's end time if not already set.
func (r *streamRepo) Close(ctx context.Context, id models.ULID, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Stream{}).
		Where("id = ? AND ended_at IS NULL", id).
		UpdateColumn("ended_at", at)
	if result.Error != nil {
		return fmt.Errorf("closing stream: %w", result.Error)
	}
	return nil
}
