package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/streamvault/streamvault/internal/models"
)

// recordingRepo implements RecordingRepository using GORM.
type recordingRepo struct {
	db *gorm.DB
}

var _ RecordingRepository = (*recordingRepo)(nil)

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *gorm.DB) *recordingRepo {
	return &recordingRepo{db: db}
}

// Create creates a new recording. Within one transaction it enforces at
// most one recording in the recording state per channel.
func (r *recordingRepo) Create(ctx context.Context, recording *models.Recording) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.Recording{}).
			Where("channel_id = ? AND status = ?", recording.ChannelID, models.RecordingStatusRecording).
			Count(&active).Error; err != nil {
			return fmt.Errorf("counting active recordings: %w", err)
		}
		if active > 0 {
			return models.ErrDuplicateActiveRecording
		}

		if err := tx.Create(recording).Error; err != nil {
			return fmt.Errorf("creating recording: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateActiveRecording) {
			return err
		}
		return fmt.Errorf("creating recording: %w", err)
	}
	return nil
}

// GetByID retrieves a recording by ID.
func (r *recordingRepo) GetByID(ctx context.Context, id models.ULID) (*models.Recording, error) {
	var recording models.Recording
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&recording).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recording by ID: %w", err)
	}
	return &recording, nil
}

// GetByStreamID retrieves the newest recording owned by a stream. A stream
// gains a second recording when a crash restart resumes a live broadcast.
func (r *recordingRepo) GetByStreamID(ctx context.Context, streamID models.ULID) (*models.Recording, error) {
	var recording models.Recording
	if err := r.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("started_at DESC").
		First(&recording).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recording by stream ID: %w", err)
	}
	return &recording, nil
}

// GetActiveByChannel retrieves the channel's active recording, if any.
func (r *recordingRepo) GetActiveByChannel(ctx context.Context, channelID models.ULID) (*models.Recording, error) {
	var recording models.Recording
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND status = ?", channelID, models.RecordingStatusRecording).
		Order("started_at DESC").
		First(&recording).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting active recording: %w", err)
	}
	return &recording, nil
}

// GetActive retrieves all recordings in the recording state.
func (r *recordingRepo) GetActive(ctx context.Context) ([]*models.Recording, error) {
	var recordings []*models.Recording
	err := r.db.WithContext(ctx).
		Where("status = ?", models.RecordingStatusRecording).
		Find(&recordings).Error
	if err != nil {
		return nil, fmt.Errorf("getting active recordings: %w", err)
	}
	return recordings, nil
}

// GetAll retrieves all recordings, newest first.
func (r *recordingRepo) GetAll(ctx context.Context) ([]*models.Recording, error) {
	var recordings []*models.Recording
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Find(&recordings).Error
	if err != nil {
		return nil, fmt.Errorf("getting recordings: %w", err)
	}
	return recordings, nil
}

// GetByChannel retrieves all recordings for a channel, newest first.
func (r *recordingRepo) GetByChannel(ctx context.Context, channelID models.ULID) ([]*models.Recording, error) {
	var recordings []*models.Recording
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("started_at DESC").
		Find(&recordings).Error
	if err != nil {
		return nil, fmt.Errorf("getting recordings by channel: %w", err)
	}
	return recordings, nil
}

// Update updates an existing recording.
func (r *recordingRepo) Update(ctx context.Context, recording *models.Recording) error {
	if err := r.db.WithContext(ctx).Save(recording).Error; err != nil {
		return fmt.Errorf("updating recording: %w", err)
	}
	return nil
}

// Delete deletes a recording by ID.
func (r *recordingRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Recording{}).Error; err != nil {
		return fmt.Errorf("deleting recording: %w", err)
	}
	return nil
}
