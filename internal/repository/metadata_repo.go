package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/streamvault/streamvault/internal/models"
)

// streamMetadataRepo implements StreamMetadataRepository using GORM.
type streamMetadataRepo struct {
	db *gorm.DB
}

var _ StreamMetadataRepository = (*streamMetadataRepo)(nil)

// NewStreamMetadataRepository creates a new StreamMetadataRepository.
func NewStreamMetadataRepository(db *gorm.DB) *streamMetadataRepo {
	return &streamMetadataRepo{db: db}
}

// Upsert creates or updates the metadata row for a stream.
func (r *streamMetadataRepo) Upsert(ctx context.Context, meta *models.StreamMetadata) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stream_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"thumbnail_path", "category_image_path", "duration_seconds",
				"file_size_bytes", "chapters_vtt_path", "updated_at",
			}),
		}).
		Create(meta).Error
	if err != nil {
		return fmt.Errorf("upserting stream metadata: %w", err)
	}
	return nil
}

// GetByStreamID retrieves metadata for a stream.
func (r *streamMetadataRepo) GetByStreamID(ctx context.Context, streamID models.ULID) (*models.StreamMetadata, error) {
	var meta models.StreamMetadata
	if err := r.db.WithContext(ctx).Where("stream_id = ?", streamID).First(&meta).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream metadata: %w", err)
	}
	return &meta, nil
}

// streamEventRepo implements StreamEventRepository using GORM.
type streamEventRepo struct {
	db *gorm.DB
}

var _ StreamEventRepository = (*streamEventRepo)(nil)

// NewStreamEventRepository creates a new StreamEventRepository.
func NewStreamEventRepository(db *gorm.DB) *streamEventRepo {
	return &streamEventRepo{db: db}
}

// Create creates a new stream event.
func (r *streamEventRepo) Create(ctx context.Context, event *models.StreamEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("creating stream event: %w", err)
	}
	return nil
}

// GetByStreamID retrieves all events for a stream in offset order.
func (r *streamEventRepo) GetByStreamID(ctx context.Context, streamID models.ULID) ([]*models.StreamEvent, error) {
	var events []*models.StreamEvent
	err := r.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("offset_seconds ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("getting stream events: %w", err)
	}
	return events, nil
}
