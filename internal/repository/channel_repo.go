package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/streamvault/streamvault/internal/models"
)

// channelRepo implements ChannelRepository using GORM.
type channelRepo struct {
	db *gorm.DB
}

var _ ChannelRepository = (*channelRepo)(nil)

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *gorm.DB) *channelRepo {
	return &channelRepo{db: db}
}

// Create creates a new channel.
func (r *channelRepo) Create(ctx context.Context, channel *models.Channel) error {
	if err := r.db.WithContext(ctx).Create(channel).Error; err != nil {
		return fmt.Errorf("creating channel: %w", err)
	}
	return nil
}

// GetByID retrieves a channel by ID.
func (r *channelRepo) GetByID(ctx context.Context, id models.ULID) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by ID: %w", err)
	}
	return &channel, nil
}

// GetByPlatformID retrieves a channel by its platform ID.
func (r *channelRepo) GetByPlatformID(ctx context.Context, platformID string) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).Where("platform_id = ?", platformID).First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by platform ID: %w", err)
	}
	return &channel, nil
}

// GetByLogin retrieves a channel by login name.
func (r *channelRepo) GetByLogin(ctx context.Context, login string) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).Where("login = ?", login).First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by login: %w", err)
	}
	return &channel, nil
}

// GetAll retrieves all channels ordered by login.
func (r *channelRepo) GetAll(ctx context.Context) ([]*models.Channel, error) {
	var channels []*models.Channel
	if err := r.db.WithContext(ctx).Order("login ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting all channels: %w", err)
	}
	return channels, nil
}

// Update updates an existing channel.
func (r *channelRepo) Update(ctx context.Context, channel *models.Channel) error {
	if err := r.db.WithContext(ctx).Save(channel).Error; err != nil {
		return fmt.Errorf("updating channel: %w", err)
	}
	return nil
}

// UpdateLiveState sets the live flag and last-live timestamp.
func (r *channelRepo) UpdateLiveState(ctx context.Context, id models.ULID, live bool, at time.Time) error {
	updates := map[string]interface{}{"is_live": live}
	if live {
		updates["last_live_at"] = at
	}
	result := r.db.WithContext(ctx).Model(&models.Channel{}).Where("id = ?", id).UpdateColumns(updates)
	if result.Error != nil {
		return fmt.Errorf("updating channel live state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrChannelNotFound
	}
	return nil
}

// Delete deletes a channel by ID.
func (r *channelRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Channel{}).Error; err != nil {
		return fmt.Errorf("deleting channel: %w", err)
	}
	return nil
}
