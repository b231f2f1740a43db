package repository

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/streamvault/streamvault/internal/models"
)

// setupTestDB opens an in-memory SQLite database with the full schema.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Channel{},
		&models.Stream{},
		&models.Recording{},
		&models.StreamMetadata{},
		&models.StreamEvent{},
		&models.Task{},
	)
	require.NoError(t, err)

	return db
}

// createTestChannel inserts a channel with sane defaults.
func createTestChannel(t *testing.T, db *gorm.DB, login string) *models.Channel {
	t.Helper()

	ch := &models.Channel{
		Login:      login,
		PlatformID: "pid-" + login,
	}
	require.NoError(t, db.Create(ch).Error)
	return ch
}

// createTestStream inserts an open stream for the channel.
func createTestStream(t *testing.T, db *gorm.DB, channelID models.ULID, psid string) *models.Stream {
	t.Helper()

	s := &models.Stream{
		ChannelID:        channelID,
		PlatformStreamID: psid,
		StartedAt:        models.Now(),
		Title:            "test broadcast",
	}
	require.NoError(t, db.Create(s).Error)
	return s
}
