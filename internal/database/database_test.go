package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/models"
)

func testDBConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()
	return config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
	}
}

func TestNew_SQLite(t *testing.T) {
	db, err := New(testDBConfig(t), nil)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "sqlite", db.Driver())
	assert.NoError(t, db.Ping(context.Background()))
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(config.DatabaseConfig{Driver: "oracle", DSN: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestMigrate(t *testing.T) {
	db, err := New(testDBConfig(t), nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())

	for _, table := range []string{
		"channels", "streams", "recordings",
		"stream_metadata", "stream_events", "post_processing_tasks",
	} {
		assert.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}

	// ULID generation happens on insert.
	ch := &models.Channel{Login: "somestreamer", PlatformID: "1234"}
	require.NoError(t, db.Create(ch).Error)
	assert.False(t, ch.ID.IsZero())
}

func TestTransaction_Rollback(t *testing.T) {
	db, err := New(testDBConfig(t), nil)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	sentinel := assert.AnError
	err = db.Transaction(context.Background(), func(tx *gorm.DB) error {
		if err := tx.Create(&models.Channel{Login: "rolled", PlatformID: "99"}).Error; err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	var count int64
	require.NoError(t, db.Model(&models.Channel{}).Count(&count).Error)
	assert.Zero(t, count)
}
