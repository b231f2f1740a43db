package postproc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/policy"
	"github.com/streamvault/streamvault/internal/repository"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Channel{},
		&models.Stream{},
		&models.Recording{},
		&models.StreamMetadata{},
		&models.StreamEvent{},
		&models.Task{},
	))
	return db
}

func completedRecording(t *testing.T, db *gorm.DB, dir string, ch *models.Channel, name string, endedAgo time.Duration, size int64) *models.Recording {
	t.Helper()

	st := &models.Stream{
		ChannelID:        ch.ID,
		PlatformStreamID: "ps-" + name,
		StartedAt:        models.Now().Add(-endedAgo - time.Hour),
	}
	require.NoError(t, db.Create(st).Error)

	path := filepath.Join(dir, name+".mp4")
	require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))

	ended := models.Now().Add(-endedAgo)
	rec := &models.Recording{
		StreamID:   st.ID,
		ChannelID:  ch.ID,
		StartedAt:  st.StartedAt,
		EndedAt:    &ended,
		Status:     models.RecordingStatusCompleted,
		OutputPath: path,
		SizeBytes:  size,
	}
	require.NoError(t, db.Create(rec).Error)

	// Backdate started_at so list ordering matches age.
	require.NoError(t, db.Model(rec).UpdateColumn("started_at", st.StartedAt).Error)
	return rec
}

func TestSelectDoomed_ByCount(t *testing.T) {
	pol := policy.CleanupPolicy{Strategy: models.CleanupByCount, MaxCount: 2}
	recs := []*models.Recording{
		{BaseModel: models.BaseModel{ID: models.NewULID()}},
		{BaseModel: models.BaseModel{ID: models.NewULID()}},
		{BaseModel: models.BaseModel{ID: models.NewULID()}},
		{BaseModel: models.BaseModel{ID: models.NewULID()}},
	}

	doomed := selectDoomed(recs, pol, time.Now())
	require.Len(t, doomed, 2)
	assert.Equal(t, recs[0].ID, doomed[0].ID)
	assert.Equal(t, recs[1].ID, doomed[1].ID)
}

func TestSelectDoomed_BySize(t *testing.T) {
	pol := policy.CleanupPolicy{Strategy: models.CleanupBySize, MaxBytes: 150}
	recs := []*models.Recording{
		{BaseModel: models.BaseModel{ID: models.NewULID()}, SizeBytes: 100},
		{BaseModel: models.BaseModel{ID: models.NewULID()}, SizeBytes: 100},
		{BaseModel: models.BaseModel{ID: models.NewULID()}, SizeBytes: 100},
	}

	// 300 bytes total; dropping the two oldest gets under the limit.
	doomed := selectDoomed(recs, pol, time.Now())
	require.Len(t, doomed, 2)
	assert.Equal(t, recs[0].ID, doomed[0].ID)
}

func TestSelectDoomed_ByAge(t *testing.T) {
	now := time.Now()
	old := now.Add(-48 * time.Hour)
	fresh := now.Add(-time.Hour)
	pol := policy.CleanupPolicy{Strategy: models.CleanupByAge, MaxAge: 24 * time.Hour}
	recs := []*models.Recording{
		{BaseModel: models.BaseModel{ID: models.NewULID()}, EndedAt: &old},
		{BaseModel: models.BaseModel{ID: models.NewULID()}, EndedAt: &fresh},
	}

	doomed := selectDoomed(recs, pol, now)
	require.Len(t, doomed, 1)
	assert.Equal(t, recs[0].ID, doomed[0].ID)
}

func TestSelectDoomed_Composite(t *testing.T) {
	now := time.Now()
	old := now.Add(-48 * time.Hour)
	fresh := now.Add(-time.Hour)
	pol := policy.CleanupPolicy{
		Strategy: models.CleanupComposite,
		MaxCount: 10,
		MaxBytes: 1000,
		MaxAge:   24 * time.Hour,
	}
	recs := []*models.Recording{
		{BaseModel: models.BaseModel{ID: models.NewULID()}, EndedAt: &old, SizeBytes: 10},
		{BaseModel: models.BaseModel{ID: models.NewULID()}, EndedAt: &fresh, SizeBytes: 10},
	}

	// Only the age limit bites here.
	doomed := selectDoomed(recs, pol, now)
	require.Len(t, doomed, 1)
	assert.Equal(t, recs[0].ID, doomed[0].ID)
}

func TestCleanupHandler_CountStrategy(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	ch := &models.Channel{
		Login:           "somestreamer",
		PlatformID:      "pid-1",
		CleanupStrategy: models.CleanupByCount,
		CleanupMaxCount: 1,
	}
	require.NoError(t, db.Create(ch).Error)

	oldest := completedRecording(t, db, dir, ch, "oldest", 72*time.Hour, 100)
	middle := completedRecording(t, db, dir, ch, "middle", 48*time.Hour, 100)
	newest := completedRecording(t, db, dir, ch, "newest", time.Hour, 100)

	recordings := repository.NewRecordingRepository(db)
	handler := NewCleanupHandler(
		recordings,
		repository.NewStreamRepository(db),
		repository.NewChannelRepository(db),
		policy.NewResolver(config.RecorderConfig{}, config.PlatformConfig{}),
	)

	result, err := handler.Execute(context.Background(), models.NewTask(models.TaskKindCleanup, newest.ID))
	require.NoError(t, err)
	assert.Contains(t, result, "deleted 2")

	for _, gone := range []*models.Recording{oldest, middle} {
		got, err := recordings.GetByID(context.Background(), gone.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.NoFileExists(t, gone.OutputPath)
	}

	kept, err := recordings.GetByID(context.Background(), newest.ID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.FileExists(t, kept.OutputPath)
}

func TestCleanupHandler_FavoritePreserved(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	ch := &models.Channel{
		Login:           "somestreamer",
		PlatformID:      "pid-1",
		Favorite:        true,
		CleanupStrategy: models.CleanupByCount,
		CleanupMaxCount: 0,
	}
	require.NoError(t, db.Create(ch).Error)
	rec := completedRecording(t, db, dir, ch, "only", time.Hour, 100)

	recordings := repository.NewRecordingRepository(db)
	handler := NewCleanupHandler(
		recordings,
		repository.NewStreamRepository(db),
		repository.NewChannelRepository(db),
		policy.NewResolver(config.RecorderConfig{}, config.PlatformConfig{}),
	)

	result, err := handler.Execute(context.Background(), models.NewTask(models.TaskKindCleanup, rec.ID))
	require.NoError(t, err)
	assert.Contains(t, result, "favorite")
	assert.FileExists(t, rec.OutputPath)
}

func TestCleanupHandler_PreservedCategory(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	ch := &models.Channel{
		Login:              "somestreamer",
		PlatformID:         "pid-1",
		CleanupStrategy:    models.CleanupByCount,
		CleanupMaxCount:    0,
		PreserveCategories: "Music",
	}
	require.NoError(t, db.Create(ch).Error)
	rec := completedRecording(t, db, dir, ch, "concert", 48*time.Hour, 100)

	streams := repository.NewStreamRepository(db)
	require.NoError(t, db.Model(&models.Stream{}).
		Where("id = ?", rec.StreamID).
		UpdateColumn("category", "Music").Error)

	recordings := repository.NewRecordingRepository(db)
	handler := NewCleanupHandler(
		recordings,
		streams,
		repository.NewChannelRepository(db),
		policy.NewResolver(config.RecorderConfig{}, config.PlatformConfig{}),
	)

	_, err := handler.Execute(context.Background(), models.NewTask(models.TaskKindCleanup, rec.ID))
	require.NoError(t, err)

	kept, err := recordings.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)
	assert.FileExists(t, rec.OutputPath)
}

func TestCleanupHandler_Disabled(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	ch := &models.Channel{Login: "somestreamer", PlatformID: "pid-1"}
	require.NoError(t, db.Create(ch).Error)
	rec := completedRecording(t, db, dir, ch, "only", time.Hour, 100)

	handler := NewCleanupHandler(
		repository.NewRecordingRepository(db),
		repository.NewStreamRepository(db),
		repository.NewChannelRepository(db),
		policy.NewResolver(config.RecorderConfig{}, config.PlatformConfig{}),
	)

	result, err := handler.Execute(context.Background(), models.NewTask(models.TaskKindCleanup, rec.ID))
	require.NoError(t, err)
	assert.Equal(t, "cleanup disabled", result)
}
