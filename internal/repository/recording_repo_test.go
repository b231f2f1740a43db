package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamvault/streamvault/internal/models"
)

func newTestRecording(channelID, streamID models.ULID) *models.Recording {
	return &models.Recording{
		StreamID:   streamID,
		ChannelID:  channelID,
		StartedAt:  models.Now(),
		Status:     models.RecordingStatusRecording,
		OutputPath: "/recordings/test/2026-08-24_test.ts",
	}
}

func TestRecordingRepo_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	ch := createTestChannel(t, db, "rec")
	s := createTestStream(t, db, ch.ID, "psid-rec")

	rec := newTestRecording(ch.ID, s.ID)
	require.NoError(t, repo.Create(ctx, rec))
	assert.False(t, rec.ID.IsZero())
	assert.Equal(t, 1, rec.SegmentCount)
	assert.Equal(t, 1, rec.LastSegmentIndex)

	byStream, err := repo.GetByStreamID(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, byStream)
	assert.Equal(t, rec.ID, byStream.ID)

	active, err := repo.GetActiveByChannel(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, rec.ID, active.ID)
}

func TestRecordingRepo_Create_RejectsSecondActive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	ch := createTestChannel(t, db, "dup")
	s1 := createTestStream(t, db, ch.ID, "psid-1")

	require.NoError(t, repo.Create(ctx, newTestRecording(ch.ID, s1.ID)))

	s2 := &models.Stream{ChannelID: ch.ID, PlatformStreamID: "psid-2", StartedAt: models.Now()}
	require.NoError(t, db.Create(s2).Error)

	err := repo.Create(ctx, newTestRecording(ch.ID, s2.ID))
	assert.ErrorIs(t, err, models.ErrDuplicateActiveRecording)
}

func TestRecordingRepo_Create_AllowsAfterStop(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	ch := createTestChannel(t, db, "restart")
	s1 := createTestStream(t, db, ch.ID, "psid-1")

	first := newTestRecording(ch.ID, s1.ID)
	require.NoError(t, repo.Create(ctx, first))

	first.MarkStopped(models.Now())
	require.NoError(t, repo.Update(ctx, first))

	s2 := &models.Stream{ChannelID: ch.ID, PlatformStreamID: "psid-2", StartedAt: models.Now()}
	require.NoError(t, db.Create(s2).Error)

	require.NoError(t, repo.Create(ctx, newTestRecording(ch.ID, s2.ID)))
}

func TestRecordingRepo_Create_SameStreamAfterRestart(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	ch := createTestChannel(t, db, "crash")
	s := createTestStream(t, db, ch.ID, "psid-crash")

	// A cold restart settles the orphaned recording and then starts a fresh
	// one on the still-open stream. The second row must not collide with the
	// first on stream_id.
	first := newTestRecording(ch.ID, s.ID)
	first.StartedAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, first))
	first.MarkStopped(models.Now())
	require.NoError(t, repo.Update(ctx, first))

	second := newTestRecording(ch.ID, s.ID)
	require.NoError(t, repo.Create(ctx, second))

	byStream, err := repo.GetByStreamID(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, byStream)
	assert.Equal(t, second.ID, byStream.ID)
}

func TestRecordingRepo_GetActive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	chA := createTestChannel(t, db, "activea")
	sA := createTestStream(t, db, chA.ID, "psid-a")
	require.NoError(t, repo.Create(ctx, newTestRecording(chA.ID, sA.ID)))

	chB := createTestChannel(t, db, "activeb")
	sB := createTestStream(t, db, chB.ID, "psid-b")
	stopped := newTestRecording(chB.ID, sB.ID)
	require.NoError(t, repo.Create(ctx, stopped))
	stopped.MarkStopped(models.Now())
	require.NoError(t, repo.Update(ctx, stopped))

	active, err := repo.GetActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, chA.ID, active[0].ChannelID)
}

func TestRecordingRepo_GetByChannel_NewestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	ch := createTestChannel(t, db, "history")
	s1 := createTestStream(t, db, ch.ID, "psid-1")

	older := newTestRecording(ch.ID, s1.ID)
	older.StartedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, repo.Create(ctx, older))
	older.MarkStopped(models.Now())
	require.NoError(t, repo.Update(ctx, older))

	s2 := &models.Stream{ChannelID: ch.ID, PlatformStreamID: "psid-2", StartedAt: models.Now()}
	require.NoError(t, db.Create(s2).Error)
	newer := newTestRecording(ch.ID, s2.ID)
	require.NoError(t, repo.Create(ctx, newer))

	recs, err := repo.GetByChannel(ctx, ch.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, newer.ID, recs[0].ID)
	assert.Equal(t, older.ID, recs[1].ID)
}
