package handlers

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/streamvault/streamvault/internal/capture"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/dispatcher"
	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/policy"
	"github.com/streamvault/streamvault/internal/repository"
)

// fakeController satisfies dispatcher.RecordingController without spawning
// a capture subprocess.
type fakeController struct {
	recording map[models.ULID]bool
	starts    int
}

func newFakeController() *fakeController {
	return &fakeController{recording: make(map[models.ULID]bool)}
}

func (f *fakeController) IsRecording(channelID models.ULID) bool {
	return f.recording[channelID]
}

func (f *fakeController) Start(_ context.Context, channel *models.Channel, stream *models.Stream) (*models.Recording, error) {
	if f.recording[channel.ID] {
		return nil, models.ErrDuplicateActiveRecording
	}
	f.recording[channel.ID] = true
	f.starts++
	return &models.Recording{
		BaseModel: models.BaseModel{ID: models.NewULID()},
		StreamID:  stream.ID,
		ChannelID: channel.ID,
	}, nil
}

func (f *fakeController) Stop(_ context.Context, channelID models.ULID) error {
	if !f.recording[channelID] {
		return models.ErrRecordingNotFound
	}
	delete(f.recording, channelID)
	return nil
}

// fakeStatsProvider serves canned process stats per recording.
type fakeStatsProvider struct {
	stats map[models.ULID]*capture.Stats
}

func (f *fakeStatsProvider) ProcessStats(recordingID models.ULID) (*capture.Stats, error) {
	if s, ok := f.stats[recordingID]; ok {
		return s, nil
	}
	return nil, models.ErrRecordingNotFound
}

// fakeStopper marks the channel's active recording stopped, mimicking the
// recorder's stop path.
type fakeStopper struct {
	recordings repository.RecordingRepository
	stops      int
}

func (f *fakeStopper) Stop(ctx context.Context, channelID models.ULID) error {
	rec, err := f.recordings.GetActiveByChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if rec == nil {
		return models.ErrRecordingNotFound
	}
	rec.MarkStopped(models.Now())
	f.stops++
	return f.recordings.Update(ctx, rec)
}

type handlerFixture struct {
	db         *gorm.DB
	channels   repository.ChannelRepository
	streams    repository.StreamRepository
	recordings repository.RecordingRepository
	tasks      repository.TaskRepository
	dispatcher *dispatcher.Dispatcher
	controller *fakeController
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Channel{},
		&models.Stream{},
		&models.StreamEvent{},
		&models.Recording{},
		&models.Task{},
	))

	channels := repository.NewChannelRepository(db)
	streams := repository.NewStreamRepository(db)
	events := repository.NewStreamEventRepository(db)
	controller := newFakeController()
	resolver := policy.NewResolver(config.RecorderConfig{Quality: "best"}, config.PlatformConfig{})

	return &handlerFixture{
		db:         db,
		channels:   channels,
		streams:    streams,
		recordings: repository.NewRecordingRepository(db),
		tasks:      repository.NewTaskRepository(db),
		dispatcher: dispatcher.New(controller, channels, streams, events, resolver, nil),
		controller: controller,
	}
}

func (f *handlerFixture) createChannel(t *testing.T, login string) *models.Channel {
	t.Helper()

	ch := &models.Channel{
		Login:      login,
		PlatformID: "pid-" + login,
		AutoRecord: models.BoolPtr(true),
	}
	require.NoError(t, f.db.Create(ch).Error)
	return ch
}

func (f *handlerFixture) openStream(t *testing.T, ch *models.Channel) *models.Stream {
	t.Helper()

	st := &models.Stream{
		ChannelID:        ch.ID,
		PlatformStreamID: "ps-" + ch.Login,
		StartedAt:        models.Now(),
	}
	require.NoError(t, f.db.Create(st).Error)
	return st
}

func (f *handlerFixture) activeRecording(t *testing.T, ch *models.Channel, st *models.Stream) *models.Recording {
	t.Helper()

	rec := &models.Recording{
		StreamID:   st.ID,
		ChannelID:  ch.ID,
		StartedAt:  st.StartedAt,
		Status:     models.RecordingStatusRecording,
		OutputPath: "/tmp/" + ch.Login + ".ts",
	}
	require.NoError(t, f.db.Create(rec).Error)
	return rec
}

func TestHealthHandler_GetHealth(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewHealthHandler("1.0.0").WithDB(f.db)

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)

	assert.Equal(t, "healthy", output.Body.Status)
	assert.Equal(t, "1.0.0", output.Body.Version)
	assert.Equal(t, "ok", output.Body.Checks["database"])
	assert.NotEmpty(t, output.Body.Uptime)
}

func TestHealthHandler_NoDatabase(t *testing.T) {
	handler := NewHealthHandler("1.0.0")

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "not configured", output.Body.Checks["database"])
}

func TestChannelHandler_CreateAndGet(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewChannelHandler(f.channels, f.dispatcher)

	create := &CreateChannelInput{}
	create.Body.PlatformID = "12345"
	create.Body.Login = "somestreamer"
	create.Body.DisplayName = "SomeStreamer"

	created, err := handler.CreateChannel(context.Background(), create)
	require.NoError(t, err)
	assert.Equal(t, 201, created.Status)
	assert.True(t, created.Body.Data.AutoRecord)

	got, err := handler.GetChannel(context.Background(), &GetChannelInput{ID: created.Body.Data.ID})
	require.NoError(t, err)
	assert.Equal(t, "somestreamer", got.Body.Data.Login)
	assert.Equal(t, "12345", got.Body.Data.PlatformID)
}

func TestChannelHandler_CreateDuplicate(t *testing.T) {
	f := newHandlerFixture(t)
	f.createChannel(t, "somestreamer")
	handler := NewChannelHandler(f.channels, f.dispatcher)

	create := &CreateChannelInput{}
	create.Body.PlatformID = "pid-somestreamer"
	create.Body.Login = "other"

	_, err := handler.CreateChannel(context.Background(), create)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestChannelHandler_Update(t *testing.T) {
	f := newHandlerFixture(t)
	ch := f.createChannel(t, "somestreamer")
	handler := NewChannelHandler(f.channels, f.dispatcher)

	quality := "720p60,best"
	autoRecord := false
	update := &UpdateChannelInput{ID: ch.ID.String()}
	update.Body.Quality = &quality
	update.Body.AutoRecord = &autoRecord

	got, err := handler.UpdateChannel(context.Background(), update)
	require.NoError(t, err)
	assert.Equal(t, "720p60,best", got.Body.Data.Quality)
	assert.False(t, got.Body.Data.AutoRecord)

	// Omitted fields are unchanged.
	assert.Equal(t, "somestreamer", got.Body.Data.Login)
}

func TestChannelHandler_List(t *testing.T) {
	f := newHandlerFixture(t)
	f.createChannel(t, "alpha")
	f.createChannel(t, "beta")
	handler := NewChannelHandler(f.channels, f.dispatcher)

	got, err := handler.ListChannels(context.Background(), &ListChannelsInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Body.Count)
}

func TestChannelHandler_Delete(t *testing.T) {
	f := newHandlerFixture(t)
	ch := f.createChannel(t, "somestreamer")
	handler := NewChannelHandler(f.channels, f.dispatcher)

	_, err := handler.DeleteChannel(context.Background(), &DeleteChannelInput{ID: ch.ID.String()})
	require.NoError(t, err)

	_, err = handler.GetChannel(context.Background(), &GetChannelInput{ID: ch.ID.String()})
	require.Error(t, err)
}

func TestChannelHandler_ForceStart(t *testing.T) {
	f := newHandlerFixture(t)
	ch := f.createChannel(t, "somestreamer")
	f.openStream(t, ch)
	handler := NewChannelHandler(f.channels, f.dispatcher)

	got, err := handler.ForceStart(context.Background(), &ForceStartInput{ID: ch.ID.String()})
	require.NoError(t, err)
	assert.True(t, got.Body.Success)
	assert.Equal(t, 1, f.controller.starts)
}

func TestChannelHandler_ForceStartNoOpenStream(t *testing.T) {
	f := newHandlerFixture(t)
	ch := f.createChannel(t, "somestreamer")
	handler := NewChannelHandler(f.channels, f.dispatcher)

	_, err := handler.ForceStart(context.Background(), &ForceStartInput{ID: ch.ID.String()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no open stream")
}

func TestChannelHandler_InvalidID(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewChannelHandler(f.channels, f.dispatcher)

	_, err := handler.GetChannel(context.Background(), &GetChannelInput{ID: "not-a-ulid"})
	require.Error(t, err)
}

func TestEventHandler_IngestOnline(t *testing.T) {
	f := newHandlerFixture(t)
	ch := f.createChannel(t, "somestreamer")
	handler := NewEventHandler(f.dispatcher, f.channels)

	input := &IngestEventInput{}
	input.Body.Type = "online"
	input.Body.Login = "somestreamer"
	input.Body.PlatformStreamID = "ps-1"
	input.Body.Title = "first broadcast"

	got, err := handler.IngestEvent(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, got.Body.Success)
	assert.Equal(t, ch.ID.String(), got.Body.ChannelID)

	stream, err := f.streams.GetOpenByChannel(context.Background(), ch.ID)
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.Equal(t, "first broadcast", stream.Title)
	assert.Equal(t, 1, f.controller.starts)
}

func TestEventHandler_ResolvesByPlatformID(t *testing.T) {
	f := newHandlerFixture(t)
	ch := f.createChannel(t, "somestreamer")
	handler := NewEventHandler(f.dispatcher, f.channels)

	input := &IngestEventInput{}
	input.Body.Type = "online"
	input.Body.PlatformID = ch.PlatformID
	input.Body.PlatformStreamID = "ps-1"

	got, err := handler.IngestEvent(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, ch.ID.String(), got.Body.ChannelID)
}

func TestEventHandler_UnknownChannel(t *testing.T) {
	f := newHandlerFixture(t)
	handler := NewEventHandler(f.dispatcher, f.channels)

	input := &IngestEventInput{}
	input.Body.Type = "online"
	input.Body.Login = "nobody"

	_, err := handler.IngestEvent(context.Background(), input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestEventHandler_InvalidTimestamp(t *testing.T) {
	f := newHandlerFixture(t)
	f.createChannel(t, "somestreamer")
	handler := NewEventHandler(f.dispatcher, f.channels)

	input := &IngestEventInput{}
	input.Body.Type = "online"
	input.Body.Login = "somestreamer"
	input.Body.Timestamp = "yesterday"

	_, err := handler.IngestEvent(context.Background(), input)
	require.Error(t, err)
}

func TestRecordingHandler_ListByChannelAndStatus(t *testing.T) {
	f := newHandlerFixture(t)
	ch := f.createChannel(t, "somestreamer")
	st := f.openStream(t, ch)
	f.activeRecording(t, ch, st)

	other := f.createChannel(t, "otherstreamer")
	otherStream := f.openStream(t, other)
	rec := f.activeRecording(t, other, otherStream)
	rec.MarkStopped(models.Now())
	require.NoError(t, f.recordings.Update(context.Background(), rec))

	handler := NewRecordingHandler(f.recordings, &fakeStopper{recordings: f.recordings})

	all, err := handler.ListRecordings(context.Background(), &ListRecordingsInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Body.Count)

	byChannel, err := handler.ListRecordings(context.Background(),
		&ListRecordingsInput{ChannelID: ch.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, 1, byChannel.Body.Count)

	stopped, err := handler.ListRecordings(context.Background(),
		&ListRecordingsInput{Status: "stopped"})
	require.NoError(t, err)
	assert.Equal(t, 1, stopped.Body.Count)
	assert.Equal(t, rec.ID.String(), stopped.Body.Items[0].ID)
}

func TestRecordingHandler_Stop(t *testing.T) {
	f := newHandlerFixture(t)
	ch := f.createChannel(t, "somestreamer")
	st := f.openStream(t, ch)
	rec := f.activeRecording(t, ch, st)

	stopper := &fakeStopper{recordings: f.recordings}
	handler := NewRecordingHandler(f.recordings, stopper)

	got, err := handler.StopRecording(context.Background(), &StopRecordingInput{ID: rec.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, string(models.RecordingStatusStopped), got.Body.Data.Status)
	assert.Equal(t, 1, stopper.stops)
}

func TestRecordingHandler_GetIncludesProcessStats(t *testing.T) {
	f := newHandlerFixture(t)
	ch := f.createChannel(t, "somestreamer")
	st := f.openStream(t, ch)
	rec := f.activeRecording(t, ch, st)

	stats := &fakeStatsProvider{stats: map[models.ULID]*capture.Stats{
		rec.ID: {PID: 4242, CPUPercent: 12.5, MemoryRSSBytes: 64 << 20},
	}}
	handler := NewRecordingHandler(f.recordings, &fakeStopper{recordings: f.recordings}).
		WithStats(stats)

	got, err := handler.GetRecording(context.Background(), &GetRecordingInput{ID: rec.ID.String()})
	require.NoError(t, err)
	require.NotNil(t, got.Body.Data.Process)
	assert.Equal(t, int32(4242), got.Body.Data.Process.PID)
	assert.Equal(t, 12.5, got.Body.Data.Process.CPUPercent)

	// Finished recordings carry no process block.
	rec.MarkStopped(models.Now())
	require.NoError(t, f.recordings.Update(context.Background(), rec))

	got, err = handler.GetRecording(context.Background(), &GetRecordingInput{ID: rec.ID.String()})
	require.NoError(t, err)
	assert.Nil(t, got.Body.Data.Process)
}

func TestRecordingHandler_StopNotActive(t *testing.T) {
	f := newHandlerFixture(t)
	ch := f.createChannel(t, "somestreamer")
	st := f.openStream(t, ch)
	rec := f.activeRecording(t, ch, st)
	rec.MarkStopped(models.Now())
	require.NoError(t, f.recordings.Update(context.Background(), rec))

	handler := NewRecordingHandler(f.recordings, &fakeStopper{recordings: f.recordings})

	_, err := handler.StopRecording(context.Background(), &StopRecordingInput{ID: rec.ID.String()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in progress")
}

func TestTaskHandler_ListByTarget(t *testing.T) {
	f := newHandlerFixture(t)
	targetID := models.NewULID()
	require.NoError(t, f.tasks.CreatePipeline(context.Background(), targetID, []models.TaskKind{
		models.TaskKindTransmux,
		models.TaskKindThumbnail,
	}))

	handler := NewTaskHandler(f.tasks, nil)

	got, err := handler.ListTasks(context.Background(), &ListTasksInput{TargetID: targetID.String()})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Body.Count)
	assert.Equal(t, string(models.TaskKindTransmux), got.Body.Items[0].Kind)

	pending, err := handler.ListTasks(context.Background(), &ListTasksInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, pending.Body.Count)

	status, err := handler.GetWorkerStatus(context.Background(), &GetWorkerStatusInput{})
	require.NoError(t, err)
	assert.False(t, status.Body.Data.Running)
}
