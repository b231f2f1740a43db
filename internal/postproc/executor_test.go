package postproc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/repository"
)

type stubHandler struct {
	calls  atomic.Int32
	result string
	err    error
}

func (s *stubHandler) Execute(context.Context, *models.Task) (string, error) {
	s.calls.Add(1)
	return s.result, s.err
}

func TestExecutor_Success(t *testing.T) {
	db := openTestDB(t)
	tasks := repository.NewTaskRepository(db)

	task := models.NewTask(models.TaskKindTransmux, models.NewULID())
	require.NoError(t, tasks.Create(context.Background(), task))
	task.MarkRunning("worker-test")

	exec := NewExecutor(tasks)
	exec.RegisterHandler(models.TaskKindTransmux, &stubHandler{result: "ok"})

	require.NoError(t, exec.Execute(context.Background(), task))

	got, err := tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.LastError)
}

func TestExecutor_RetryThenFail(t *testing.T) {
	db := openTestDB(t)
	tasks := repository.NewTaskRepository(db)

	task := models.NewTask(models.TaskKindMerge, models.NewULID())
	task.MaxAttempts = 2
	require.NoError(t, tasks.Create(context.Background(), task))

	exec := NewExecutor(tasks)
	handler := &stubHandler{err: errors.New("ffmpeg exploded")}
	exec.RegisterHandler(models.TaskKindMerge, handler)

	// First attempt fails and schedules a retry with backoff.
	task.MarkRunning("worker-test")
	require.NoError(t, exec.Execute(context.Background(), task))

	got, err := tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now()))
	assert.Contains(t, got.LastError, "ffmpeg exploded")

	// Second attempt exhausts the budget.
	got.MarkRunning("worker-test")
	require.NoError(t, exec.Execute(context.Background(), got))

	final, err := tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, final.Status)
	assert.EqualValues(t, 2, handler.calls.Load())
}

func TestExecutor_PermanentFailureCancelsSuccessors(t *testing.T) {
	db := openTestDB(t)
	tasks := repository.NewTaskRepository(db)

	targetID := models.NewULID()
	require.NoError(t, tasks.CreatePipeline(context.Background(), targetID, []models.TaskKind{
		models.TaskKindMerge,
		models.TaskKindTransmux,
		models.TaskKindCleanup,
	}))

	exec := NewExecutor(tasks)
	exec.RegisterHandler(models.TaskKindMerge, &stubHandler{err: errors.New("corrupt segment")})

	task, err := tasks.Acquire(context.Background(), "worker-test")
	require.NoError(t, err)
	require.NotNil(t, task)
	task.Attempts = task.MaxAttempts
	require.NoError(t, exec.Execute(context.Background(), task))

	// The whole pipeline is failed, and stays halted even after the failed
	// rows are cleaned away.
	pipeline, err := tasks.GetByTargetID(context.Background(), targetID)
	require.NoError(t, err)
	require.Len(t, pipeline, 3)
	for _, got := range pipeline {
		assert.Equal(t, models.TaskStatusFailed, got.Status)
	}
	assert.Contains(t, pipeline[1].LastError, "merge stage failed permanently")

	_, err = tasks.DeleteFinished(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	leaked, err := tasks.Acquire(context.Background(), "worker-test")
	require.NoError(t, err)
	assert.Nil(t, leaked)
}

func TestExecutor_UnknownKind(t *testing.T) {
	db := openTestDB(t)
	tasks := repository.NewTaskRepository(db)

	task := models.NewTask(models.TaskKindThumbnail, models.NewULID())
	require.NoError(t, tasks.Create(context.Background(), task))
	task.MarkRunning("worker-test")

	exec := NewExecutor(tasks)
	require.NoError(t, exec.Execute(context.Background(), task))

	got, err := tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Contains(t, got.LastError, "no handler registered")
}

func TestRunner_ProcessesQueue(t *testing.T) {
	db := openTestDB(t)
	tasks := repository.NewTaskRepository(db)

	targetID := models.NewULID()
	require.NoError(t, tasks.CreatePipeline(context.Background(), targetID, []models.TaskKind{
		models.TaskKindTransmux,
		models.TaskKindThumbnail,
	}))

	handler := &stubHandler{result: "ok"}
	exec := NewExecutor(tasks)
	exec.RegisterHandler(models.TaskKindTransmux, handler)
	exec.RegisterHandler(models.TaskKindThumbnail, handler)

	runner := NewRunner(tasks, exec).WithConfig(RunnerConfig{
		WorkerCount:  2,
		PollInterval: 20 * time.Millisecond,
		WorkerID:     "test",
	})
	require.NoError(t, runner.Start(context.Background()))
	defer runner.Stop()

	assert.Eventually(t, func() bool {
		done, err := tasks.GetByStatus(context.Background(), models.TaskStatusDone)
		return err == nil && len(done) == 2
	}, 5*time.Second, 20*time.Millisecond)

	assert.EqualValues(t, 2, handler.calls.Load())
	assert.True(t, runner.GetStatus().Running)
}

func TestRunner_StartTwice(t *testing.T) {
	db := openTestDB(t)
	tasks := repository.NewTaskRepository(db)
	runner := NewRunner(tasks, NewExecutor(tasks)).WithConfig(RunnerConfig{
		WorkerCount:  1,
		PollInterval: 20 * time.Millisecond,
		WorkerID:     "test",
	})

	require.NoError(t, runner.Start(context.Background()))
	assert.Error(t, runner.Start(context.Background()))
	runner.Stop()
	assert.False(t, runner.GetStatus().Running)
}
