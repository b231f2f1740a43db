// Package postproc runs the durable post-processing pipeline: a worker pool
// consuming tasks from the queue and per-kind handlers that merge segments,
// transmux to MP4, embed metadata and chapters, extract thumbnails, and
// enforce retention.
package postproc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/repository"
)

// TaskHandler executes one kind of post-processing task.
type TaskHandler interface {
	// Execute runs the task and returns a short result description or an
	// error. Errors are absorbed by the executor as retry or failure.
	Execute(ctx context.Context, task *models.Task) (string, error)
}

// Executor dispatches tasks to the handler registered for their kind and
// persists the outcome, scheduling retries with backoff while the attempt
// budget lasts.
type Executor struct {
	handlers map[models.TaskKind]TaskHandler
	tasks    repository.TaskRepository
	logger   *slog.Logger
}

// NewExecutor creates a task executor.
func NewExecutor(tasks repository.TaskRepository) *Executor {
	return &Executor{
		handlers: make(map[models.TaskKind]TaskHandler),
		tasks:    tasks,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// RegisterHandler registers a handler for a task kind.
func (e *Executor) RegisterHandler(kind models.TaskKind, handler TaskHandler) {
	e.handlers[kind] = handler
}

// Execute runs a claimed task and updates its status.
func (e *Executor) Execute(ctx context.Context, task *models.Task) error {
	handler, ok := e.handlers[task.Kind]
	if !ok {
		task.MarkFailed(fmt.Errorf("no handler registered for task kind %q", task.Kind))
		if err := e.tasks.Update(ctx, task); err != nil {
			return fmt.Errorf("updating task status: %w", err)
		}
		e.cancelSuccessors(ctx, task)
		return nil
	}

	e.logger.Info("executing task",
		slog.String("task_id", task.ID.String()),
		slog.String("kind", string(task.Kind)),
		slog.String("target_id", task.TargetID.String()))

	result, err := handler.Execute(ctx, task)
	if err != nil {
		e.logger.Error("task failed",
			slog.String("task_id", task.ID.String()),
			slog.String("kind", string(task.Kind)),
			slog.Any("error", err))

		if task.CanRetry() {
			task.ScheduleRetry(err)
			e.logger.Info("task scheduled for retry",
				slog.String("task_id", task.ID.String()),
				slog.Int("attempt", task.Attempts),
				slog.Time("next_run", task.NextRunAt.UTC()))
		} else {
			task.MarkFailed(err)
		}
	} else {
		e.logger.Info("task completed",
			slog.String("task_id", task.ID.String()),
			slog.String("kind", string(task.Kind)),
			slog.String("result", result))
		task.MarkDone()
	}

	if err := e.tasks.Update(ctx, task); err != nil {
		e.logger.Error("failed to update task status",
			slog.String("task_id", task.ID.String()),
			slog.Any("error", err))
		return fmt.Errorf("updating task status: %w", err)
	}
	if task.Status == models.TaskStatusFailed {
		e.cancelSuccessors(ctx, task)
	}
	return nil
}

// cancelSuccessors fails the rest of the pipeline once a stage has failed
// permanently. Successors must not become runnable later, even after the
// failed row itself is cleaned up.
func (e *Executor) cancelSuccessors(ctx context.Context, task *models.Task) {
	cause := fmt.Sprintf("canceled: %s stage failed permanently", task.Kind)
	canceled, err := e.tasks.FailSuccessors(ctx, task.TargetID, task.SortOrder, cause)
	if err != nil {
		e.logger.Error("failed to cancel successor tasks",
			slog.String("task_id", task.ID.String()),
			slog.String("target_id", task.TargetID.String()),
			slog.Any("error", err))
		return
	}
	if canceled > 0 {
		e.logger.Info("canceled successor tasks",
			slog.String("target_id", task.TargetID.String()),
			slog.String("kind", string(task.Kind)),
			slog.Int64("count", canceled))
	}
}
