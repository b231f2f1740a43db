package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/streamvault/streamvault/internal/models"
)

// taskRepo implements TaskRepository using GORM.
type taskRepo struct {
	db *gorm.DB

	maxAttempts int
	retryBase   time.Duration
}

var _ TaskRepository = (*taskRepo)(nil)

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *gorm.DB) *taskRepo {
	return &taskRepo{db: db}
}

// WithRetryPolicy sets the retry budget and base backoff applied to newly
// created tasks. Zero values leave the model defaults in place.
func (r *taskRepo) WithRetryPolicy(maxAttempts int, retryBase time.Duration) *taskRepo {
	r.maxAttempts = maxAttempts
	r.retryBase = retryBase
	return r
}

func (r *taskRepo) applyRetryPolicy(task *models.Task) {
	if r.maxAttempts > 0 {
		task.MaxAttempts = r.maxAttempts
	}
	if r.retryBase > 0 {
		task.BackoffSeconds = int(r.retryBase.Seconds())
	}
}

// Create creates a new task.
func (r *taskRepo) Create(ctx context.Context, task *models.Task) error {
	r.applyRetryPolicy(task)
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// CreatePipeline creates a full ordered pipeline for a target in one
// transaction, so a crash cannot leave a partial pipeline behind.
func (r *taskRepo) CreatePipeline(ctx context.Context, targetID models.ULID, kinds []models.TaskKind) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, kind := range kinds {
			task := models.NewTask(kind, targetID)
			r.applyRetryPolicy(task)
			if err := tx.Create(task).Error; err != nil {
				return fmt.Errorf("creating %s task: %w", kind, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	return nil
}

// GetByID retrieves a task by ID.
func (r *taskRepo) GetByID(ctx context.Context, id models.ULID) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting task by ID: %w", err)
	}
	return &task, nil
}

// GetByTargetID retrieves all tasks for a target in pipeline order.
func (r *taskRepo) GetByTargetID(ctx context.Context, targetID models.ULID) ([]*models.Task, error) {
	var tasks []*models.Task
	err := r.db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("sort_order ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("getting tasks by target ID: %w", err)
	}
	return tasks, nil
}

// GetByStatus retrieves tasks by status.
func (r *taskRepo) GetByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	var tasks []*models.Task
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("priority DESC, created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("getting tasks by status: %w", err)
	}
	return tasks, nil
}

// Acquire atomically claims the next runnable task for a worker.
//
// Runnable means: pending, due (next_run_at null or passed), unlocked, every
// earlier stage for the same target already done, and no task for the same
// target currently running. The per-target conditions give strict pipeline
// ordering, halt-on-failure (a failed predecessor is never done, so
// successors stay blocked), and per-target serialization across workers.
func (r *taskRepo) Acquire(ctx context.Context, workerID string) (*models.Task, error) {
	var task models.Task
	now := time.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", models.TaskStatusPending).
			Where("next_run_at IS NULL OR next_run_at <= ?", now).
			Where("locked_by IS NULL OR locked_by = ''").
			Where(`NOT EXISTS (
				SELECT 1 FROM post_processing_tasks prev
				WHERE prev.target_id = post_processing_tasks.target_id
				  AND prev.sort_order < post_processing_tasks.sort_order
				  AND prev.status <> ?)`, models.TaskStatusDone).
			Where(`NOT EXISTS (
				SELECT 1 FROM post_processing_tasks running
				WHERE running.target_id = post_processing_tasks.target_id
				  AND running.status = ?)`, models.TaskStatusRunning).
			Order("priority DESC, created_at ASC, sort_order ASC").
			Limit(1)

		if err := query.First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			return fmt.Errorf("finding runnable task: %w", err)
		}

		task.MarkRunning(workerID)
		if err := tx.Save(&task).Error; err != nil {
			return fmt.Errorf("claiming task: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// Release returns a claimed task to pending without counting an attempt.
func (r *taskRepo) Release(ctx context.Context, id models.ULID) error {
	result := r.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"status":    models.TaskStatusPending,
			"locked_by": nil,
			"locked_at": nil,
			"attempts":  gorm.Expr("CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END"),
		})
	if result.Error != nil {
		return fmt.Errorf("releasing task: %w", result.Error)
	}
	return nil
}

// Update updates an existing task.
func (r *taskRepo) Update(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return nil
}

// FailSuccessors cancels a target's pending tasks downstream of a permanently
// failed stage. Acquire already refuses successors while the failed row
// exists, but that guard dies with the row when cleanup deletes it; marking
// the successors failed makes the halt durable.
func (r *taskRepo) FailSuccessors(ctx context.Context, targetID models.ULID, afterSortOrder int, cause string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("target_id = ? AND sort_order > ? AND status = ?",
			targetID, afterSortOrder, models.TaskStatusPending).
		UpdateColumns(map[string]interface{}{
			"status":       models.TaskStatusFailed,
			"last_error":   cause,
			"completed_at": models.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failing successor tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ResetRunning reverts all running tasks to pending. Used by startup
// reconciliation after a crash; the interrupted attempt stays counted.
func (r *taskRepo) ResetRunning(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("status = ?", models.TaskStatusRunning).
		UpdateColumns(map[string]interface{}{
			"status":    models.TaskStatusPending,
			"locked_by": nil,
			"locked_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("resetting running tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteFinished deletes done and failed tasks older than the given time.
func (r *taskRepo) DeleteFinished(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN (?, ?) AND completed_at < ?",
			models.TaskStatusDone, models.TaskStatusFailed, before).
		Delete(&models.Task{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting finished tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}
