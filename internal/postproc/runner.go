package postproc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streamvault/streamvault/internal/repository"
)

// Runner manages a pool of workers consuming the post-processing queue.
type Runner struct {
	mu sync.RWMutex

	tasks    repository.TaskRepository
	executor *Executor
	logger   *slog.Logger

	workerCount  int
	pollInterval time.Duration
	workerID     string
	taskTimeout  time.Duration
	cleanupAge   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RunnerConfig holds configuration for the runner.
type RunnerConfig struct {
	// WorkerCount is the number of concurrent workers. Default: 2.
	WorkerCount int

	// PollInterval is how often idle workers poll for tasks. Default: 5s.
	PollInterval time.Duration

	// WorkerID identifies this runner instance in task locks.
	WorkerID string

	// TaskTimeout bounds a single task execution. Default: 1 hour.
	TaskTimeout time.Duration

	// CleanupAge is the age after which finished tasks are deleted.
	// Default: 7 days.
	CleanupAge time.Duration
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:  2,
		PollInterval: 5 * time.Second,
		WorkerID:     fmt.Sprintf("worker-%d", time.Now().UnixNano()),
		TaskTimeout:  time.Hour,
		CleanupAge:   7 * 24 * time.Hour,
	}
}

// NewRunner creates a task runner with default configuration.
func NewRunner(tasks repository.TaskRepository, executor *Executor) *Runner {
	cfg := DefaultRunnerConfig()
	return &Runner{
		tasks:        tasks,
		executor:     executor,
		logger:       slog.Default(),
		workerCount:  cfg.WorkerCount,
		pollInterval: cfg.PollInterval,
		workerID:     cfg.WorkerID,
		taskTimeout:  cfg.TaskTimeout,
		cleanupAge:   cfg.CleanupAge,
	}
}

// WithLogger sets a custom logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// WithConfig applies configuration to the runner.
func (r *Runner) WithConfig(cfg RunnerConfig) *Runner {
	if cfg.WorkerCount > 0 {
		r.workerCount = cfg.WorkerCount
	}
	if cfg.PollInterval > 0 {
		r.pollInterval = cfg.PollInterval
	}
	if cfg.WorkerID != "" {
		r.workerID = cfg.WorkerID
	}
	if cfg.TaskTimeout > 0 {
		r.taskTimeout = cfg.TaskTimeout
	}
	if cfg.CleanupAge > 0 {
		r.cleanupAge = cfg.CleanupAge
	}
	return r
}

// Start begins the runner with the configured number of workers.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return fmt.Errorf("runner already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	for i := 0; i < r.workerCount; i++ {
		workerID := fmt.Sprintf("%s-%d", r.workerID, i)
		r.wg.Add(1)
		go r.worker(workerID)
	}

	r.wg.Add(1)
	go r.cleanup()

	r.logger.Info("post-processing runner started",
		slog.Int("workers", r.workerCount),
		slog.Duration("poll_interval", r.pollInterval),
		slog.String("worker_id", r.workerID))
	return nil
}

// Stop stops the runner and waits for in-flight tasks to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.ctx = nil
	r.cancel = nil
	r.mu.Unlock()

	r.logger.Info("post-processing runner stopped")
}

// worker is the main worker loop.
func (r *Runner) worker(workerID string) {
	defer r.wg.Done()

	r.logger.Debug("worker started", slog.String("worker_id", workerID))

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("worker stopping", slog.String("worker_id", workerID))
			return
		default:
			if err := r.processTask(workerID); err != nil {
				if err != errNoTasks {
					r.logger.Error("error processing task",
						slog.String("worker_id", workerID),
						slog.Any("error", err))
				}
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(r.pollInterval):
				}
			}
		}
	}
}

var errNoTasks = fmt.Errorf("no tasks available")

// processTask acquires and executes a single task.
func (r *Runner) processTask(workerID string) error {
	task, err := r.tasks.Acquire(r.ctx, workerID)
	if err != nil {
		return fmt.Errorf("acquiring task: %w", err)
	}
	if task == nil {
		return errNoTasks
	}

	r.logger.Debug("acquired task",
		slog.String("worker_id", workerID),
		slog.String("task_id", task.ID.String()),
		slog.String("kind", string(task.Kind)))

	taskCtx, cancel := context.WithTimeout(r.ctx, r.taskTimeout)
	defer cancel()

	if err := r.executor.Execute(taskCtx, task); err != nil {
		return fmt.Errorf("executing task: %w", err)
	}
	return nil
}

// cleanup periodically removes old finished tasks.
func (r *Runner) cleanup() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-r.cleanupAge)
			deleted, err := r.tasks.DeleteFinished(r.ctx, cutoff)
			if err != nil {
				r.logger.Error("failed to clean up old tasks", slog.Any("error", err))
			} else if deleted > 0 {
				r.logger.Info("cleaned up old tasks", slog.Int64("deleted", deleted))
			}
		}
	}
}

// Status reports the current runner state.
type Status struct {
	Running      bool          `json:"running"`
	WorkerCount  int           `json:"worker_count"`
	WorkerID     string        `json:"worker_id"`
	PollInterval time.Duration `json:"poll_interval"`
}

// GetStatus returns the current runner status.
func (r *Runner) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Status{
		Running:      r.ctx != nil && r.ctx.Err() == nil,
		WorkerCount:  r.workerCount,
		WorkerID:     r.workerID,
		PollInterval: r.pollInterval,
	}
}
