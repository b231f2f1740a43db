package models

import (
	"time"

	"gorm.io/gorm"
)

// TaskKind represents the kind of post-processing work to execute.
type TaskKind string

const (
	// TaskKindMerge concatenates rotated segments into one .ts file.
	TaskKindMerge TaskKind = "merge"
	// TaskKindTransmux stream-copies the capture .ts into an .mp4 container.
	TaskKindTransmux TaskKind = "transmux"
	// TaskKindMetadataEmbed writes title/artist/date/genre tags into the MP4.
	TaskKindMetadataEmbed TaskKind = "metadata_embed"
	// TaskKindThumbnail extracts a frame into a JPEG sidecar.
	TaskKindThumbnail TaskKind = "thumbnail"
	// TaskKindChaptersEmbed generates the WEBVTT chapters sidecar and embeds
	// chapter entries in the container.
	TaskKindChaptersEmbed TaskKind = "chapters_embed"
	// TaskKindCleanup enforces the channel's recording retention policy.
	TaskKindCleanup TaskKind = "cleanup"
)

// taskKindOrder fixes the strict execution order of kinds per target.
var taskKindOrder = map[TaskKind]int{
	TaskKindMerge:         1,
	TaskKindTransmux:      2,
	TaskKindMetadataEmbed: 3,
	TaskKindThumbnail:     4,
	TaskKindChaptersEmbed: 5,
	TaskKindCleanup:       6,
}

// KindOrder returns the pipeline position of a task kind (lower runs first).
// Unknown kinds sort last.
func KindOrder(kind TaskKind) int {
	if o, ok := taskKindOrder[kind]; ok {
		return o
	}
	return 99
}

// TaskStatus represents the current status of a post-processing task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting to be executed.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task is currently executing.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusFailed indicates the task failed after exhausting retries.
	TaskStatusFailed TaskStatus = "failed"
)

// Task priorities. Higher values are picked first.
const (
	// TaskPriorityHigh is used for operator-initiated work.
	TaskPriorityHigh = 10
	// TaskPriorityNormal is the default for pipeline tasks.
	TaskPriorityNormal = 5
	// TaskPriorityLow is used for background cleanup.
	TaskPriorityLow = 1
)

// Task represents a durable unit of deferred post-processing work.
//
// Tasks for the same target execute strictly in kind order; a failed
// predecessor halts the rest of that target's pipeline. Status transitions
// are monotonic (pending -> running -> done|failed); running reverts to
// pending only during startup reconciliation.
type Task struct {
	BaseModel

	// Kind indicates what work this task performs.
	Kind TaskKind `gorm:"not null;size:32;index" json:"kind"`

	// TargetID is the recording (or stream) this task operates on. Tasks
	// sharing a target are serialized.
	TargetID ULID `gorm:"not null;type:varchar(26);index" json:"target_id"`

	// SortOrder is the pipeline position within the target, derived from Kind.
	SortOrder int `gorm:"not null;default:0;index" json:"sort_order"`

	// Status indicates the current status of the task.
	Status TaskStatus `gorm:"not null;default:'pending';size:16;index" json:"status"`

	// Priority determines pick order across targets (higher first).
	Priority int `gorm:"default:5;index" json:"priority"`

	// Attempts is the number of times this task has been started.
	Attempts int `gorm:"default:0" json:"attempts"`

	// MaxAttempts is the retry budget (attempts beyond this fail the task).
	MaxAttempts int `gorm:"default:3" json:"max_attempts"`

	// BackoffSeconds is the base backoff; each retry doubles it.
	BackoffSeconds int `gorm:"default:30" json:"backoff_seconds"`

	// NextRunAt defers execution after a retryable failure.
	NextRunAt *Time `gorm:"index" json:"next_run_at,omitempty"`

	// StartedAt is when the current attempt began.
	StartedAt *Time `json:"started_at,omitempty"`

	// CompletedAt is when the task reached done or failed.
	CompletedAt *Time `json:"completed_at,omitempty"`

	// LastError contains the error message from the last failed attempt.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// LockedBy is the worker that claimed this task.
	LockedBy string `gorm:"size:100;index" json:"locked_by,omitempty"`

	// LockedAt is when the task was claimed.
	LockedAt *Time `json:"locked_at,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "post_processing_tasks"
}

// NewTask creates a pending task of the given kind for a target.
func NewTask(kind TaskKind, targetID ULID) *Task {
	return &Task{
		Kind:     kind,
		TargetID: targetID,
		SortOrder: KindOrder(kind),
		Status:   TaskStatusPending,
		Priority: TaskPriorityNormal,
	}
}

// IsFinished reports whether the task reached a terminal status.
func (t *Task) IsFinished() bool {
	return t.Status == TaskStatusDone || t.Status == TaskStatusFailed
}

// CanRetry reports whether another attempt is allowed.
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// MarkRunning claims the task for a worker and counts the attempt.
func (t *Task) MarkRunning(workerID string) {
	t.Status = TaskStatusRunning
	now := Now()
	t.StartedAt = &now
	t.LockedBy = workerID
	t.LockedAt = &now
	t.Attempts++
}

// MarkDone marks the task as completed successfully.
func (t *Task) MarkDone() {
	t.Status = TaskStatusDone
	now := Now()
	t.CompletedAt = &now
	t.LastError = ""
	t.LockedBy = ""
	t.LockedAt = nil
}

// MarkFailed marks the task as permanently failed.
func (t *Task) MarkFailed(err error) {
	t.Status = TaskStatusFailed
	now := Now()
	t.CompletedAt = &now
	if err != nil {
		t.LastError = err.Error()
	}
	t.LockedBy = ""
	t.LockedAt = nil
}

// ScheduleRetry returns the task to pending with exponential backoff.
func (t *Task) ScheduleRetry(err error) {
	t.Status = TaskStatusPending
	if err != nil {
		t.LastError = err.Error()
	}
	next := Now().Add(t.NextBackoff())
	t.NextRunAt = &next
	t.LockedBy = ""
	t.LockedAt = nil
}

// NextBackoff returns the backoff for the next retry: base * 2^(attempts-1),
// capped at 1 hour.
func (t *Task) NextBackoff() time.Duration {
	base := t.BackoffSeconds
	if base <= 0 {
		base = 30
	}
	attempts := t.Attempts
	if attempts < 1 {
		attempts = 1
	}
	secs := base * (1 << (attempts - 1))
	if secs > 3600 {
		secs = 3600
	}
	return time.Duration(secs) * time.Second
}

// Validate performs basic validation on the task.
func (t *Task) Validate() error {
	if t.Kind == "" {
		return ErrTaskKindRequired
	}
	if t.TargetID.IsZero() {
		return ErrTargetIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the task, derives its pipeline
// position, and generates a ULID.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if err := t.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if t.SortOrder == 0 {
		t.SortOrder = KindOrder(t.Kind)
	}
	return t.Validate()
}
