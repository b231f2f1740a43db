package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/postproc"
	"github.com/streamvault/streamvault/internal/repository"
)

// TaskHandler handles post-processing queue API endpoints.
type TaskHandler struct {
	tasks  repository.TaskRepository
	runner *postproc.Runner
	logger *slog.Logger
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(tasks repository.TaskRepository, runner *postproc.Runner) *TaskHandler {
	return &TaskHandler{
		tasks:  tasks,
		runner: runner,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *TaskHandler) WithLogger(logger *slog.Logger) *TaskHandler {
	h.logger = logger
	return h
}

// Register registers the task routes with the API.
func (h *TaskHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listTasks",
		Method:      "GET",
		Path:        "/api/v1/tasks",
		Summary:     "List post-processing tasks",
		Description: "Returns tasks filtered by status or target recording",
		Tags:        []string{"Tasks"},
	}, h.ListTasks)

	huma.Register(api, huma.Operation{
		OperationID: "getTaskWorkerStatus",
		Method:      "GET",
		Path:        "/api/v1/tasks/status",
		Summary:     "Get worker pool status",
		Tags:        []string{"Tasks"},
	}, h.GetWorkerStatus)
}

// ListTasksInput is the input for listing tasks.
type ListTasksInput struct {
	Status   string `query:"status" enum:",pending,running,done,failed"`
	TargetID string `query:"target_id" doc:"Recording ID the tasks belong to"`
}

// ListTasksOutput is the output for listing tasks.
type ListTasksOutput struct {
	Body struct {
		Success bool           `json:"success"`
		Items   []TaskResponse `json:"items"`
		Count   int            `json:"count"`
	}
}

// ListTasks returns tasks matching the filters.
func (h *TaskHandler) ListTasks(ctx context.Context, input *ListTasksInput) (*ListTasksOutput, error) {
	var (
		tasks []*models.Task
		err   error
	)
	switch {
	case input.TargetID != "":
		targetID, parseErr := models.ParseULID(input.TargetID)
		if parseErr != nil {
			return nil, huma.Error422UnprocessableEntity("Invalid target ID")
		}
		tasks, err = h.tasks.GetByTargetID(ctx, targetID)
	case input.Status != "":
		tasks, err = h.tasks.GetByStatus(ctx, models.TaskStatus(input.Status))
	default:
		tasks, err = h.tasks.GetByStatus(ctx, models.TaskStatusPending)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch tasks")
	}

	items := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		if input.TargetID != "" && input.Status != "" && string(t.Status) != input.Status {
			continue
		}
		items = append(items, TaskFromModel(t))
	}

	resp := &ListTasksOutput{}
	resp.Body.Success = true
	resp.Body.Items = items
	resp.Body.Count = len(items)
	return resp, nil
}

// GetWorkerStatusInput is the input for the worker status endpoint.
type GetWorkerStatusInput struct{}

// GetWorkerStatusOutput is the output for the worker status endpoint.
type GetWorkerStatusOutput struct {
	Body struct {
		Success bool            `json:"success"`
		Data    postproc.Status `json:"data"`
	}
}

// GetWorkerStatus returns the post-processing worker pool status.
func (h *TaskHandler) GetWorkerStatus(ctx context.Context, input *GetWorkerStatusInput) (*GetWorkerStatusOutput, error) {
	resp := &GetWorkerStatusOutput{}
	resp.Body.Success = true
	if h.runner != nil {
		resp.Body.Data = h.runner.GetStatus()
	}
	return resp, nil
}
