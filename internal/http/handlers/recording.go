package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/streamvault/streamvault/internal/capture"
	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/repository"
)

// RecordingStopper stops an in-flight capture. Satisfied by
// recorder.Service.
type RecordingStopper interface {
	Stop(ctx context.Context, channelID models.ULID) error
}

// ProcessStatsProvider samples resource usage of a live capture subprocess.
// Satisfied by recorder.Service.
type ProcessStatsProvider interface {
	ProcessStats(recordingID models.ULID) (*capture.Stats, error)
}

// RecordingHandler handles recording API endpoints.
type RecordingHandler struct {
	recordings repository.RecordingRepository
	stopper    RecordingStopper
	stats      ProcessStatsProvider
	logger     *slog.Logger
}

// NewRecordingHandler creates a new recording handler.
func NewRecordingHandler(recordings repository.RecordingRepository, stopper RecordingStopper) *RecordingHandler {
	return &RecordingHandler{
		recordings: recordings,
		stopper:    stopper,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *RecordingHandler) WithLogger(logger *slog.Logger) *RecordingHandler {
	h.logger = logger
	return h
}

// WithStats enables live process stats on active recordings.
func (h *RecordingHandler) WithStats(stats ProcessStatsProvider) *RecordingHandler {
	h.stats = stats
	return h
}

// Register registers the recording routes with the API.
func (h *RecordingHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRecordings",
		Method:      "GET",
		Path:        "/api/v1/recordings",
		Summary:     "List recordings",
		Description: "Returns recordings, newest first, optionally filtered by channel and status",
		Tags:        []string{"Recordings"},
	}, h.ListRecordings)

	huma.Register(api, huma.Operation{
		OperationID: "getRecording",
		Method:      "GET",
		Path:        "/api/v1/recordings/{id}",
		Summary:     "Get recording by ID",
		Tags:        []string{"Recordings"},
	}, h.GetRecording)

	huma.Register(api, huma.Operation{
		OperationID: "stopRecording",
		Method:      "POST",
		Path:        "/api/v1/recordings/{id}/stop",
		Summary:     "Stop a recording",
		Description: "Terminates the capture subprocess and queues post-processing",
		Tags:        []string{"Recordings"},
	}, h.StopRecording)
}

// ListRecordingsInput is the input for listing recordings.
type ListRecordingsInput struct {
	ChannelID string `query:"channel_id"`
	Status    string `query:"status" enum:",recording,stopped,failed,completed"`
}

// ListRecordingsOutput is the output for listing recordings.
type ListRecordingsOutput struct {
	Body struct {
		Success bool                `json:"success"`
		Items   []RecordingResponse `json:"items"`
		Count   int                 `json:"count"`
	}
}

// ListRecordings returns recordings matching the filters.
func (h *RecordingHandler) ListRecordings(ctx context.Context, input *ListRecordingsInput) (*ListRecordingsOutput, error) {
	var (
		recordings []*models.Recording
		err        error
	)
	if input.ChannelID != "" {
		channelID, parseErr := models.ParseULID(input.ChannelID)
		if parseErr != nil {
			return nil, huma.Error422UnprocessableEntity("Invalid channel ID")
		}
		recordings, err = h.recordings.GetByChannel(ctx, channelID)
	} else {
		recordings, err = h.recordings.GetAll(ctx)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch recordings")
	}

	items := make([]RecordingResponse, 0, len(recordings))
	for _, rec := range recordings {
		if input.Status != "" && string(rec.Status) != input.Status {
			continue
		}
		items = append(items, RecordingFromModel(rec))
	}

	resp := &ListRecordingsOutput{}
	resp.Body.Success = true
	resp.Body.Items = items
	resp.Body.Count = len(items)
	return resp, nil
}

// GetRecordingInput is the input for getting a recording.
type GetRecordingInput struct {
	ID string `path:"id" required:"true"`
}

// GetRecordingOutput is the output for getting a recording.
type GetRecordingOutput struct {
	Body struct {
		Success bool              `json:"success"`
		Data    RecordingResponse `json:"data"`
	}
}

// GetRecording returns a specific recording by ID.
func (h *RecordingHandler) GetRecording(ctx context.Context, input *GetRecordingInput) (*GetRecordingOutput, error) {
	rec, err := h.loadRecording(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	data := RecordingFromModel(rec)
	if h.stats != nil && rec.IsActive() {
		if st, statsErr := h.stats.ProcessStats(rec.ID); statsErr == nil {
			data.Process = &ProcessStatsResponse{
				PID:            st.PID,
				CPUPercent:     st.CPUPercent,
				MemoryRSSBytes: st.MemoryRSSBytes,
			}
		}
	}

	resp := &GetRecordingOutput{}
	resp.Body.Success = true
	resp.Body.Data = data
	return resp, nil
}

// StopRecordingInput is the input for stopping a recording.
type StopRecordingInput struct {
	ID string `path:"id" required:"true"`
}

// StopRecordingOutput is the output for stopping a recording.
type StopRecordingOutput struct {
	Body struct {
		Success bool              `json:"success"`
		Data    RecordingResponse `json:"data"`
	}
}

// StopRecording terminates an in-flight capture.
func (h *RecordingHandler) StopRecording(ctx context.Context, input *StopRecordingInput) (*StopRecordingOutput, error) {
	rec, err := h.loadRecording(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if !rec.IsActive() {
		return nil, huma.Error409Conflict("Recording is not in progress")
	}

	if err := h.stopper.Stop(ctx, rec.ChannelID); err != nil {
		if errors.Is(err, models.ErrRecordingNotFound) {
			// Capture already exited; the stop path has run or will run.
			return nil, huma.Error409Conflict("Recording is not in progress")
		}
		h.logger.ErrorContext(ctx, "stopping recording",
			slog.String("recording_id", input.ID),
			slog.Any("error", err))
		return nil, huma.Error500InternalServerError("Failed to stop recording")
	}

	stopped, err := h.recordings.GetByID(ctx, rec.ID)
	if err != nil || stopped == nil {
		return nil, huma.Error500InternalServerError("Failed to fetch recording")
	}

	resp := &StopRecordingOutput{}
	resp.Body.Success = true
	resp.Body.Data = RecordingFromModel(stopped)
	return resp, nil
}

// loadRecording parses the path ID and loads the recording, translating
// misses into API errors.
func (h *RecordingHandler) loadRecording(ctx context.Context, rawID string) (*models.Recording, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("Invalid recording ID")
	}
	rec, err := h.recordings.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch recording")
	}
	if rec == nil {
		return nil, huma.Error404NotFound("Recording not found")
	}
	return rec, nil
}
