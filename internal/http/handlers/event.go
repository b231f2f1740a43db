package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/streamvault/streamvault/internal/dispatcher"
	"github.com/streamvault/streamvault/internal/models"
	"github.com/streamvault/streamvault/internal/repository"
)

// EventHandler ingests platform webhook events and hands them to the
// dispatcher.
type EventHandler struct {
	dispatcher *dispatcher.Dispatcher
	channels   repository.ChannelRepository
	logger     *slog.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(d *dispatcher.Dispatcher, channels repository.ChannelRepository) *EventHandler {
	return &EventHandler{
		dispatcher: d,
		channels:   channels,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *EventHandler) WithLogger(logger *slog.Logger) *EventHandler {
	h.logger = logger
	return h
}

// Register registers the event routes with the API.
func (h *EventHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "ingestEvent",
		Method:      "POST",
		Path:        "/api/v1/events",
		Summary:     "Ingest a platform event",
		Description: "Accepts an online, offline, or channel_update event and applies it to channel state",
		Tags:        []string{"Events"},
	}, h.IngestEvent)
}

// IngestEventInput is the input for the event ingest endpoint. The channel
// is identified by platform ID or by login; platform ID wins when both are
// present.
type IngestEventInput struct {
	Body struct {
		Type             string `json:"type" required:"true" enum:"online,offline,channel_update" doc:"Event kind"`
		PlatformID       string `json:"platform_id,omitempty" doc:"Broadcaster platform ID"`
		Login            string `json:"login,omitempty" doc:"Broadcaster login name"`
		PlatformStreamID string `json:"platform_stream_id,omitempty" doc:"Platform ID of the broadcast"`
		Title            string `json:"title,omitempty"`
		Category         string `json:"category,omitempty"`
		Language         string `json:"language,omitempty"`
		Timestamp        string `json:"timestamp,omitempty" doc:"Event time, RFC 3339. Defaults to receipt time."`
	}
}

// IngestEventOutput is the output for the event ingest endpoint.
type IngestEventOutput struct {
	Body struct {
		Success   bool   `json:"success"`
		ChannelID string `json:"channel_id"`
	}
}

// IngestEvent resolves the channel and dispatches the event.
func (h *EventHandler) IngestEvent(ctx context.Context, input *IngestEventInput) (*IngestEventOutput, error) {
	channel, err := h.resolveChannel(ctx, input.Body.PlatformID, input.Body.Login)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to resolve channel")
	}
	if channel == nil {
		return nil, huma.Error404NotFound("Channel not found")
	}

	arrivedAt := time.Now()
	if input.Body.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, input.Body.Timestamp)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("Invalid timestamp")
		}
		arrivedAt = ts
	}

	ev := dispatcher.Event{
		ChannelID:        channel.ID,
		Kind:             dispatcher.EventKind(input.Body.Type),
		Title:            input.Body.Title,
		Category:         input.Body.Category,
		Language:         input.Body.Language,
		PlatformStreamID: input.Body.PlatformStreamID,
		ArrivedAt:        arrivedAt,
	}

	if err := h.dispatcher.Dispatch(ctx, ev); err != nil {
		switch {
		case errors.Is(err, dispatcher.ErrUnknownEventKind):
			return nil, huma.Error422UnprocessableEntity("Unknown event type")
		case errors.Is(err, models.ErrChannelNotFound):
			return nil, huma.Error404NotFound("Channel not found")
		default:
			h.logger.ErrorContext(ctx, "dispatching event",
				slog.String("channel", channel.Login),
				slog.String("kind", input.Body.Type),
				slog.Any("error", err))
			return nil, huma.Error500InternalServerError("Failed to process event")
		}
	}

	resp := &IngestEventOutput{}
	resp.Body.Success = true
	resp.Body.ChannelID = channel.ID.String()
	return resp, nil
}

func (h *EventHandler) resolveChannel(ctx context.Context, platformID, login string) (*models.Channel, error) {
	if platformID != "" {
		return h.channels.GetByPlatformID(ctx, platformID)
	}
	if login != "" {
		return h.channels.GetByLogin(ctx, login)
	}
	return nil, nil
}
