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

// ChannelHandler handles channel management API endpoints.
type ChannelHandler struct {
	channels   repository.ChannelRepository
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger
}

// NewChannelHandler creates a new channel handler.
func NewChannelHandler(channels repository.ChannelRepository, d *dispatcher.Dispatcher) *ChannelHandler {
	return &ChannelHandler{
		channels:   channels,
		dispatcher: d,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *ChannelHandler) WithLogger(logger *slog.Logger) *ChannelHandler {
	h.logger = logger
	return h
}

// Register registers the channel routes with the API.
func (h *ChannelHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      "GET",
		Path:        "/api/v1/channels",
		Summary:     "List all channels",
		Description: "Returns all monitored channels ordered by login",
		Tags:        []string{"Channels"},
	}, h.ListChannels)

	huma.Register(api, huma.Operation{
		OperationID: "createChannel",
		Method:      "POST",
		Path:        "/api/v1/channels",
		Summary:     "Create a channel",
		Description: "Adds a broadcaster to the monitored set",
		Tags:        []string{"Channels"},
	}, h.CreateChannel)

	huma.Register(api, huma.Operation{
		OperationID: "getChannel",
		Method:      "GET",
		Path:        "/api/v1/channels/{id}",
		Summary:     "Get channel by ID",
		Tags:        []string{"Channels"},
	}, h.GetChannel)

	huma.Register(api, huma.Operation{
		OperationID: "updateChannel",
		Method:      "PATCH",
		Path:        "/api/v1/channels/{id}",
		Summary:     "Update channel settings",
		Description: "Updates recording policy overrides and flags. Omitted fields are left unchanged.",
		Tags:        []string{"Channels"},
	}, h.UpdateChannel)

	huma.Register(api, huma.Operation{
		OperationID: "deleteChannel",
		Method:      "DELETE",
		Path:        "/api/v1/channels/{id}",
		Summary:     "Delete a channel",
		Tags:        []string{"Channels"},
	}, h.DeleteChannel)

	huma.Register(api, huma.Operation{
		OperationID: "forceStartRecording",
		Method:      "POST",
		Path:        "/api/v1/channels/{id}/start",
		Summary:     "Force-start recording",
		Description: "Starts recording the channel's open stream regardless of the auto_record setting",
		Tags:        []string{"Channels"},
	}, h.ForceStart)
}

// ListChannelsInput is the input for listing channels.
type ListChannelsInput struct{}

// ListChannelsOutput is the output for listing channels.
type ListChannelsOutput struct {
	Body struct {
		Success bool              `json:"success"`
		Items   []ChannelResponse `json:"items"`
		Count   int               `json:"count"`
	}
}

// ListChannels returns all channels.
func (h *ChannelHandler) ListChannels(ctx context.Context, input *ListChannelsInput) (*ListChannelsOutput, error) {
	channels, err := h.channels.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch channels")
	}

	items := make([]ChannelResponse, len(channels))
	for i, c := range channels {
		items[i] = ChannelFromModel(c)
	}

	resp := &ListChannelsOutput{}
	resp.Body.Success = true
	resp.Body.Items = items
	resp.Body.Count = len(items)
	return resp, nil
}

// CreateChannelInput is the input for creating a channel.
type CreateChannelInput struct {
	Body struct {
		PlatformID  string `json:"platform_id" required:"true" minLength:"1" maxLength:"64"`
		Login       string `json:"login" required:"true" minLength:"1" maxLength:"128"`
		DisplayName string `json:"display_name,omitempty" maxLength:"255"`
		AutoRecord  *bool  `json:"auto_record,omitempty"`
		Favorite    bool   `json:"favorite,omitempty"`
		Quality     string `json:"quality,omitempty" maxLength:"128"`
		Codecs      string `json:"codecs,omitempty" maxLength:"128"`
	}
}

// CreateChannelOutput is the output for creating a channel.
type CreateChannelOutput struct {
	Status int
	Body   struct {
		Success bool            `json:"success"`
		Data    ChannelResponse `json:"data"`
	}
}

// CreateChannel adds a channel to the monitored set.
func (h *ChannelHandler) CreateChannel(ctx context.Context, input *CreateChannelInput) (*CreateChannelOutput, error) {
	existing, err := h.channels.GetByPlatformID(ctx, input.Body.PlatformID)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to check existing channels")
	}
	if existing != nil {
		return nil, huma.Error409Conflict("Channel with this platform ID already exists")
	}

	channel := &models.Channel{
		PlatformID:  input.Body.PlatformID,
		Login:       input.Body.Login,
		DisplayName: input.Body.DisplayName,
		AutoRecord:  input.Body.AutoRecord,
		Favorite:    input.Body.Favorite,
		Quality:     input.Body.Quality,
		Codecs:      input.Body.Codecs,
	}
	if channel.AutoRecord == nil {
		channel.AutoRecord = models.BoolPtr(true)
	}

	if err := h.channels.Create(ctx, channel); err != nil {
		h.logger.ErrorContext(ctx, "creating channel",
			slog.String("login", input.Body.Login),
			slog.Any("error", err))
		return nil, huma.Error500InternalServerError("Failed to create channel")
	}

	resp := &CreateChannelOutput{Status: 201}
	resp.Body.Success = true
	resp.Body.Data = ChannelFromModel(channel)
	return resp, nil
}

// GetChannelInput is the input for getting a channel.
type GetChannelInput struct {
	ID string `path:"id" required:"true"`
}

// GetChannelOutput is the output for getting a channel.
type GetChannelOutput struct {
	Body struct {
		Success bool            `json:"success"`
		Data    ChannelResponse `json:"data"`
	}
}

// GetChannel returns a specific channel by ID.
func (h *ChannelHandler) GetChannel(ctx context.Context, input *GetChannelInput) (*GetChannelOutput, error) {
	channel, err := h.loadChannel(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	resp := &GetChannelOutput{}
	resp.Body.Success = true
	resp.Body.Data = ChannelFromModel(channel)
	return resp, nil
}

// UpdateChannelInput is the input for updating a channel. Pointer fields
// distinguish "not provided" from zero values.
type UpdateChannelInput struct {
	ID   string `path:"id" required:"true"`
	Body struct {
		DisplayName        *string `json:"display_name,omitempty"`
		AutoRecord         *bool   `json:"auto_record,omitempty"`
		Favorite           *bool   `json:"favorite,omitempty"`
		Quality            *string `json:"quality,omitempty"`
		Codecs             *string `json:"codecs,omitempty"`
		ProxyURL           *string `json:"proxy_url,omitempty"`
		FilenameTemplate   *string `json:"filename_template,omitempty"`
		CleanupStrategy    *string `json:"cleanup_strategy,omitempty" enum:",count,size,age,composite"`
		CleanupMaxCount    *int    `json:"cleanup_max_count,omitempty"`
		CleanupMaxBytes    *int64  `json:"cleanup_max_bytes,omitempty"`
		CleanupMaxAgeDays  *int    `json:"cleanup_max_age_days,omitempty"`
		PreserveCategories *string `json:"preserve_categories,omitempty"`
		PreserveFavorites  *bool   `json:"preserve_favorites,omitempty"`
	}
}

// UpdateChannelOutput is the output for updating a channel.
type UpdateChannelOutput struct {
	Body struct {
		Success bool            `json:"success"`
		Data    ChannelResponse `json:"data"`
	}
}

// UpdateChannel applies partial updates to a channel.
func (h *ChannelHandler) UpdateChannel(ctx context.Context, input *UpdateChannelInput) (*UpdateChannelOutput, error) {
	channel, err := h.loadChannel(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	b := input.Body
	if b.DisplayName != nil {
		channel.DisplayName = *b.DisplayName
	}
	if b.AutoRecord != nil {
		channel.AutoRecord = b.AutoRecord
	}
	if b.Favorite != nil {
		channel.Favorite = *b.Favorite
	}
	if b.Quality != nil {
		channel.Quality = *b.Quality
	}
	if b.Codecs != nil {
		channel.Codecs = *b.Codecs
	}
	if b.ProxyURL != nil {
		channel.ProxyURL = *b.ProxyURL
	}
	if b.FilenameTemplate != nil {
		channel.FilenameTemplate = *b.FilenameTemplate
	}
	if b.CleanupStrategy != nil {
		channel.CleanupStrategy = models.CleanupStrategy(*b.CleanupStrategy)
	}
	if b.CleanupMaxCount != nil {
		channel.CleanupMaxCount = *b.CleanupMaxCount
	}
	if b.CleanupMaxBytes != nil {
		channel.CleanupMaxBytes = *b.CleanupMaxBytes
	}
	if b.CleanupMaxAgeDays != nil {
		channel.CleanupMaxAge = time.Duration(*b.CleanupMaxAgeDays) * 24 * time.Hour
	}
	if b.PreserveCategories != nil {
		channel.PreserveCategories = *b.PreserveCategories
	}
	if b.PreserveFavorites != nil {
		channel.PreserveFavorites = b.PreserveFavorites
	}

	if err := h.channels.Update(ctx, channel); err != nil {
		return nil, huma.Error500InternalServerError("Failed to update channel")
	}

	resp := &UpdateChannelOutput{}
	resp.Body.Success = true
	resp.Body.Data = ChannelFromModel(channel)
	return resp, nil
}

// DeleteChannelInput is the input for deleting a channel.
type DeleteChannelInput struct {
	ID string `path:"id" required:"true"`
}

// DeleteChannelOutput is the output for deleting a channel.
type DeleteChannelOutput struct {
	Body struct {
		Success bool `json:"success"`
	}
}

// DeleteChannel removes a channel.
func (h *ChannelHandler) DeleteChannel(ctx context.Context, input *DeleteChannelInput) (*DeleteChannelOutput, error) {
	channel, err := h.loadChannel(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if err := h.channels.Delete(ctx, channel.ID); err != nil {
		return nil, huma.Error500InternalServerError("Failed to delete channel")
	}

	resp := &DeleteChannelOutput{}
	resp.Body.Success = true
	return resp, nil
}

// ForceStartInput is the input for force-starting a recording.
type ForceStartInput struct {
	ID string `path:"id" required:"true"`
}

// ForceStartOutput is the output for force-starting a recording.
type ForceStartOutput struct {
	Body struct {
		Success bool              `json:"success"`
		Data    RecordingResponse `json:"data"`
	}
}

// ForceStart starts recording the channel's open stream.
func (h *ChannelHandler) ForceStart(ctx context.Context, input *ForceStartInput) (*ForceStartOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("Invalid channel ID")
	}

	rec, err := h.dispatcher.ForceStart(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrChannelNotFound):
			return nil, huma.Error404NotFound("Channel not found")
		case errors.Is(err, models.ErrNoOpenStream):
			return nil, huma.Error409Conflict("Channel has no open stream")
		case errors.Is(err, models.ErrDuplicateActiveRecording):
			return nil, huma.Error409Conflict("Channel is already being recorded")
		default:
			h.logger.ErrorContext(ctx, "force-starting recording",
				slog.String("channel_id", input.ID),
				slog.Any("error", err))
			return nil, huma.Error500InternalServerError("Failed to start recording")
		}
	}

	resp := &ForceStartOutput{}
	resp.Body.Success = true
	resp.Body.Data = RecordingFromModel(rec)
	return resp, nil
}

// loadChannel parses the path ID and loads the channel, translating misses
// into API errors.
func (h *ChannelHandler) loadChannel(ctx context.Context, rawID string) (*models.Channel, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("Invalid channel ID")
	}
	channel, err := h.channels.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to fetch channel")
	}
	if channel == nil {
		return nil, huma.Error404NotFound("Channel not found")
	}
	return channel, nil
}
