// Package handlers provides HTTP API handlers for streamvault.
package handlers

import (
	"time"

	"github.com/streamvault/streamvault/internal/models"
)

// ChannelResponse is the API representation of a channel.
type ChannelResponse struct {
	ID                 string `json:"id"`
	PlatformID         string `json:"platform_id"`
	Login              string `json:"login"`
	DisplayName        string `json:"display_name,omitempty"`
	IsLive             bool   `json:"is_live"`
	LastLiveAt         string `json:"last_live_at,omitempty"`
	AutoRecord         bool   `json:"auto_record"`
	Favorite           bool   `json:"favorite"`
	Quality            string `json:"quality,omitempty"`
	Codecs             string `json:"codecs,omitempty"`
	ProxyURL           string `json:"proxy_url,omitempty"`
	FilenameTemplate   string `json:"filename_template,omitempty"`
	CleanupStrategy    string `json:"cleanup_strategy,omitempty"`
	CleanupMaxCount    int    `json:"cleanup_max_count,omitempty"`
	CleanupMaxBytes    int64  `json:"cleanup_max_bytes,omitempty"`
	CleanupMaxAgeDays  int    `json:"cleanup_max_age_days,omitempty"`
	PreserveCategories string `json:"preserve_categories,omitempty"`
	PreserveFavorites  bool   `json:"preserve_favorites"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

// ChannelFromModel converts a channel model to its API representation.
func ChannelFromModel(c *models.Channel) ChannelResponse {
	resp := ChannelResponse{
		ID:                 c.ID.String(),
		PlatformID:         c.PlatformID,
		Login:              c.Login,
		DisplayName:        c.DisplayName,
		IsLive:             c.IsLive,
		AutoRecord:         c.AutoRecordEnabled(),
		Favorite:           c.Favorite,
		Quality:            c.Quality,
		Codecs:             c.Codecs,
		ProxyURL:           c.ProxyURL,
		FilenameTemplate:   c.FilenameTemplate,
		CleanupStrategy:    string(c.CleanupStrategy),
		CleanupMaxCount:    c.CleanupMaxCount,
		CleanupMaxBytes:    c.CleanupMaxBytes,
		CleanupMaxAgeDays:  int(c.CleanupMaxAge / (24 * time.Hour)),
		PreserveCategories: c.PreserveCategories,
		PreserveFavorites:  models.BoolVal(c.PreserveFavorites),
		CreatedAt:          c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if c.LastLiveAt != nil {
		resp.LastLiveAt = c.LastLiveAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// StreamResponse is the API representation of a stream.
type StreamResponse struct {
	ID               string `json:"id"`
	ChannelID        string `json:"channel_id"`
	PlatformStreamID string `json:"platform_stream_id"`
	StartedAt        string `json:"started_at"`
	EndedAt          string `json:"ended_at,omitempty"`
	Title            string `json:"title,omitempty"`
	Category         string `json:"category,omitempty"`
	Language         string `json:"language,omitempty"`
	EpisodeNumber    int    `json:"episode_number"`
	Season           string `json:"season"`
}

// StreamFromModel converts a stream model to its API representation.
func StreamFromModel(s *models.Stream) StreamResponse {
	resp := StreamResponse{
		ID:               s.ID.String(),
		ChannelID:        s.ChannelID.String(),
		PlatformStreamID: s.PlatformStreamID,
		StartedAt:        s.StartedAt.UTC().Format(time.RFC3339),
		Title:            s.Title,
		Category:         s.Category,
		Language:         s.Language,
		EpisodeNumber:    s.EpisodeNumber,
		Season:           s.Season(),
	}
	if s.EndedAt != nil {
		resp.EndedAt = s.EndedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// RecordingResponse is the API representation of a recording.
type RecordingResponse struct {
	ID           string                `json:"id"`
	StreamID     string                `json:"stream_id"`
	ChannelID    string                `json:"channel_id"`
	StartedAt    string                `json:"started_at"`
	EndedAt      string                `json:"ended_at,omitempty"`
	Status       string                `json:"status"`
	OutputPath   string                `json:"output_path"`
	SegmentCount int                   `json:"segment_count"`
	Quality      string                `json:"quality,omitempty"`
	SizeBytes    int64                 `json:"size_bytes,omitempty"`
	LastError    string                `json:"last_error,omitempty"`
	Process      *ProcessStatsResponse `json:"process,omitempty"`
}

// ProcessStatsResponse reports live resource usage of the capture subprocess
// behind an active recording.
type ProcessStatsResponse struct {
	PID            int32   `json:"pid"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryRSSBytes uint64  `json:"memory_rss_bytes"`
}

// RecordingFromModel converts a recording model to its API representation.
func RecordingFromModel(r *models.Recording) RecordingResponse {
	resp := RecordingResponse{
		ID:           r.ID.String(),
		StreamID:     r.StreamID.String(),
		ChannelID:    r.ChannelID.String(),
		StartedAt:    r.StartedAt.UTC().Format(time.RFC3339),
		Status:       string(r.Status),
		OutputPath:   r.OutputPath,
		SegmentCount: r.SegmentCount,
		Quality:      r.Quality,
		SizeBytes:    r.SizeBytes,
		LastError:    r.LastError,
	}
	if r.EndedAt != nil {
		resp.EndedAt = r.EndedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// TaskResponse is the API representation of a post-processing task.
type TaskResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	TargetID    string `json:"target_id"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`
	NextRunAt   string `json:"next_run_at,omitempty"`
	LockedBy    string `json:"locked_by,omitempty"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// TaskFromModel converts a task model to its API representation.
func TaskFromModel(t *models.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID.String(),
		Kind:        string(t.Kind),
		TargetID:    t.TargetID.String(),
		Status:      string(t.Status),
		Attempts:    t.Attempts,
		MaxAttempts: t.MaxAttempts,
		LastError:   t.LastError,
		LockedBy:    t.LockedBy,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.NextRunAt != nil {
		resp.NextRunAt = t.NextRunAt.UTC().Format(time.RFC3339)
	}
	if t.CompletedAt != nil {
		resp.CompletedAt = t.CompletedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
