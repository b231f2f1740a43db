package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"gorm.io/gorm"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body struct {
		Status        string            `json:"status"`
		Timestamp     string            `json:"timestamp"`
		Version       string            `json:"version"`
		Uptime        string            `json:"uptime"`
		UptimeSeconds float64           `json:"uptime_seconds"`
		Checks        map[string]string `json:"checks"`
	}
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/healthz",
		Summary:     "Health check",
		Description: "Returns the health status of the service",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbStatus := "ok"
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err != nil {
			dbStatus = "error"
		} else if err := sqlDB.PingContext(ctx); err != nil {
			dbStatus = "error"
		}
	} else {
		dbStatus = "not configured"
	}

	status := "healthy"
	if dbStatus == "error" {
		status = "degraded"
	}

	resp := &HealthOutput{}
	resp.Body.Status = status
	resp.Body.Timestamp = now.UTC().Format(time.RFC3339)
	resp.Body.Version = h.version
	resp.Body.Uptime = uptime.Round(time.Second).String()
	resp.Body.UptimeSeconds = uptime.Seconds()
	resp.Body.Checks = map[string]string{
		"database": dbStatus,
	}

	return resp, nil
}
