package services

import (
	"context"
	"log/slog"
	"time"

	"segcli/internal/artifacts"
)

// HealthService reports liveness and artifact readiness.
type HealthService struct {
	store   *artifacts.Store
	logger  *slog.Logger
	started time.Time
	version string
}

// NewHealthService creates the health service.
func NewHealthService(store *artifacts.Store, version string, logger *slog.Logger) *HealthService {
	return &HealthService{
		store:   store,
		logger:  logger.With(slog.String("component", "health_service")),
		started: time.Now(),
		version: version,
	}
}

// HealthStatus is the health endpoint payload.
type HealthStatus struct {
	Status        string           `json:"status"`
	Version       string           `json:"version"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	Artifacts     artifacts.Status `json:"artifacts"`
	ModelReady    bool             `json:"model_ready"`
	CheckedAt     time.Time        `json:"checked_at"`
}

// Check returns the current health. The process is healthy even before
// training; ModelReady tells callers whether analytics will serve.
func (s *HealthService) Check(ctx context.Context) *HealthStatus {
	status := s.store.Status()
	return &HealthStatus{
		Status:        "healthy",
		Version:       s.version,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Artifacts:     status,
		ModelReady:    status.SegmentationReady(),
		CheckedAt:     time.Now().UTC(),
	}
}
