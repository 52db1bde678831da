package pipeline

import (
	"context"
	"time"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
)

// Health states.
const (
	StatusHealthy      = "healthy"
	StatusUnhealthy    = "unhealthy"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// CheckFunc checks one dependency.
type CheckFunc func(ctx context.Context) error

// HealthReport is the read-only operational view of the pipeline.
type HealthReport struct {
	Status    string                  `json:"status"`
	Redis     string                  `json:"redis"`
	Queues    map[string]queue.Counts `json:"queues"`
	Database  string                  `json:"database,omitempty"`
	Events    string                  `json:"events,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// Healthy reports whether the report's status is healthy.
func (r *HealthReport) Healthy() bool {
	return r.Status == StatusHealthy
}

// HealthService aggregates broker connectivity and queue depths.
type HealthService struct {
	store    queue.Store
	database CheckFunc
	events   CheckFunc
	now      func() time.Time
}

// NewHealthService creates a health service. A nil database or events check
// leaves that field out of the report. Event publishing is best effort, so a
// disconnected event broker does not make the pipeline unhealthy.
func NewHealthService(store queue.Store, database, events CheckFunc) *HealthService {
	return &HealthService{store: store, database: database, events: events, now: time.Now}
}

// Check pings the broker, counts every queue and checks the optional
// dependencies.
func (h *HealthService) Check(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:    StatusHealthy,
		Redis:     StatusConnected,
		Queues:    make(map[string]queue.Counts, len(stages)),
		Timestamp: h.now().UTC(),
	}

	if err := h.store.Ping(ctx); err != nil {
		report.Status = StatusUnhealthy
		report.Redis = StatusDisconnected
	} else {
		for _, d := range stages {
			counts, err := h.store.Counts(ctx, d.Queue)
			if err != nil {
				report.Status = StatusUnhealthy
				report.Redis = StatusDisconnected
				break
			}
			report.Queues[d.Queue] = counts
		}
	}

	if h.database != nil {
		report.Database = StatusConnected
		if err := h.database(ctx); err != nil {
			report.Status = StatusUnhealthy
			report.Database = StatusDisconnected
		}
	}
	if h.events != nil {
		report.Events = StatusConnected
		if err := h.events(ctx); err != nil {
			report.Events = StatusDisconnected
		}
	}
	return report
}
