package control

import (
	"context"

	"flight-price-alerts/internal/model"
	"flight-price-alerts/internal/scheduler"
)

// Scheduler is the part of scheduler.Scheduler that command sources drive.
type Scheduler interface {
	Submit(ctx context.Context, cmd scheduler.Command) error
	State() scheduler.State
}

// RouteLister exposes the monitored routes with their current thresholds.
type RouteLister interface {
	Routes() []model.Route
}
