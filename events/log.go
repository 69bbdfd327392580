package events

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher logging at info level.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.InfoContext(ctx, "Governance event",
		"event_id", e.ID,
		"use_case", e.UseCaseID,
		"requirement", e.RequirementID,
		"register", e.Register,
		"action", e.Action,
		"from", e.From,
		"to", e.To,
		"actor", e.ActorRole,
		"reason", e.Reason)
	return nil
}
