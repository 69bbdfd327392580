// Package events publishes governance transitions to an outside sink.
// Publishing is best effort: a failed publish is logged by the caller and
// never undoes the transition it describes.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TypeTransition is the event type of a committed governance transition.
const TypeTransition = "governance.transition"

// Event describes one committed governance transition.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	UseCaseID     string    `json:"use_case_id"`
	RequirementID string    `json:"requirement_id"`
	Register      string    `json:"register"`
	Action        string    `json:"action"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	ActorRole     string    `json:"actor_role"`
	Reason        string    `json:"reason,omitempty"`
}

// NewTransition builds a transition event with a fresh id.
func NewTransition(useCaseID, requirementID, register, action, from, to, actorRole, reason string, at time.Time) Event {
	return Event{
		ID:            uuid.New().String(),
		Type:          TypeTransition,
		Timestamp:     at,
		UseCaseID:     useCaseID,
		RequirementID: requirementID,
		Register:      register,
		Action:        action,
		From:          from,
		To:            to,
		ActorRole:     actorRole,
		Reason:        reason,
	}
}

// Attributes returns the routing attributes carried next to the payload.
func (e Event) Attributes() map[string]string {
	return map[string]string{
		"type":     e.Type,
		"register": e.Register,
		"action":   e.Action,
		"to":       e.To,
	}
}

// Marshal encodes the event as JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Closer is implemented by publishers holding a connection.
type Closer interface {
	Close() error
}
