// Package sqs carries ERP entity events over an SQS queue into the
// automation hooks.
package sqs

import (
	"context"
	"fmt"
	"time"

	"github.com/fixzone/notifier/internal/db"
)

// Event types on the queue.
const (
	TypeStatusChanged = "entity.status_changed"
	TypeCreated       = "entity.created"
)

// Event is one ERP occurrence. It maps one-to-one onto an automation hook call.
type Event struct {
	Type           string    `json:"type"`
	EntityType     string    `json:"entity_type"`
	EntityID       int64     `json:"entity_id"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	NewStatus      string    `json:"new_status,omitempty"`
	ActorID        *int64    `json:"actor_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (e Event) Validate() error {
	switch e.Type {
	case TypeStatusChanged:
		if e.NewStatus == "" {
			return fmt.Errorf("%s event without new_status", e.Type)
		}
	case TypeCreated:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if !db.ValidEntityType(e.EntityType) {
		return fmt.Errorf("unknown entity type %q", e.EntityType)
	}
	if e.EntityID <= 0 {
		return fmt.Errorf("entity_id must be positive")
	}
	return nil
}

// Hooks is the automation entry point events are delivered to.
type Hooks interface {
	OnEntityStatusChange(ctx context.Context, entityType string, id int64, previous, next string, actor *int64)
	OnEntityCreated(ctx context.Context, entityType string, id int64, actor *int64)
}

// Deliver hands a validated event to hooks.
func Deliver(ctx context.Context, hooks Hooks, e Event) {
	switch e.Type {
	case TypeStatusChanged:
		hooks.OnEntityStatusChange(ctx, e.EntityType, e.EntityID, e.PreviousStatus, e.NewStatus, e.ActorID)
	case TypeCreated:
		hooks.OnEntityCreated(ctx, e.EntityType, e.EntityID, e.ActorID)
	}
}
