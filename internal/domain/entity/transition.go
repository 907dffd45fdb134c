package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

// TransitionRecord is the append-only audit entry written for every applied transition.
// (EntityID, FromStatus, ToStatus, AttemptID) is unique.
type TransitionRecord struct {
	ID          int64            `json:"id,omitempty"`
	EntityID    string           `json:"entity_id"`
	EntityType  Type             `json:"entity_type"`
	Transition  workflow.Trigger `json:"transition"`
	FromStatus  workflow.State   `json:"from_status"`
	ToStatus    workflow.State   `json:"to_status"`
	ActorID     string           `json:"actor_id"`
	ActorRole   string           `json:"actor_role"`
	AttemptID   string           `json:"attempt_id"`
	BudgetID    string           `json:"budget_id,omitempty"`
	BudgetDelta decimal.Decimal  `json:"budget_delta"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Key returns the idempotency key of the record
func (r *TransitionRecord) Key() RecordKey {
	return RecordKey{
		EntityID:   r.EntityID,
		FromStatus: r.FromStatus,
		ToStatus:   r.ToStatus,
		AttemptID:  r.AttemptID,
	}
}

// RecordKey is the uniqueness key of a transition record
type RecordKey struct {
	EntityID   string
	FromStatus workflow.State
	ToStatus   workflow.State
	AttemptID  string
}
