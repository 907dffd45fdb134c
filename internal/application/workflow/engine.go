package workflow

import (
	"context"
	"time"

	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/permission"
	domainwf "github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

// TransitionRequest asks for one named transition on one document
type TransitionRequest struct {
	EntityID   string
	Transition domainwf.Trigger
	ActorID    string
	ActorRole  permission.Role
	// AttemptID is the caller's idempotency key; retries must reuse it
	AttemptID string
}

// DeriveInvoiceRequest asks for an invoice to be raised from an accepted goods receipt
type DeriveInvoiceRequest struct {
	GoodsReceiptID string
	ActorID        string
	ActorRole      permission.Role
	AttemptID      string
}

// TransitionResult is the outcome of an applied or replayed transition
type TransitionResult struct {
	// Entity is the snapshot of the transitioned document after commit. On a replay it is
	// the document as it stands now, which may have moved past Records' ToStatus.
	Entity *entity.Entity `json:"entity"`
	// Records are the transition records written by this attempt
	Records []*entity.TransitionRecord `json:"records"`
	// Derived holds documents created or changed as a consequence (new PO, new invoice, auto-rejected bids)
	Derived []*entity.Entity `json:"derived,omitempty"`
	// Budget is the budget after the transition's effect, when one applied. On a replay it is
	// the budget's current state.
	Budget *entity.Budget `json:"budget,omitempty"`
	// Replayed is true when the attempt had already been applied and nothing was written
	Replayed bool `json:"replayed"`
}

// Orchestrator is the single entry point for lifecycle transitions
type Orchestrator interface {
	// RequestTransition validates permission, legality and budget, then commits atomically
	RequestTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)

	// DeriveInvoice creates a DRAFT invoice linked to an ACCEPTED goods receipt
	DeriveInvoice(ctx context.Context, req DeriveInvoiceRequest) (*TransitionResult, error)

	// Get returns the current snapshot of a document
	Get(ctx context.Context, entityID string) (*entity.Entity, error)

	// CurrentStatus returns the status of a document
	CurrentStatus(ctx context.Context, entityID string) (domainwf.State, error)

	// LegalTransitions returns the edges out of the document's current status
	LegalTransitions(ctx context.Context, entityID string) ([]domainwf.Transition, error)

	// History returns the transition records of a document in commit order
	History(ctx context.Context, entityID string) ([]*entity.TransitionRecord, error)

	// Budget returns the stored budget
	Budget(ctx context.Context, budgetID string) (*entity.Budget, error)
}

// Recorder observes orchestrator outcomes, typically for metrics
type Recorder interface {
	ObserveTransition(entityType entity.Type, transition domainwf.Trigger, outcome string, elapsed time.Duration)
	ObserveBudget(kind string, b *entity.Budget)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type nopRecorder struct{}

func (nopRecorder) ObserveTransition(entity.Type, domainwf.Trigger, string, time.Duration) {}
func (nopRecorder) ObserveBudget(string, *entity.Budget)                                {}
