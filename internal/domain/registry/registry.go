// Package registry is the single source of truth for legal statuses and transitions per document type.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
	"github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

type subjectKey struct{}

// WithSubject attaches the document being transitioned so guards can inspect it
func WithSubject(ctx context.Context, e *entity.Entity) context.Context {
	return context.WithValue(ctx, subjectKey{}, e)
}

func subjectFrom(ctx context.Context) *entity.Entity {
	e, _ := ctx.Value(subjectKey{}).(*entity.Entity)
	return e
}

type definition struct {
	initial  workflow.State
	terminal workflow.StateSet
	builder  workflow.StateMachineBuilder
}

// Registry holds one state machine definition per document type. It is immutable after New.
type Registry struct {
	defs map[entity.Type]*definition
	now  func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the clock used by time-based guards
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New builds the registry with every procurement document type configured
func New(opts ...Option) *Registry {
	r := &Registry{
		defs: make(map[entity.Type]*definition, len(entity.Types)),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.defs[entity.TypeTender] = tenderDefinition()
	r.defs[entity.TypeBid] = bidDefinition()
	r.defs[entity.TypePurchaseRequisition] = requisitionDefinition()
	r.defs[entity.TypePurchaseOrder] = purchaseOrderDefinition()
	r.defs[entity.TypeGoodsReceipt] = goodsReceiptDefinition()
	r.defs[entity.TypeInvoice] = invoiceDefinition(r.dueDatePassed)
	r.defs[entity.TypePayment] = paymentDefinition()
	r.defs[entity.TypeContract] = contractDefinition()

	return r
}

// Types returns every configured document type
func (r *Registry) Types() []entity.Type {
	out := make([]entity.Type, 0, len(entity.Types))
	for _, t := range entity.Types {
		if _, ok := r.defs[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// LegalStates returns the status set of a type; unknown types yield an empty set
func (r *Registry) LegalStates(t entity.Type) workflow.StateSet {
	def, ok := r.defs[t]
	if !ok {
		return workflow.StateSet{}
	}
	return def.builder.States()
}

// IsLegalState reports whether s belongs to t's status set
func (r *Registry) IsLegalState(t entity.Type, s workflow.State) bool {
	def, ok := r.defs[t]
	if !ok {
		return false
	}
	return def.builder.States().Contains(s)
}

// TerminalStates returns the terminal statuses of a type
func (r *Registry) TerminalStates(t entity.Type) workflow.StateSet {
	def, ok := r.defs[t]
	if !ok {
		return workflow.StateSet{}
	}
	return def.terminal.Clone()
}

// IsTerminal reports whether no ordinary transition leaves s
func (r *Registry) IsTerminal(t entity.Type, s workflow.State) bool {
	def, ok := r.defs[t]
	if !ok {
		return false
	}
	return def.terminal.Contains(s)
}

// InitialState returns the status a newly created document of type t starts in
func (r *Registry) InitialState(t entity.Type) workflow.State {
	def, ok := r.defs[t]
	if !ok {
		return ""
	}
	return def.initial
}

// LegalTransitions returns the (transition, target) edges out of from, ordered by transition name.
// Guarded edges are included and flagged.
func (r *Registry) LegalTransitions(t entity.Type, from workflow.State) []workflow.Transition {
	def, ok := r.defs[t]
	if !ok || !def.builder.States().Contains(from) {
		return []workflow.Transition{}
	}
	return def.builder.Build(from).PermittedTransitions()
}

// Resolve returns the status e reaches by firing trigger, evaluating guards against e.
// Any edge that does not exist or whose guard rejects yields ILLEGAL_TRANSITION.
func (r *Registry) Resolve(ctx context.Context, e *entity.Entity, trigger workflow.Trigger) (workflow.State, error) {
	def, ok := r.defs[e.Type]
	if !ok {
		return "", failure.InvalidRequest("unknown document type %q", e.Type)
	}
	if !def.builder.States().Contains(e.Status) {
		return "", failure.IllegalTransition("%s %s is in undefined status %q", e.Type, e.ID, e.Status)
	}

	machine := def.builder.Build(e.Status)
	if err := machine.Fire(WithSubject(ctx, e), trigger); err != nil {
		switch {
		case errors.Is(err, workflow.ErrGuardFailed):
			return "", failure.IllegalTransition("%s not yet applicable to %s %s in status %s", trigger, e.Type, e.ID, e.Status)
		case errors.Is(err, workflow.ErrInvalidTransition):
			return "", failure.IllegalTransition("%s is not legal for %s %s in status %s", trigger, e.Type, e.ID, e.Status)
		default:
			return "", err
		}
	}
	return machine.State(), nil
}

// dueDatePassed guards MARK_OVERDUE
func (r *Registry) dueDatePassed(ctx context.Context) bool {
	e := subjectFrom(ctx)
	if e == nil || e.DueDate == nil {
		return false
	}
	return r.now().After(*e.DueDate)
}
