package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/procurement-lifecycle/internal/application/ledger"
	"github.com/garyjia/procurement-lifecycle/internal/application/port"
	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/event"
	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
	"github.com/garyjia/procurement-lifecycle/internal/domain/permission"
	"github.com/garyjia/procurement-lifecycle/internal/domain/registry"
	domainwf "github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

// orchestratorImpl is the concrete implementation of Orchestrator.
// It holds no per-document state; every call reads fresh rows from the store.
type orchestratorImpl struct {
	store    port.Store
	registry *registry.Registry
	gate     *permission.Gate
	ledger   *ledger.Ledger
	notifier port.EventNotifier
	recorder Recorder
	logger   Logger

	maxAttempts  int
	exclusivity  BidExclusivity
	paymentTerms time.Duration
	now          func() time.Time
}

// Option configures the orchestrator
type Option func(*orchestratorImpl)

// WithNotifier sets the sink for domain events
func WithNotifier(n port.EventNotifier) Option {
	return func(o *orchestratorImpl) {
		o.notifier = n
	}
}

// WithRecorder sets the outcome recorder
func WithRecorder(r Recorder) Option {
	return func(o *orchestratorImpl) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithLogger sets the logger
func WithLogger(l Logger) Option {
	return func(o *orchestratorImpl) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxAttempts bounds how often a request is re-planned after losing a compare-and-swap
func WithMaxAttempts(n int) Option {
	return func(o *orchestratorImpl) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithBidExclusivity sets the sibling-bid policy applied on ACCEPT
func WithBidExclusivity(p BidExclusivity) Option {
	return func(o *orchestratorImpl) {
		o.exclusivity = p
	}
}

// WithPaymentTerms sets the due-date offset of derived invoices
func WithPaymentTerms(d time.Duration) Option {
	return func(o *orchestratorImpl) {
		o.paymentTerms = d
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(o *orchestratorImpl) {
		o.now = now
	}
}

// NewOrchestrator creates the lifecycle orchestrator
func NewOrchestrator(
	store port.Store,
	reg *registry.Registry,
	gate *permission.Gate,
	ldg *ledger.Ledger,
	opts ...Option,
) Orchestrator {
	o := &orchestratorImpl{
		store:        store,
		registry:     reg,
		gate:         gate,
		ledger:       ldg,
		recorder:     nopRecorder{},
		logger:       nopLogger{},
		maxAttempts:  ledger.DefaultMaxAttempts,
		exclusivity:  BidExclusivityBlock,
		paymentTerms: 30 * 24 * time.Hour,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// plan is everything one attempt will write, computed without mutating anything
type plan struct {
	result *TransitionResult
	batch  *port.CommitBatch
	holds  []*ledger.Reservation
	events []*event.Event
}

func newPlan() *plan {
	return &plan{
		result: &TransitionResult{},
		batch:  &port.CommitBatch{},
	}
}

func (p *plan) release(l *ledger.Ledger) {
	for _, h := range p.holds {
		l.Release(h)
	}
}

func (p *plan) settle(l *ledger.Ledger) {
	for _, h := range p.holds {
		l.Settle(h)
	}
}

// RequestTransition runs load, permission, idempotency, legality and effects, then commits atomically
func (o *orchestratorImpl) RequestTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	start := o.now()
	var typ entity.Type

	result, err := o.run(ctx, func() (*plan, error) {
		p, t, err := o.planTransition(ctx, req)
		if t != "" {
			typ = t
		}
		return p, err
	})

	o.recorder.ObserveTransition(typ, req.Transition, outcome(result, err), o.now().Sub(start))
	if err != nil {
		o.logger.Info("Transition refused",
			"entity_id", req.EntityID,
			"transition", req.Transition.String(),
			"actor_id", req.ActorID,
			"actor_role", req.ActorRole.String(),
			"attempt_id", req.AttemptID,
			"kind", failure.KindOf(err).String(),
			"error", err.Error())
		return nil, err
	}
	return result, nil
}

// DeriveInvoice raises a DRAFT invoice from an ACCEPTED goods receipt
func (o *orchestratorImpl) DeriveInvoice(ctx context.Context, req DeriveInvoiceRequest) (*TransitionResult, error) {
	start := o.now()

	result, err := o.run(ctx, func() (*plan, error) {
		return o.planInvoice(ctx, req)
	})

	o.recorder.ObserveTransition(entity.TypeGoodsReceipt, domainwf.TriggerRaiseInvoice, outcome(result, err), o.now().Sub(start))
	if err != nil {
		o.logger.Info("Invoice derivation refused",
			"goods_receipt_id", req.GoodsReceiptID,
			"actor_id", req.ActorID,
			"attempt_id", req.AttemptID,
			"kind", failure.KindOf(err).String(),
			"error", err.Error())
		return nil, err
	}
	return result, nil
}

// run re-plans and re-commits while the store reports lost compare-and-swaps
func (o *orchestratorImpl) run(ctx context.Context, planFn func() (*plan, error)) (*TransitionResult, error) {
	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		p, err := planFn()
		if err != nil {
			return nil, err
		}
		if p.result.Replayed {
			return p.result, nil
		}

		err = o.store.CommitAtomic(ctx, p.batch)
		if err == nil {
			p.settle(o.ledger)
			for _, evt := range p.events {
				if evt.Type == event.TypeBudgetDebited || evt.Type == event.TypeBudgetCredited {
					o.recorder.ObserveBudget(evt.Type.String(), p.result.Budget)
				}
			}
			o.publish(ctx, p.events)
			return p.result, nil
		}

		p.release(o.ledger)
		if !failure.IsRetryable(err) {
			return nil, fmt.Errorf("commit failed: %w", err)
		}
		lastErr = err
		o.logger.Info("Commit lost compare-and-swap, re-planning", "attempt", attempt, "error", err.Error())
	}
	return nil, fmt.Errorf("%d attempts exhausted: %w", o.maxAttempts, lastErr)
}

func (o *orchestratorImpl) planTransition(ctx context.Context, req TransitionRequest) (*plan, entity.Type, error) {
	if req.EntityID == "" || req.Transition == "" || req.AttemptID == "" || req.ActorID == "" {
		return nil, "", failure.InvalidRequest("entity id, transition, actor id and attempt id are required")
	}

	// 1. load
	current, err := o.store.Get(ctx, req.EntityID)
	if err != nil {
		return nil, "", err
	}

	// 2. permission, before anything that could reveal state
	if err := o.gate.Check(req.ActorRole, current.Type, req.Transition); err != nil {
		return nil, current.Type, err
	}

	// 3. idempotent replay
	if replay, err := o.replay(ctx, current, req.Transition, req.AttemptID); err != nil || replay != nil {
		if replay != nil {
			p := newPlan()
			p.result = replay
			return p, current.Type, nil
		}
		return nil, current.Type, err
	}

	// 4. legality
	to, err := o.registry.Resolve(ctx, current, req.Transition)
	if err != nil {
		return nil, current.Type, err
	}

	now := o.now()
	p := newPlan()

	next := current.Clone()
	next.Status = to
	next.Version = current.Version + 1
	next.UpdatedAt = now
	p.batch.Entities = append(p.batch.Entities, port.EntityWrite{Entity: next, ExpectedVersion: current.Version})

	record := &entity.TransitionRecord{
		EntityID:    current.ID,
		EntityType:  current.Type,
		Transition:  req.Transition,
		FromStatus:  current.Status,
		ToStatus:    to,
		ActorID:     req.ActorID,
		ActorRole:   req.ActorRole.String(),
		AttemptID:   req.AttemptID,
		BudgetDelta: decimal.Zero,
		Timestamp:   now,
	}
	p.batch.Records = append(p.batch.Records, record)
	p.result.Entity = next
	p.result.Records = append(p.result.Records, record)

	// 5. budget effects and derived documents
	if err := o.applyEffects(ctx, p, req, current, record); err != nil {
		p.release(o.ledger)
		return nil, current.Type, err
	}
	p.events = append([]*event.Event{transitionEvent(record)}, p.events...)

	return p, current.Type, nil
}

// replay returns the prior result when attemptID was already applied to e.
// The records are the ones originally written; the entity, derived documents and budget
// are read as they stand now. Reusing an attempt id for a different transition is rejected.
func (o *orchestratorImpl) replay(ctx context.Context, e *entity.Entity, trigger domainwf.Trigger, attemptID string) (*TransitionResult, error) {
	found, err := o.store.FindByAttempt(ctx, e.ID, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up attempt %s: %w", attemptID, err)
	}
	// creation records share the parent's attempt id and do not count as a use of it
	var records []*entity.TransitionRecord
	for _, r := range found {
		if r.Transition != domainwf.TriggerDerive {
			records = append(records, r)
		}
	}
	if len(records) == 0 {
		return nil, nil
	}

	for _, r := range records {
		if r.Transition != trigger {
			return nil, failure.InvalidRequest("attempt %s was already used for %s on %s", attemptID, r.Transition, e.ID)
		}
	}

	result := &TransitionResult{Entity: e, Records: records, Replayed: true}

	switch trigger {
	case domainwf.TriggerConvertToPO:
		result.Derived, err = o.store.ListLinked(ctx, e.ID, entity.TypePurchaseOrder)
	case domainwf.TriggerRaiseInvoice:
		result.Derived, err = o.store.ListLinked(ctx, e.ID, entity.TypeInvoice)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load derived documents of %s: %w", e.ID, err)
	}

	for _, r := range records {
		if r.BudgetID != "" {
			if b, err := o.store.GetBudget(ctx, r.BudgetID); err == nil {
				result.Budget = b
			}
		}
	}

	o.logger.Info("Transition replayed", "entity_id", e.ID, "transition", trigger.String(), "attempt_id", attemptID)
	return result, nil
}

func (o *orchestratorImpl) planInvoice(ctx context.Context, req DeriveInvoiceRequest) (*plan, error) {
	if req.GoodsReceiptID == "" || req.AttemptID == "" || req.ActorID == "" {
		return nil, failure.InvalidRequest("goods receipt id, actor id and attempt id are required")
	}

	gr, err := o.store.Get(ctx, req.GoodsReceiptID)
	if err != nil {
		return nil, err
	}
	if gr.Type != entity.TypeGoodsReceipt {
		return nil, failure.InvalidRequest("%s is a %s, not a goods receipt", gr.ID, gr.Type)
	}
	if err := o.gate.Check(req.ActorRole, gr.Type, domainwf.TriggerRaiseInvoice); err != nil {
		return nil, err
	}

	if replay, err := o.replay(ctx, gr, domainwf.TriggerRaiseInvoice, req.AttemptID); err != nil || replay != nil {
		if replay != nil {
			p := newPlan()
			p.result = replay
			return p, nil
		}
		return nil, err
	}

	if gr.Status != domainwf.StateAccepted {
		return nil, failure.IllegalTransition("goods receipt %s is %s, invoices can only be raised from %s", gr.ID, gr.Status, domainwf.StateAccepted)
	}

	existing, err := o.store.ListLinked(ctx, gr.ID, entity.TypeInvoice)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices of %s: %w", gr.ID, err)
	}
	for _, inv := range existing {
		if inv.Status != domainwf.StateCancelled && inv.Status != domainwf.StateRejected {
			return nil, failure.IllegalTransition("goods receipt %s is already invoiced by %s", gr.ID, inv.ID)
		}
	}

	budgetID := gr.BudgetID
	if budgetID == "" {
		trail, err := o.trail(ctx, gr)
		if err != nil {
			return nil, err
		}
		budgetID = trailBudget(trail)
	}

	now := o.now()
	p := newPlan()

	nextGR := gr.Clone()
	nextGR.Version = gr.Version + 1
	nextGR.UpdatedAt = now
	p.batch.Entities = append(p.batch.Entities, port.EntityWrite{Entity: nextGR, ExpectedVersion: gr.Version})

	raise := &entity.TransitionRecord{
		EntityID:    gr.ID,
		EntityType:  gr.Type,
		Transition:  domainwf.TriggerRaiseInvoice,
		FromStatus:  gr.Status,
		ToStatus:    gr.Status,
		ActorID:     req.ActorID,
		ActorRole:   req.ActorRole.String(),
		AttemptID:   req.AttemptID,
		BudgetDelta: decimal.Zero,
		Timestamp:   now,
	}
	p.batch.Records = append(p.batch.Records, raise)
	p.result.Entity = nextGR
	p.result.Records = append(p.result.Records, raise)
	p.events = append(p.events, transitionEvent(raise))

	inv := newDerivedInvoice(gr, budgetID, o.registry.InitialState(entity.TypeInvoice), now, o.paymentTerms)
	o.stageCreation(p, inv, raise)

	return p, nil
}

// stageCreation adds a derived document and its creation record to the plan
func (o *orchestratorImpl) stageCreation(p *plan, child *entity.Entity, cause *entity.TransitionRecord) {
	p.batch.Entities = append(p.batch.Entities, port.EntityWrite{Entity: child, Create: true})

	created := &entity.TransitionRecord{
		EntityID:    child.ID,
		EntityType:  child.Type,
		Transition:  domainwf.TriggerDerive,
		ToStatus:    child.Status,
		ActorID:     cause.ActorID,
		ActorRole:   cause.ActorRole,
		AttemptID:   cause.AttemptID,
		BudgetDelta: decimal.Zero,
		Timestamp:   cause.Timestamp,
	}
	p.batch.Records = append(p.batch.Records, created)
	p.result.Records = append(p.result.Records, created)
	p.result.Derived = append(p.result.Derived, child)

	p.events = append(p.events, event.NewEventWithCorrelation(event.TypeEntityDerived, child.ID, child.Type.String(), map[string]interface{}{
		"parent_id":   cause.EntityID,
		"parent_type": cause.EntityType.String(),
		"budget_id":   child.BudgetID,
		"amount":      child.Amount.Amount.String(),
		"currency":    child.Amount.Currency,
	}, cause.AttemptID).
		WithTransition(domainwf.TriggerDerive.String(), "", child.Status.String()).
		WithActor(cause.ActorID, cause.ActorRole).
		WithTimestamp(cause.Timestamp))
}

// Get returns the current snapshot of a document
func (o *orchestratorImpl) Get(ctx context.Context, entityID string) (*entity.Entity, error) {
	return o.store.Get(ctx, entityID)
}

// CurrentStatus returns the status of a document
func (o *orchestratorImpl) CurrentStatus(ctx context.Context, entityID string) (domainwf.State, error) {
	e, err := o.store.Get(ctx, entityID)
	if err != nil {
		return "", err
	}
	return e.Status, nil
}

// LegalTransitions returns the edges out of the document's current status
func (o *orchestratorImpl) LegalTransitions(ctx context.Context, entityID string) ([]domainwf.Transition, error) {
	e, err := o.store.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return o.registry.LegalTransitions(e.Type, e.Status), nil
}

// History returns the transition records of a document
func (o *orchestratorImpl) History(ctx context.Context, entityID string) ([]*entity.TransitionRecord, error) {
	if _, err := o.store.Get(ctx, entityID); err != nil {
		return nil, err
	}
	return o.store.ListByEntity(ctx, entityID)
}

// Budget returns the stored budget
func (o *orchestratorImpl) Budget(ctx context.Context, budgetID string) (*entity.Budget, error) {
	return o.store.GetBudget(ctx, budgetID)
}

// publish hands events to the notifier. A misbehaving notifier never affects the committed result.
func (o *orchestratorImpl) publish(ctx context.Context, events []*event.Event) {
	if o.notifier == nil {
		return
	}
	for _, evt := range events {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("Event notifier panicked", "event_id", evt.ID, "event_type", evt.Type.String(), "panic", fmt.Sprint(r))
				}
			}()
			o.notifier.Publish(ctx, evt)
		}()
	}
}

func transitionEvent(r *entity.TransitionRecord) *event.Event {
	payload := map[string]interface{}{}
	if r.BudgetID != "" {
		payload["budget_id"] = r.BudgetID
		payload["budget_delta"] = r.BudgetDelta.String()
	}
	return event.NewEventWithCorrelation(event.TypeEntityTransitioned, r.EntityID, r.EntityType.String(), payload, r.AttemptID).
		WithTransition(r.Transition.String(), r.FromStatus.String(), r.ToStatus.String()).
		WithActor(r.ActorID, r.ActorRole).
		WithTimestamp(r.Timestamp)
}

func outcome(result *TransitionResult, err error) string {
	switch {
	case err != nil:
		if k := failure.KindOf(err); k != "" {
			return strings.ToLower(k.String())
		}
		return "error"
	case result != nil && result.Replayed:
		return "replayed"
	default:
		return "applied"
	}
}
