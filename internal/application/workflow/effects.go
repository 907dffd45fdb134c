package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/garyjia/procurement-lifecycle/internal/application/port"
	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/event"
	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
	domainwf "github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

// maxTrailDepth bounds link traversal
const maxTrailDepth = 8

// statuses in which a purchase order has already debited its budget
var committedOrderStates = domainwf.NewStateSet(domainwf.StateApproved, domainwf.StateSentToVendor, domainwf.StateReceived)

// bid statuses still open for a decision
var openBidStates = domainwf.NewStateSet(domainwf.StateSubmitted, domainwf.StateUnderReview, domainwf.StateEvaluated)

func (o *orchestratorImpl) applyEffects(ctx context.Context, p *plan, req TransitionRequest, current *entity.Entity, record *entity.TransitionRecord) error {
	switch {
	case current.Type == entity.TypePurchaseRequisition && req.Transition == domainwf.TriggerApprove:
		return o.checkFunds(ctx, current)

	case current.Type == entity.TypePurchaseRequisition && req.Transition == domainwf.TriggerConvertToPO:
		po := newDerivedPurchaseOrder(current, o.registry.InitialState(entity.TypePurchaseOrder), record.Timestamp)
		o.stageCreation(p, po, record)
		return nil

	case current.Type == entity.TypePurchaseOrder && req.Transition == domainwf.TriggerApprove:
		if !current.HasBudget() || !current.Amount.Amount.IsPositive() {
			return nil
		}
		return o.stageDebit(ctx, p, record, current.BudgetID, current.Amount)

	case current.Type == entity.TypePurchaseOrder && req.Transition == domainwf.TriggerCancel:
		if !committedOrderStates.Contains(current.Status) || !current.HasBudget() || !current.Amount.Amount.IsPositive() {
			return nil
		}
		return o.stageCredit(ctx, p, record, current.BudgetID, current.Amount)

	case current.Type == entity.TypePayment && req.Transition == domainwf.TriggerProcess:
		return o.paymentDebit(ctx, p, record, current)

	case current.Type == entity.TypeBid && req.Transition == domainwf.TriggerAccept:
		return o.enforceBidExclusivity(ctx, p, req, current)
	}
	return nil
}

// checkFunds reserves and immediately releases, so approval fails early without debiting
func (o *orchestratorImpl) checkFunds(ctx context.Context, e *entity.Entity) error {
	if !e.HasBudget() || !e.Amount.Amount.IsPositive() {
		return nil
	}
	res, err := o.ledger.Reserve(ctx, e.BudgetID, e.Amount)
	if err != nil {
		return err
	}
	o.ledger.Release(res)
	return nil
}

func (o *orchestratorImpl) stageDebit(ctx context.Context, p *plan, record *entity.TransitionRecord, budgetID string, amount entity.Money) error {
	res, err := o.ledger.Reserve(ctx, budgetID, amount)
	if err != nil {
		return err
	}
	p.holds = append(p.holds, res)

	w, err := o.ledger.Stage(res)
	if err != nil {
		return err
	}
	p.batch.Budgets = append(p.batch.Budgets, w)
	o.attachBudget(p, record, w, amount.Neg(), event.TypeBudgetDebited)
	return nil
}

func (o *orchestratorImpl) stageCredit(ctx context.Context, p *plan, record *entity.TransitionRecord, budgetID string, amount entity.Money) error {
	w, err := o.ledger.StageCredit(ctx, budgetID, amount)
	if err != nil {
		return err
	}
	p.batch.Budgets = append(p.batch.Budgets, w)
	o.attachBudget(p, record, w, amount, event.TypeBudgetCredited)
	return nil
}

func (o *orchestratorImpl) attachBudget(p *plan, record *entity.TransitionRecord, w port.BudgetWrite, delta entity.Money, kind event.Type) {
	record.BudgetID = w.Budget.ID
	record.BudgetDelta = delta.Amount
	p.result.Budget = w.Budget

	p.events = append(p.events, event.NewEventWithCorrelation(kind, w.Budget.ID, "BUDGET", map[string]interface{}{
		"entity_id":        record.EntityID,
		"entity_type":      record.EntityType.String(),
		"delta":            delta.Amount.String(),
		"currency":         delta.Currency,
		"available_amount": w.Budget.AvailableAmount.String(),
		"total_amount":     w.Budget.TotalAmount.String(),
		"status":           w.Budget.Status.String(),
	}, record.AttemptID).
		WithActor(record.ActorID, record.ActorRole).
		WithTimestamp(record.Timestamp))
}

// paymentDebit charges the payment against its trail budget unless a purchase order
// on the same budget has already debited it
func (o *orchestratorImpl) paymentDebit(ctx context.Context, p *plan, record *entity.TransitionRecord, payment *entity.Entity) error {
	if !payment.Amount.Amount.IsPositive() {
		return nil
	}

	trail, err := o.trail(ctx, payment)
	if err != nil {
		return err
	}

	budgetID := payment.BudgetID
	if budgetID == "" {
		budgetID = trailBudget(trail)
	}
	if budgetID == "" {
		return nil
	}

	for _, e := range trail {
		if e.Type == entity.TypePurchaseOrder && e.BudgetID == budgetID && committedOrderStates.Contains(e.Status) {
			record.BudgetID = budgetID
			return nil
		}
	}

	return o.stageDebit(ctx, p, record, budgetID, payment.Amount)
}

// enforceBidExclusivity applies the configured sibling policy for bids on the same tender
func (o *orchestratorImpl) enforceBidExclusivity(ctx context.Context, p *plan, req TransitionRequest, bid *entity.Entity) error {
	if o.exclusivity == BidExclusivityAllow {
		return nil
	}
	tender, ok := bid.LinkOf(entity.TypeTender)
	if !ok {
		return nil
	}

	siblings, err := o.store.ListLinked(ctx, tender.ID, entity.TypeBid)
	if err != nil {
		return fmt.Errorf("failed to list bids of tender %s: %w", tender.ID, err)
	}

	for _, s := range siblings {
		if s.ID != bid.ID && s.Status == domainwf.StateAccepted {
			return failure.IllegalTransition("tender %s already has accepted bid %s", tender.ID, s.ID)
		}
	}

	autoReject := o.exclusivity == BidExclusivityAutoReject
	now := p.result.Records[0].Timestamp
	for _, s := range siblings {
		if s.ID == bid.ID {
			continue
		}
		if !autoReject || !openBidStates.Contains(s.Status) {
			p.batch.Entities = append(p.batch.Entities, guardWrite(s))
			continue
		}
		to, err := o.registry.Resolve(ctx, s, domainwf.TriggerReject)
		if err != nil {
			return err
		}

		next := s.Clone()
		next.Status = to
		next.Version = s.Version + 1
		next.UpdatedAt = now
		p.batch.Entities = append(p.batch.Entities, port.EntityWrite{Entity: next, ExpectedVersion: s.Version})

		rejected := &entity.TransitionRecord{
			EntityID:    s.ID,
			EntityType:  s.Type,
			Transition:  domainwf.TriggerReject,
			FromStatus:  s.Status,
			ToStatus:    to,
			ActorID:     req.ActorID,
			ActorRole:   req.ActorRole.String(),
			AttemptID:   req.AttemptID,
			BudgetDelta: decimal.Zero,
			Timestamp:   now,
		}
		p.batch.Records = append(p.batch.Records, rejected)
		p.result.Records = append(p.result.Records, rejected)
		p.result.Derived = append(p.result.Derived, next)
		p.events = append(p.events, transitionEvent(rejected).WithPayload("cause", bid.ID))
	}
	return nil
}

// guardWrite rewrites e unchanged. The commit then fails if e moved since it was read,
// so a decision taken from e cannot race a concurrent change to it.
func guardWrite(e *entity.Entity) port.EntityWrite {
	return port.EntityWrite{Entity: e, ExpectedVersion: e.Version}
}

// trail walks links breadth-first and returns every reachable document, nearest first
func (o *orchestratorImpl) trail(ctx context.Context, start *entity.Entity) ([]*entity.Entity, error) {
	visited := map[string]bool{start.ID: true}
	queue := append([]entity.Link(nil), start.Links...)
	var out []*entity.Entity

	for depth := 0; len(queue) > 0 && depth < maxTrailDepth; depth++ {
		var next []entity.Link
		for _, l := range queue {
			if visited[l.ID] {
				continue
			}
			visited[l.ID] = true

			e, err := o.store.Get(ctx, l.ID)
			if errors.Is(err, failure.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to load linked document %s: %w", l.ID, err)
			}
			out = append(out, e)
			next = append(next, e.Links...)
		}
		queue = next
	}
	return out, nil
}

// trailBudget picks the budget of the nearest document that carries one
func trailBudget(trail []*entity.Entity) string {
	for _, e := range trail {
		if e.HasBudget() {
			return e.BudgetID
		}
	}
	return ""
}
