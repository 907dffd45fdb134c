package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	domainwf "github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

// newDerivedPurchaseOrder builds the purchase order a requisition converts into.
// It links to the requisition first, then inherits the requisition's own links.
func newDerivedPurchaseOrder(pr *entity.Entity, initial domainwf.State, now time.Time) *entity.Entity {
	po := &entity.Entity{
		ID:             uuid.New().String(),
		Type:           entity.TypePurchaseOrder,
		Status:         initial,
		Amount:         pr.Amount,
		OwnerOrgUnitID: pr.OwnerOrgUnitID,
		BudgetID:       pr.BudgetID,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	po.AddLink(entity.Link{Type: pr.Type, ID: pr.ID})
	for _, l := range pr.Links {
		po.AddLink(l)
	}
	return po
}

// newDerivedInvoice builds a DRAFT invoice for an accepted goods receipt
func newDerivedInvoice(gr *entity.Entity, budgetID string, initial domainwf.State, now time.Time, terms time.Duration) *entity.Entity {
	due := now.Add(terms)
	inv := &entity.Entity{
		ID:             uuid.New().String(),
		Type:           entity.TypeInvoice,
		Status:         initial,
		Amount:         gr.Amount,
		OwnerOrgUnitID: gr.OwnerOrgUnitID,
		BudgetID:       budgetID,
		DueDate:        &due,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inv.AddLink(entity.Link{Type: gr.Type, ID: gr.ID})
	for _, l := range gr.Links {
		inv.AddLink(l)
	}
	return inv
}
