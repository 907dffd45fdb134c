package entity

import (
	"time"

	"github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

// Type identifies a procurement document kind
type Type string

const (
	TypeTender              Type = "TENDER"
	TypeBid                 Type = "BID"
	TypePurchaseRequisition Type = "PURCHASE_REQUISITION"
	TypePurchaseOrder       Type = "PURCHASE_ORDER"
	TypeGoodsReceipt        Type = "GOODS_RECEIPT"
	TypeInvoice             Type = "INVOICE"
	TypePayment             Type = "PAYMENT"
	TypeContract            Type = "CONTRACT"
)

// Types lists every document kind in chain order
var Types = []Type{
	TypeTender,
	TypeBid,
	TypeContract,
	TypePurchaseRequisition,
	TypePurchaseOrder,
	TypeGoodsReceipt,
	TypeInvoice,
	TypePayment,
}

// String returns the string representation of the type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeTender,
		TypeBid,
		TypePurchaseRequisition,
		TypePurchaseOrder,
		TypeGoodsReceipt,
		TypeInvoice,
		TypePayment,
		TypeContract:
		return true
	default:
		return false
	}
}

// Link references a related document
type Link struct {
	Type Type   `json:"type"`
	ID   string `json:"id"`
}

// Entity is the lifecycle envelope shared by every procurement document
type Entity struct {
	ID             string         `json:"id"`
	Type           Type           `json:"type"`
	Status         workflow.State `json:"status"`
	Amount         Money          `json:"amount"`
	Links          []Link         `json:"links"`
	OwnerOrgUnitID string         `json:"owner_org_unit_id,omitempty"`
	BudgetID       string         `json:"budget_id,omitempty"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	Version        int64          `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so callers can stage changes without aliasing stored snapshots
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Links = append([]Link(nil), e.Links...)
	if e.DueDate != nil {
		d := *e.DueDate
		c.DueDate = &d
	}
	return &c
}

// LinkOf returns the first link of the given type
func (e *Entity) LinkOf(t Type) (Link, bool) {
	for _, l := range e.Links {
		if l.Type == t {
			return l, true
		}
	}
	return Link{}, false
}

// HasLink reports whether the entity references id
func (e *Entity) HasLink(id string) bool {
	for _, l := range e.Links {
		if l.ID == id {
			return true
		}
	}
	return false
}

// AddLink appends l unless an identical reference is already present
func (e *Entity) AddLink(l Link) {
	if e.HasLink(l.ID) {
		return
	}
	e.Links = append(e.Links, l)
}

// HasBudget reports whether the document consumes a budget
func (e *Entity) HasBudget() bool {
	return e.BudgetID != ""
}
