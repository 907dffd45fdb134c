package entity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestType_IsValid(t *testing.T) {
	for _, typ := range Types {
		if !typ.IsValid() {
			t.Errorf("%s.IsValid() = false, want true", typ)
		}
	}
	if Type("QUOTATION").IsValid() {
		t.Error("QUOTATION.IsValid() = true, want false")
	}
}

func TestEntity_CloneIsIndependent(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	e := &Entity{
		ID:      "inv-1",
		Type:    TypeInvoice,
		Links:   []Link{{Type: TypeGoodsReceipt, ID: "gr-1"}},
		DueDate: &due,
	}

	c := e.Clone()
	c.Links[0].ID = "gr-2"
	*c.DueDate = due.Add(24 * time.Hour)

	if e.Links[0].ID != "gr-1" {
		t.Errorf("original link mutated through clone: %v", e.Links)
	}
	if !e.DueDate.Equal(due) {
		t.Errorf("original due date mutated through clone: %v", e.DueDate)
	}
}

func TestEntity_Links(t *testing.T) {
	e := &Entity{ID: "po-1", Type: TypePurchaseOrder}
	e.AddLink(Link{Type: TypePurchaseRequisition, ID: "pr-1"})
	e.AddLink(Link{Type: TypePurchaseRequisition, ID: "pr-1"})

	if len(e.Links) != 1 {
		t.Fatalf("AddLink() duplicated a reference: %v", e.Links)
	}
	if l, ok := e.LinkOf(TypePurchaseRequisition); !ok || l.ID != "pr-1" {
		t.Errorf("LinkOf(PR) = %v, %v", l, ok)
	}
	if _, ok := e.LinkOf(TypeTender); ok {
		t.Error("LinkOf(TENDER) found a link that does not exist")
	}
}

func TestMoney(t *testing.T) {
	m, err := NewMoney("1250.5", "EUR")
	if err != nil {
		t.Fatalf("NewMoney() error = %v", err)
	}
	if got := m.String(); got != "1250.50 EUR" {
		t.Errorf("String() = %q, want %q", got, "1250.50 EUR")
	}
	if !m.Neg().IsNegative() {
		t.Error("Neg() should be negative")
	}
	if !Zero("EUR").IsZero() {
		t.Error("Zero().IsZero() = false")
	}
	if _, err := NewMoney("12,50", "EUR"); err == nil {
		t.Error("NewMoney() accepted a malformed amount")
	}
}

func TestBudget_Balanced(t *testing.T) {
	tests := []struct {
		name      string
		available string
		want      bool
	}{
		{"full", "10000", true},
		{"empty", "0", true},
		{"negative", "-1", false},
		{"over total", "10000.01", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Budget{
				TotalAmount:     decimal.NewFromInt(10000),
				AvailableAmount: decimal.RequireFromString(tt.available),
			}
			if got := b.Balanced(); got != tt.want {
				t.Errorf("Balanced() = %v, want %v", got, tt.want)
			}
		})
	}
}
