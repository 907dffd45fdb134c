package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/event"
	domainwf "github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

func TestObserveTransition(t *testing.T) {
	m := New()

	m.ObserveTransition(entity.TypePurchaseOrder, domainwf.TriggerApprove, "applied", 3*time.Millisecond)
	m.ObserveTransition(entity.TypePurchaseOrder, domainwf.TriggerApprove, "applied", time.Millisecond)
	m.ObserveTransition(entity.TypePurchaseOrder, domainwf.TriggerApprove, "insufficient_funds", time.Millisecond)
	m.ObserveTransition("", domainwf.TriggerApprove, "not_found", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("PURCHASE_ORDER", "APPROVE", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("PURCHASE_ORDER", "APPROVE", "insufficient_funds")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("unknown", "APPROVE", "not_found")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestObserveBudget(t *testing.T) {
	m := New()
	b := &entity.Budget{ID: "B1", Currency: "EUR", AvailableAmount: decimal.RequireFromString("6000.50")}

	m.ObserveBudget(event.TypeBudgetDebited.String(), b)
	m.ObserveBudget(event.TypeBudgetCredited.String(), nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.budgetEvents.WithLabelValues("budget.debited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.budgetEvents.WithLabelValues("budget.credited")))
	assert.Equal(t, 6000.5, testutil.ToFloat64(m.budgetAvailable.WithLabelValues("B1", "EUR")))
}

func TestObserveDelivery(t *testing.T) {
	m := New()
	evt := event.NewEvent(event.TypeEntityTransitioned, "PO-1", "PURCHASE_ORDER", nil)

	m.ObserveDelivery("nats", evt, nil)
	m.ObserveDelivery("nats", evt, errors.New("timeout"))
	m.ObserveDelivery("lark", evt, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("nats", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("nats", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("lark", "ok")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveTransition(entity.TypeInvoice, domainwf.TriggerMarkOverdue, "applied", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `procurement_transitions_total{entity_type="INVOICE",outcome="applied",transition="MARK_OVERDUE"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
