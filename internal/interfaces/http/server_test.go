package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/application/ledger"
	"github.com/garyjia/procurement-lifecycle/internal/application/workflow"
	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
	"github.com/garyjia/procurement-lifecycle/internal/domain/permission"
	"github.com/garyjia/procurement-lifecycle/internal/domain/registry"
	domainwf "github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/export"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/metrics"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/persistence/memory"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type apiResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	Kind      string          `json:"kind"`
	Retryable bool            `json:"retryable"`
	Shortfall string          `json:"shortfall"`
}

type testServer struct {
	server *Server
	store  *memory.Store
	orch   workflow.Orchestrator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	m := metrics.New()
	reg := registry.New()
	gate := permission.NewGate()
	orch := workflow.NewOrchestrator(store, reg, gate, ledger.New(store), workflow.WithRecorder(m))

	srv := NewServer(DefaultServerConfig(), Dependencies{
		Orchestrator: orch,
		Registry:     reg,
		Gate:         gate,
		Exporter:     export.NewHistoryExporter(zap.NewNop()),
		Metrics:      m.Handler(),
	}, nopLogger{})

	ctx := context.Background()
	require.NoError(t, store.CreateBudget(ctx, &entity.Budget{
		ID:              "B1",
		FiscalYear:      2026,
		Currency:        "EUR",
		TotalAmount:     decimal.NewFromInt(10000),
		AvailableAmount: decimal.NewFromInt(10000),
		Status:          entity.BudgetStatusActive,
	}))
	for id, amount := range map[string]string{"P1": "4000", "P2": "7000"} {
		require.NoError(t, store.Create(ctx, &entity.Entity{
			ID:       id,
			Type:     entity.TypePurchaseOrder,
			Status:   domainwf.StatePendingApproval,
			Amount:   entity.MustMoney(amount, "EUR"),
			BudgetID: "B1",
		}))
	}
	return &testServer{server: srv, store: store, orch: orch}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func as(id, role string) map[string]string {
	return map[string]string{HeaderActorID: id, HeaderActorRole: role}
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode(t, w).Success)

	ts.server.deps.Health = func(context.Context) error { return errors.New("database is locked") }
	ts.server = NewServer(DefaultServerConfig(), ts.server.deps, nopLogger{})
	w = ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestTransition_ApproveAndReplay(t *testing.T) {
	ts := newTestServer(t)
	body := TransitionRequestBody{Transition: "approve", AttemptID: "att-1"}

	w := ts.do(t, http.MethodPost, "/api/v1/entities/P1/transitions", body, as("u-mgr", "manager"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result workflow.TransitionResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &result))
	assert.Equal(t, domainwf.StateApproved, result.Entity.Status)
	assert.False(t, result.Replayed)
	require.NotNil(t, result.Budget)
	assert.True(t, decimal.NewFromInt(6000).Equal(result.Budget.AvailableAmount))

	w = ts.do(t, http.MethodPost, "/api/v1/entities/P1/transitions", body, as("u-mgr", "MANAGER"))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &result))
	assert.True(t, result.Replayed)

	w = ts.do(t, http.MethodGet, "/api/v1/budgets/B1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var b entity.Budget
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &b))
	assert.True(t, decimal.NewFromInt(6000).Equal(b.AvailableAmount))
}

func TestRequestTransition_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/entities/P1/transitions",
		TransitionRequestBody{Transition: "APPROVE", AttemptID: "att-1"}, as("u-mgr", "MANAGER"))
	require.Equal(t, http.StatusOK, w.Code)

	tests := []struct {
		name      string
		path      string
		body      interface{}
		headers   map[string]string
		wantCode  int
		wantKind  string
		shortfall string
	}{
		{"insufficient funds", "/api/v1/entities/P2/transitions", TransitionRequestBody{"APPROVE", "att-2"}, as("u-mgr", "MANAGER"),
			http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "1000"},
		{"permission denied", "/api/v1/entities/P2/transitions", TransitionRequestBody{"APPROVE", "att-3"}, as("v-1", "VENDOR"),
			http.StatusForbidden, "PERMISSION_DENIED", ""},
		{"illegal transition", "/api/v1/entities/P1/transitions", TransitionRequestBody{"RECEIVE", "att-4"}, as("u-1", "BUYER"),
			http.StatusConflict, "ILLEGAL_TRANSITION", ""},
		{"not found", "/api/v1/entities/P9/transitions", TransitionRequestBody{"APPROVE", "att-5"}, as("u-mgr", "MANAGER"),
			http.StatusNotFound, "NOT_FOUND", ""},
		{"attempt reused", "/api/v1/entities/P1/transitions", TransitionRequestBody{"SEND_TO_VENDOR", "att-1"}, as("u-1", "BUYER"),
			http.StatusBadRequest, "INVALID_REQUEST", ""},
		{"missing body field", "/api/v1/entities/P1/transitions", map[string]string{"transition": "APPROVE"}, as("u-mgr", "MANAGER"),
			http.StatusBadRequest, "INVALID_REQUEST", ""},
		{"malformed attempt", "/api/v1/entities/P1/transitions", TransitionRequestBody{"APPROVE", "bad attempt"}, as("u-mgr", "MANAGER"),
			http.StatusBadRequest, "INVALID_REQUEST", ""},
		{"missing actor", "/api/v1/entities/P1/transitions", TransitionRequestBody{"APPROVE", "att-6"}, nil,
			http.StatusUnauthorized, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, tt.path, tt.body, tt.headers)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			resp := decode(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.Equal(t, tt.shortfall, resp.Shortfall)
		})
	}

	// refused requests leave the document untouched
	p2, err := ts.store.Get(context.Background(), "P2")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePendingApproval, p2.Status)
}

type failingOrchestrator struct {
	workflow.Orchestrator
	err error
}

func (f failingOrchestrator) RequestTransition(ctx context.Context, req workflow.TransitionRequest) (*workflow.TransitionResult, error) {
	return nil, f.err
}

func TestRequestTransition_RetryableAndInternal(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name          string
		err           error
		wantCode      int
		wantRetryable bool
		wantError     string
	}{
		{"concurrent modification", failure.ConcurrentModification("entity P1 changed"), http.StatusConflict, true, "entity P1 changed"},
		{"budget unavailable", failure.BudgetUnavailable("budget B1 is EXPIRED"), http.StatusUnprocessableEntity, false, "budget B1 is EXPIRED"},
		{"storage fault", errors.New("disk I/O error"), http.StatusInternalServerError, false, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := ts.server.deps
			deps.Orchestrator = failingOrchestrator{Orchestrator: ts.orch, err: tt.err}
			srv := &testServer{server: NewServer(DefaultServerConfig(), deps, nopLogger{})}

			w := srv.do(t, http.MethodPost, "/api/v1/entities/P1/transitions",
				TransitionRequestBody{Transition: "APPROVE", AttemptID: "att-1"}, as("u-mgr", "MANAGER"))
			assert.Equal(t, tt.wantCode, w.Code)
			resp := decode(t, w)
			assert.Equal(t, tt.wantRetryable, resp.Retryable)
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}
}

func TestReadEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/entities/P1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var e entity.Entity
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &e))
	assert.Equal(t, entity.TypePurchaseOrder, e.Type)

	w = ts.do(t, http.MethodGet, "/api/v1/entities/P1/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &status))
	assert.Equal(t, StatusResponse{EntityID: "P1", Status: "PENDING_APPROVAL"}, status)

	w = ts.do(t, http.MethodGet, "/api/v1/entities/P1/transitions", nil, map[string]string{HeaderActorRole: "buyer"})
	require.Equal(t, http.StatusOK, w.Code)
	var views []TransitionView
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &views))
	require.Len(t, views, 2)
	assert.Equal(t, "APPROVE", views[0].Transition)
	assert.False(t, views[0].Permitted)
	assert.Equal(t, []string{"ADMIN", "MANAGER", "FINANCE"}, views[0].AllowedRoles)
	assert.Equal(t, "REJECT", views[1].Transition)

	w = ts.do(t, http.MethodGet, "/api/v1/entities/P1/history", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", string(decode(t, w).Data))

	w = ts.do(t, http.MethodGet, "/api/v1/entities/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportHistory(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/entities/P1/transitions",
		TransitionRequestBody{Transition: "APPROVE", AttemptID: "att-1"}, as("u-mgr", "MANAGER"))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/entities/P1/history.xlsx", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "PURCHASE_ORDER-P1-history.xlsx")

	f, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.HistorySheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "APPROVE", rows[1][2])
}

func TestGetRegistry(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/registry/invoice", nil, map[string]string{HeaderActorRole: "FINANCE"})
	require.Equal(t, http.StatusOK, w.Code)
	var reg RegistryResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &reg))
	assert.Equal(t, "INVOICE", reg.Type)
	assert.Equal(t, "DRAFT", reg.InitialStatus)
	assert.Contains(t, reg.Statuses, "OVERDUE")
	assert.Contains(t, reg.TerminalStatus, "PAID")

	var overdue *RegistryEdge
	for i := range reg.Transitions {
		if reg.Transitions[i].Transition == "MARK_OVERDUE" {
			overdue = &reg.Transitions[i]
		}
	}
	require.NotNil(t, overdue)
	assert.Equal(t, "APPROVED", overdue.From)
	assert.True(t, overdue.Guarded)
	assert.True(t, overdue.Permitted)

	w = ts.do(t, http.MethodGet, "/api/v1/registry/voucher", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/v1/entities/P2/transitions",
		TransitionRequestBody{Transition: "APPROVE", AttemptID: "att-2"}, as("u-mgr", "MANAGER"))

	w := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `procurement_transitions_total{entity_type="PURCHASE_ORDER",outcome="insufficient_funds",transition="APPROVE"} 1`), body)
}
