package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/procurement-lifecycle/internal/application/workflow"
	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/permission"
	domainwf "github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/export"
	"github.com/garyjia/procurement-lifecycle/pkg/utils"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"

	actorKey = "actor"
)

type actor struct {
	ID   string
	Role permission.Role
}

// requireActor rejects mutating requests that arrive without gateway identity headers
func requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := utils.SanitizeString(c.GetHeader(HeaderActorID))
		role := strings.ToUpper(utils.SanitizeString(c.GetHeader(HeaderActorRole)))
		if id == "" || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing " + HeaderActorID + " or " + HeaderActorRole + " header",
			})
			return
		}
		if err := utils.ValidateIdentifier("actor id", id); err != nil {
			badRequest(c, err.Error())
			c.Abort()
			return
		}
		c.Set(actorKey, actor{ID: id, Role: permission.Role(role)})
		c.Next()
	}
}

func actorFrom(c *gin.Context) actor {
	a, _ := c.Get(actorKey)
	v, _ := a.(actor)
	return v
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// TransitionRequestBody is the body of POST /entities/:id/transitions
type TransitionRequestBody struct {
	Transition string `json:"transition" binding:"required"`
	AttemptID  string `json:"attempt_id" binding:"required"`
}

// DeriveInvoiceBody is the body of POST /goods-receipts/:id/invoices
type DeriveInvoiceBody struct {
	AttemptID string `json:"attempt_id" binding:"required"`
}

// StatusResponse is the body of GET /entities/:id/status
type StatusResponse struct {
	EntityID string `json:"entity_id"`
	Status   string `json:"status"`
	Terminal bool   `json:"terminal"`
}

// TransitionView is a legal edge annotated for the caller
type TransitionView struct {
	Transition   string   `json:"transition"`
	ToStatus     string   `json:"to_status"`
	Guarded      bool     `json:"guarded,omitempty"`
	Permitted    bool     `json:"permitted"`
	AllowedRoles []string `json:"allowed_roles"`
}

// RegistryEdge is one row of a type's transition table
type RegistryEdge struct {
	From string `json:"from_status"`
	TransitionView
}

// RegistryResponse describes a document type's lifecycle
type RegistryResponse struct {
	Type           string         `json:"type"`
	InitialStatus  string         `json:"initial_status"`
	Statuses       []string       `json:"statuses"`
	TerminalStatus []string       `json:"terminal_statuses"`
	Transitions    []RegistryEdge `json:"transitions"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{Status: "healthy", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if h.deps.Health != nil {
		if err := h.deps.Health(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", "error", err)
			resp.Status = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: resp, Error: "storage unavailable"})
			return
		}
	}
	ok(c, resp)
}

// GetEntity handles GET /api/v1/entities/:id
func (h *Handlers) GetEntity(c *gin.Context) {
	e, err := h.deps.Orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get entity", err)
		return
	}
	ok(c, e)
}

// GetStatus handles GET /api/v1/entities/:id/status
func (h *Handlers) GetStatus(c *gin.Context) {
	e, err := h.deps.Orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get status", err)
		return
	}
	ok(c, StatusResponse{
		EntityID: e.ID,
		Status:   e.Status.String(),
		Terminal: h.deps.Registry.IsTerminal(e.Type, e.Status),
	})
}

// ListTransitions handles GET /api/v1/entities/:id/transitions. The optional
// X-Actor-Role header marks which edges the caller may fire.
func (h *Handlers) ListTransitions(c *gin.Context) {
	ctx := c.Request.Context()
	e, err := h.deps.Orchestrator.Get(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, "list transitions", err)
		return
	}
	legal, err := h.deps.Orchestrator.LegalTransitions(ctx, e.ID)
	if err != nil {
		h.fail(c, "list transitions", err)
		return
	}

	role := permission.Role(strings.ToUpper(utils.SanitizeString(c.GetHeader(HeaderActorRole))))
	views := make([]TransitionView, 0, len(legal))
	for _, t := range legal {
		views = append(views, h.view(e.Type, t, role))
	}
	ok(c, views)
}

// RequestTransition handles POST /api/v1/entities/:id/transitions
func (h *Handlers) RequestTransition(c *gin.Context) {
	var body TransitionRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := utils.ValidateIdentifier("attempt id", body.AttemptID); err != nil {
		badRequest(c, err.Error())
		return
	}

	a := actorFrom(c)
	result, err := h.deps.Orchestrator.RequestTransition(c.Request.Context(), workflow.TransitionRequest{
		EntityID:   c.Param("id"),
		Transition: domainwf.Trigger(strings.ToUpper(strings.TrimSpace(body.Transition))),
		ActorID:    a.ID,
		ActorRole:  a.Role,
		AttemptID:  body.AttemptID,
	})
	if err != nil {
		h.fail(c, "request transition", err)
		return
	}
	ok(c, result)
}

// DeriveInvoice handles POST /api/v1/goods-receipts/:id/invoices
func (h *Handlers) DeriveInvoice(c *gin.Context) {
	var body DeriveInvoiceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := utils.ValidateIdentifier("attempt id", body.AttemptID); err != nil {
		badRequest(c, err.Error())
		return
	}

	a := actorFrom(c)
	result, err := h.deps.Orchestrator.DeriveInvoice(c.Request.Context(), workflow.DeriveInvoiceRequest{
		GoodsReceiptID: c.Param("id"),
		ActorID:        a.ID,
		ActorRole:      a.Role,
		AttemptID:      body.AttemptID,
	})
	if err != nil {
		h.fail(c, "derive invoice", err)
		return
	}
	ok(c, result)
}

// GetHistory handles GET /api/v1/entities/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	records, err := h.deps.Orchestrator.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get history", err)
		return
	}
	if records == nil {
		records = []*entity.TransitionRecord{}
	}
	ok(c, records)
}

// ExportHistory handles GET /api/v1/entities/:id/history.xlsx
func (h *Handlers) ExportHistory(c *gin.Context) {
	ctx := c.Request.Context()
	e, err := h.deps.Orchestrator.Get(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, "export history", err)
		return
	}
	records, err := h.deps.Orchestrator.History(ctx, e.ID)
	if err != nil {
		h.fail(c, "export history", err)
		return
	}

	c.Header("Content-Type", export.ContentType)
	c.Header("Content-Disposition", "attachment; filename="+export.Filename(e))
	c.Status(http.StatusOK)
	if err := h.deps.Exporter.Write(c.Writer, e, records); err != nil {
		h.logger.Error("Failed to write history workbook", "entity_id", e.ID, "error", err)
	}
}

// GetBudget handles GET /api/v1/budgets/:id
func (h *Handlers) GetBudget(c *gin.Context) {
	b, err := h.deps.Orchestrator.Budget(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get budget", err)
		return
	}
	ok(c, b)
}

// GetRegistry handles GET /api/v1/registry/:type
func (h *Handlers) GetRegistry(c *gin.Context) {
	typ := entity.Type(strings.ToUpper(c.Param("type")))
	if !typ.IsValid() {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "unknown document type " + c.Param("type")})
		return
	}

	role := permission.Role(strings.ToUpper(utils.SanitizeString(c.GetHeader(HeaderActorRole))))
	resp := RegistryResponse{
		Type:           typ.String(),
		InitialStatus:  h.deps.Registry.InitialState(typ).String(),
		Statuses:       stateNames(h.deps.Registry.LegalStates(typ).Slice()),
		TerminalStatus: stateNames(h.deps.Registry.TerminalStates(typ).Slice()),
		Transitions:    []RegistryEdge{},
	}
	for _, from := range h.deps.Registry.LegalStates(typ).Slice() {
		for _, t := range h.deps.Registry.LegalTransitions(typ, from) {
			resp.Transitions = append(resp.Transitions, RegistryEdge{From: from.String(), TransitionView: h.view(typ, t, role)})
		}
	}
	ok(c, resp)
}

func (h *Handlers) view(typ entity.Type, t domainwf.Transition, role permission.Role) TransitionView {
	roles := h.deps.Gate.AllowedRoles(typ, t.Trigger)
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.String())
	}
	return TransitionView{
		Transition:   t.Trigger.String(),
		ToStatus:     t.ToState.String(),
		Guarded:      t.Guarded,
		Permitted:    h.deps.Gate.Allowed(role, typ, t.Trigger),
		AllowedRoles: names,
	}
}

func stateNames(states []domainwf.State) []string {
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, s.String())
	}
	return out
}
