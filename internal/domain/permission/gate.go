// Package permission answers, independently of document state, whether a role may fire a transition.
package permission

import (
	"sort"

	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
	wf "github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

// Role is an actor role supplied by the caller's session layer
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleBuyer   Role = "BUYER"
	RoleManager Role = "MANAGER"
	RoleFinance Role = "FINANCE"
	RoleVendor  Role = "VENDOR"
	RoleUser    Role = "USER"
)

// Roles lists every known role
var Roles = []Role{RoleAdmin, RoleBuyer, RoleManager, RoleFinance, RoleVendor, RoleUser}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is one of the defined constants
func (r Role) IsValid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

type key struct {
	role    Role
	typ     entity.Type
	trigger wf.Trigger
}

// Gate is the (role, type, transition) allow table. Anything not granted is denied.
type Gate struct {
	grants map[key]bool
}

// NewGate builds the default procurement permission table
func NewGate() *Gate {
	g := &Gate{grants: make(map[key]bool)}

	approvers := []Role{RoleManager, RoleFinance, RoleAdmin}
	treasury := []Role{RoleFinance, RoleAdmin}

	g.grant(entity.TypeTender, []Role{RoleBuyer, RoleManager, RoleAdmin}, wf.TriggerPublish, wf.TriggerClose, wf.TriggerCancel)
	g.grant(entity.TypeTender, []Role{RoleManager, RoleAdmin}, wf.TriggerAward)

	g.grant(entity.TypeBid, []Role{RoleVendor}, wf.TriggerSubmit, wf.TriggerWithdraw)
	g.grant(entity.TypeBid, []Role{RoleBuyer, RoleManager, RoleAdmin}, wf.TriggerStartReview, wf.TriggerEvaluate)
	g.grant(entity.TypeBid, []Role{RoleManager, RoleAdmin}, wf.TriggerAccept, wf.TriggerReject)

	g.grant(entity.TypePurchaseRequisition, []Role{RoleBuyer, RoleUser}, wf.TriggerSubmit)
	g.grant(entity.TypePurchaseRequisition, []Role{RoleBuyer, RoleUser, RoleManager, RoleAdmin}, wf.TriggerCancel)
	g.grant(entity.TypePurchaseRequisition, approvers, wf.TriggerApprove, wf.TriggerReject)
	g.grant(entity.TypePurchaseRequisition, []Role{RoleBuyer, RoleAdmin}, wf.TriggerConvertToPO)

	g.grant(entity.TypePurchaseOrder, []Role{RoleBuyer}, wf.TriggerSubmit)
	g.grant(entity.TypePurchaseOrder, []Role{RoleBuyer, RoleManager, RoleAdmin}, wf.TriggerCancel)
	g.grant(entity.TypePurchaseOrder, approvers, wf.TriggerApprove, wf.TriggerReject)
	g.grant(entity.TypePurchaseOrder, []Role{RoleBuyer, RoleAdmin}, wf.TriggerSendToVendor)
	g.grant(entity.TypePurchaseOrder, []Role{RoleBuyer, RoleUser, RoleAdmin}, wf.TriggerReceive)

	g.grant(entity.TypeGoodsReceipt, []Role{RoleBuyer, RoleUser, RoleManager, RoleAdmin},
		wf.TriggerInspect, wf.TriggerMarkPartial, wf.TriggerAccept, wf.TriggerReject)
	g.grant(entity.TypeGoodsReceipt, []Role{RoleVendor, RoleFinance, RoleAdmin}, wf.TriggerRaiseInvoice)

	g.grant(entity.TypeInvoice, []Role{RoleVendor, RoleFinance}, wf.TriggerSubmit)
	g.grant(entity.TypeInvoice, []Role{RoleVendor, RoleFinance, RoleAdmin}, wf.TriggerCancel)
	g.grant(entity.TypeInvoice, approvers, wf.TriggerApprove, wf.TriggerReject)
	g.grant(entity.TypeInvoice, []Role{RoleBuyer, RoleManager, RoleFinance, RoleAdmin}, wf.TriggerDispute)
	g.grant(entity.TypeInvoice, treasury, wf.TriggerResolveDispute, wf.TriggerMarkPaid, wf.TriggerMarkOverdue)

	g.grant(entity.TypePayment, approvers, wf.TriggerApprove)
	g.grant(entity.TypePayment, treasury, wf.TriggerProcess, wf.TriggerFail, wf.TriggerCancel)

	g.grant(entity.TypeContract, []Role{RoleManager, RoleAdmin},
		wf.TriggerActivate, wf.TriggerSuspend, wf.TriggerResume, wf.TriggerTerminate)
	g.grant(entity.TypeContract, []Role{RoleBuyer, RoleManager, RoleAdmin}, wf.TriggerComplete)

	return g
}

func (g *Gate) grant(typ entity.Type, roles []Role, triggers ...wf.Trigger) {
	for _, r := range roles {
		for _, t := range triggers {
			g.grants[key{role: r, typ: typ, trigger: t}] = true
		}
	}
}

// Allowed reports whether role may fire trigger on documents of type typ
func (g *Gate) Allowed(role Role, typ entity.Type, trigger wf.Trigger) bool {
	return g.grants[key{role: role, typ: typ, trigger: trigger}]
}

// Check returns PERMISSION_DENIED when the combination is not granted
func (g *Gate) Check(role Role, typ entity.Type, trigger wf.Trigger) error {
	if !role.IsValid() {
		return failure.PermissionDenied("unknown role %q", role)
	}
	if !g.Allowed(role, typ, trigger) {
		return failure.PermissionDenied("role %s may not %s a %s", role, trigger, typ)
	}
	return nil
}

// AllowedRoles lists the roles granted trigger on typ, in declaration order
func (g *Gate) AllowedRoles(typ entity.Type, trigger wf.Trigger) []Role {
	var out []Role
	for _, r := range Roles {
		if g.Allowed(r, typ, trigger) {
			out = append(out, r)
		}
	}
	return out
}

// Permitted lists the triggers role holds on typ, sorted
func (g *Gate) Permitted(role Role, typ entity.Type) []wf.Trigger {
	var out []wf.Trigger
	for k, ok := range g.grants {
		if ok && k.role == role && k.typ == typ {
			out = append(out, k.trigger)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
