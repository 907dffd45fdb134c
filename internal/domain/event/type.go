package event

// Type identifies the type of domain event
type Type string

const (
	TypeEntityTransitioned Type = "entity.transitioned"
	TypeEntityDerived      Type = "entity.derived"
	TypeBudgetDebited      Type = "budget.debited"
	TypeBudgetCredited     Type = "budget.credited"
)

// Types lists every event type
var Types = []Type{
	TypeEntityTransitioned,
	TypeEntityDerived,
	TypeBudgetDebited,
	TypeBudgetCredited,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeEntityTransitioned,
		TypeEntityDerived,
		TypeBudgetDebited,
		TypeBudgetCredited:
		return true
	default:
		return false
	}
}
