package workflow

import "sort"

// State represents a lifecycle status of a procurement document
type State string

const (
	StateDraft           State = "DRAFT"
	StatePublished       State = "PUBLISHED"
	StateClosed          State = "CLOSED"
	StateAwarded         State = "AWARDED"
	StateCancelled       State = "CANCELLED"
	StateSubmitted       State = "SUBMITTED"
	StateUnderReview     State = "UNDER_REVIEW"
	StateEvaluated       State = "EVALUATED"
	StateAccepted        State = "ACCEPTED"
	StateRejected        State = "REJECTED"
	StateWithdrawn       State = "WITHDRAWN"
	StatePendingApproval State = "PENDING_APPROVAL"
	StateApproved        State = "APPROVED"
	StateConvertedToPO   State = "CONVERTED_TO_PO"
	StateSentToVendor    State = "SENT_TO_VENDOR"
	StateReceived        State = "RECEIVED"
	StatePending         State = "PENDING"
	StateInspected       State = "INSPECTED"
	StatePartial         State = "PARTIAL"
	StatePaid            State = "PAID"
	StateOverdue         State = "OVERDUE"
	StateDisputed        State = "DISPUTED"
	StateRequested       State = "REQUESTED"
	StateProcessed       State = "PROCESSED"
	StateFailed          State = "FAILED"
	StateActive          State = "ACTIVE"
	StateCompleted       State = "COMPLETED"
	StateTerminated      State = "TERMINATED"
	StateSuspended       State = "SUSPENDED"
)

var validStates = map[State]bool{
	StateDraft:           true,
	StatePublished:       true,
	StateClosed:          true,
	StateAwarded:         true,
	StateCancelled:       true,
	StateSubmitted:       true,
	StateUnderReview:     true,
	StateEvaluated:       true,
	StateAccepted:        true,
	StateRejected:        true,
	StateWithdrawn:       true,
	StatePendingApproval: true,
	StateApproved:        true,
	StateConvertedToPO:   true,
	StateSentToVendor:    true,
	StateReceived:        true,
	StatePending:         true,
	StateInspected:       true,
	StatePartial:         true,
	StatePaid:            true,
	StateOverdue:         true,
	StateDisputed:        true,
	StateRequested:       true,
	StateProcessed:       true,
	StateFailed:          true,
	StateActive:          true,
	StateCompleted:       true,
	StateTerminated:      true,
	StateSuspended:       true,
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state belongs to the status vocabulary
func (s State) IsValid() bool {
	return validStates[s]
}

// StateSet is an unordered set of states
type StateSet map[State]struct{}

// NewStateSet builds a set from the given states
func NewStateSet(states ...State) StateSet {
	set := make(StateSet, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	return set
}

// Contains reports whether s is a member of the set
func (ss StateSet) Contains(s State) bool {
	_, ok := ss[s]
	return ok
}

// Slice returns the members sorted lexically
func (ss StateSet) Slice() []State {
	out := make([]State, 0, len(ss))
	for s := range ss {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy of the set
func (ss StateSet) Clone() StateSet {
	out := make(StateSet, len(ss))
	for s := range ss {
		out[s] = struct{}{}
	}
	return out
}
