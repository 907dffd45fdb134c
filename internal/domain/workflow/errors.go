package workflow

import "errors"

var (
	// ErrInvalidTransition means no edge is configured for the trigger from the current status
	ErrInvalidTransition = errors.New("no such lifecycle edge")

	// ErrGuardFailed means an edge exists but every guard on it rejected the document
	ErrGuardFailed = errors.New("lifecycle guard rejected transition")
)
