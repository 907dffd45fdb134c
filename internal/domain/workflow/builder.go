package workflow

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc is a function that evaluates whether a transition should be allowed
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates a new state machine instance with the given initial state
	Build(initialState State) StateMachine

	// States returns the state set the builder accepts
	States() StateSet
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	// Permit allows a trigger to transition to the target state
	Permit(trigger Trigger, toState State) StateConfiguration

	// PermitIf allows a trigger to transition to the target state if the guard condition passes
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

type transition struct {
	toState State
	guard   GuardFunc
}

type stateConfig struct {
	builder     *stateMachineBuilder
	fromState   State
	transitions map[Trigger][]transition
}

type stateMachineBuilder struct {
	states         StateSet
	configurations map[State]*stateConfig
}

type stateMachine struct {
	currentState   State
	configurations map[State]*stateConfig
}

// NewBuilder creates a builder restricted to the given states.
// A nil or empty set accepts the whole status vocabulary.
func NewBuilder(states StateSet) StateMachineBuilder {
	if len(states) == 0 {
		states = make(StateSet, len(validStates))
		for s := range validStates {
			states[s] = struct{}{}
		}
	}
	for s := range states {
		if !s.IsValid() {
			panic(fmt.Sprintf("invalid state: %s", s))
		}
	}
	return &stateMachineBuilder{
		states:         states.Clone(),
		configurations: make(map[State]*stateConfig),
	}
}

func (b *stateMachineBuilder) accepts(s State) bool {
	return s.IsValid() && b.states.Contains(s)
}

// States returns a copy of the accepted state set
func (b *stateMachineBuilder) States() StateSet {
	return b.states.Clone()
}

// Configure returns a state configuration for the given state
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !b.accepts(state) {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			builder:     b,
			fromState:   state,
			transitions: make(map[Trigger][]transition),
		}
		b.configurations[state] = config
	}

	return config
}

// Build creates a new state machine instance with the given initial state
func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !b.accepts(initialState) {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	// Deep copy so later Configure calls never leak into built machines
	configsCopy := make(map[State]*stateConfig, len(b.configurations))
	for state, config := range b.configurations {
		transitionsCopy := make(map[Trigger][]transition, len(config.transitions))
		for trigger, transitions := range config.transitions {
			transitionsCopy[trigger] = append([]transition{}, transitions...)
		}
		configsCopy[state] = &stateConfig{
			fromState:   state,
			transitions: transitionsCopy,
		}
	}

	return &stateMachine{
		currentState:   initialState,
		configurations: configsCopy,
	}
}

// Permit allows a trigger to transition to the target state
func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

// PermitIf allows a trigger to transition to the target state if the guard condition passes
func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !c.builder.accepts(toState) {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	c.transitions[trigger] = append(c.transitions[trigger], transition{
		toState: toState,
		guard:   guard,
	})

	return c
}

// State returns the current state
func (m *stateMachine) State() State {
	return m.currentState
}

// CanFire returns true if the trigger is configured in the current state.
// Guards are not evaluated.
func (m *stateMachine) CanFire(trigger Trigger) bool {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return false
	}

	transitions, exists := config.transitions[trigger]
	return exists && len(transitions) > 0
}

// Fire attempts to execute the trigger, transitioning to the new state if allowed
func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s (no configuration)", ErrInvalidTransition, trigger, m.currentState)
	}

	transitions, exists := config.transitions[trigger]
	if !exists || len(transitions) == 0 {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.currentState)
	}

	for _, t := range transitions {
		if t.guard == nil || t.guard(ctx) {
			m.currentState = t.toState
			return nil
		}
	}

	return fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, m.currentState)
}

// PermittedTriggers returns all triggers that can be fired in the current state, sorted
func (m *stateMachine) PermittedTriggers() []Trigger {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return []Trigger{}
	}

	triggers := make([]Trigger, 0, len(config.transitions))
	for trigger := range config.transitions {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })

	return triggers
}

// PermittedTransitions returns every configured edge out of the current state, ordered by trigger
func (m *stateMachine) PermittedTransitions() []Transition {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return []Transition{}
	}

	out := make([]Transition, 0, len(config.transitions))
	for _, trigger := range m.PermittedTriggers() {
		for _, t := range config.transitions[trigger] {
			out = append(out, Transition{Trigger: trigger, ToState: t.toState, Guarded: t.guard != nil})
		}
	}
	return out
}
