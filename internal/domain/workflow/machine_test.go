package workflow

import (
	"context"
	"errors"
	"testing"
)

type guardKey struct{}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"draft", StateDraft, true},
		{"converted", StateConvertedToPO, true},
		{"overdue", StateOverdue, true},
		{"unknown", State("ARCHIVED"), false},
		{"empty", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStateSet(t *testing.T) {
	set := NewStateSet(StatePublished, StateDraft, StateClosed)

	if !set.Contains(StateDraft) {
		t.Error("Contains(DRAFT) = false, want true")
	}
	if set.Contains(StatePaid) {
		t.Error("Contains(PAID) = true, want false")
	}

	got := set.Slice()
	want := []State{StateClosed, StateDraft, StatePublished}
	if len(got) != len(want) {
		t.Fatalf("Slice() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Slice()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	clone := set.Clone()
	delete(clone, StateDraft)
	if !set.Contains(StateDraft) {
		t.Error("Clone() shares storage with the original set")
	}
}

func TestTrigger_String(t *testing.T) {
	if got := TriggerConvertToPO.String(); got != "CONVERT_TO_PO" {
		t.Errorf("Trigger.String() = %v, want %v", got, "CONVERT_TO_PO")
	}
}

func TestNewBuilder_PanicsOnUnknownState(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewBuilder() should panic on a state outside the vocabulary")
		}
	}()

	NewBuilder(NewStateSet(StateDraft, State("LIMBO")))
}

func TestBuilder_Configure(t *testing.T) {
	builder := NewBuilder(NewStateSet(StateDraft, StatePublished))

	config := builder.Configure(StateDraft)
	if config == nil {
		t.Fatal("Configure() returned nil")
	}

	if config2 := builder.Configure(StateDraft); config != config2 {
		t.Error("Configure() should return same config for same state")
	}
}

func TestBuilder_ConfigurePanicsOutsideStateSet(t *testing.T) {
	builder := NewBuilder(NewStateSet(StateDraft, StatePublished))

	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() should panic on a state outside the builder's set")
		}
	}()

	builder.Configure(StatePaid)
}

func TestBuilder_BuildPanicsOnInvalidInitialState(t *testing.T) {
	builder := NewBuilder(NewStateSet(StateDraft))

	defer func() {
		if r := recover(); r == nil {
			t.Error("Build() should panic on invalid initial state")
		}
	}()

	builder.Build(State("INVALID"))
}

func TestBuilder_States(t *testing.T) {
	builder := NewBuilder(nil)
	if got := len(builder.States()); got != len(validStates) {
		t.Errorf("len(States()) = %d, want %d", got, len(validStates))
	}
}

func TestStateConfiguration_Permit(t *testing.T) {
	builder := NewBuilder(NewStateSet(StateDraft, StatePublished))
	builder.Configure(StateDraft).
		Permit(TriggerPublish, StatePublished)

	machine := builder.Build(StateDraft)

	if !machine.CanFire(TriggerPublish) {
		t.Error("CanFire() should return true for permitted trigger")
	}

	if err := machine.Fire(context.Background(), TriggerPublish); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}

	if machine.State() != StatePublished {
		t.Errorf("State after Fire() = %v, want %v", machine.State(), StatePublished)
	}
}

func TestStateConfiguration_PermitPanicsOutsideStateSet(t *testing.T) {
	builder := NewBuilder(NewStateSet(StateDraft, StatePublished))

	defer func() {
		if r := recover(); r == nil {
			t.Error("Permit() should panic on a target outside the builder's set")
		}
	}()

	builder.Configure(StateDraft).Permit(TriggerSubmit, StateSubmitted)
}

func TestStateConfiguration_PermitIf_GuardFails(t *testing.T) {
	builder := NewBuilder(NewStateSet(StateApproved, StateOverdue))
	builder.Configure(StateApproved).
		PermitIf(TriggerMarkOverdue, StateOverdue, func(ctx context.Context) bool {
			return false
		})

	machine := builder.Build(StateApproved)

	err := machine.Fire(context.Background(), TriggerMarkOverdue)
	if err == nil {
		t.Fatal("Fire() should fail when guard fails")
	}

	if !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}

	if machine.State() != StateApproved {
		t.Errorf("State should remain %v after failed Fire(), got %v", StateApproved, machine.State())
	}
}

func TestStateConfiguration_PermitIf_FirstPassingGuardWins(t *testing.T) {
	builder := NewBuilder(NewStateSet(StateInspected, StateAccepted, StatePartial))
	builder.Configure(StateInspected).
		PermitIf(TriggerAccept, StateAccepted, func(ctx context.Context) bool {
			return ctx.Value(guardKey{}).(bool)
		}).
		PermitIf(TriggerAccept, StatePartial, func(ctx context.Context) bool {
			return !ctx.Value(guardKey{}).(bool)
		})

	full := builder.Build(StateInspected)
	if err := full.Fire(context.WithValue(context.Background(), guardKey{}, true), TriggerAccept); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if full.State() != StateAccepted {
		t.Errorf("State after Fire() = %v, want %v", full.State(), StateAccepted)
	}

	partial := builder.Build(StateInspected)
	if err := partial.Fire(context.WithValue(context.Background(), guardKey{}, false), TriggerAccept); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if partial.State() != StatePartial {
		t.Errorf("State after Fire() = %v, want %v", partial.State(), StatePartial)
	}
}

func TestStateMachine_CanFire(t *testing.T) {
	builder := NewBuilder(NewStateSet(StateDraft, StatePublished))
	builder.Configure(StateDraft).
		PermitIf(TriggerPublish, StatePublished, func(ctx context.Context) bool { return false })

	machine := builder.Build(StateDraft)

	tests := []struct {
		trigger  Trigger
		expected bool
	}{
		{TriggerPublish, true},
		{TriggerApprove, false},
		{TriggerCancel, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.trigger), func(t *testing.T) {
			if got := machine.CanFire(tt.trigger); got != tt.expected {
				t.Errorf("CanFire() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStateMachine_Fire_InvalidTransition(t *testing.T) {
	builder := NewBuilder(NewStateSet(StateDraft, StatePublished))
	builder.Configure(StateDraft).
		Permit(TriggerPublish, StatePublished)

	machine := builder.Build(StateDraft)

	err := machine.Fire(context.Background(), TriggerApprove)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}

	if machine.State() != StateDraft {
		t.Errorf("State should remain %v after failed Fire(), got %v", StateDraft, machine.State())
	}
}

func TestStateMachine_Fire_NoConfiguration(t *testing.T) {
	machine := NewBuilder(NewStateSet(StateCompleted)).Build(StateCompleted)

	if err := machine.Fire(context.Background(), TriggerSubmit); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}
}

func TestStateMachine_PermittedTransitions(t *testing.T) {
	builder := NewBuilder(NewStateSet(StatePublished, StateClosed, StateCancelled))
	builder.Configure(StatePublished).
		Permit(TriggerClose, StateClosed).
		PermitIf(TriggerCancel, StateCancelled, func(ctx context.Context) bool { return true })

	machine := builder.Build(StatePublished)

	got := machine.PermittedTransitions()
	want := []Transition{
		{Trigger: TriggerCancel, ToState: StateCancelled, Guarded: true},
		{Trigger: TriggerClose, ToState: StateClosed},
	}
	if len(got) != len(want) {
		t.Fatalf("PermittedTransitions() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PermittedTransitions()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	triggers := machine.PermittedTriggers()
	if len(triggers) != 2 || triggers[0] != TriggerCancel || triggers[1] != TriggerClose {
		t.Errorf("PermittedTriggers() = %v, want [CANCEL CLOSE]", triggers)
	}
}

func TestStateMachine_PermittedTransitions_NoConfiguration(t *testing.T) {
	machine := NewBuilder(nil).Build(StatePaid)

	if got := machine.PermittedTransitions(); len(got) != 0 {
		t.Errorf("PermittedTransitions() returned %d edges, want 0", len(got))
	}
	if got := machine.PermittedTriggers(); len(got) != 0 {
		t.Errorf("PermittedTriggers() returned %d triggers, want 0", len(got))
	}
}

func TestStateMachine_Immutability(t *testing.T) {
	builder := NewBuilder(NewStateSet(StateDraft, StatePublished, StateCancelled))
	builder.Configure(StateDraft).
		Permit(TriggerPublish, StatePublished)

	machine1 := builder.Build(StateDraft)
	machine2 := builder.Build(StateDraft)

	// Configuring after Build must not affect built machines
	builder.Configure(StateDraft).Permit(TriggerCancel, StateCancelled)

	if err := machine1.Fire(context.Background(), TriggerPublish); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}

	if machine2.State() != StateDraft {
		t.Errorf("machine2 state = %v, want %v (machines should be independent)", machine2.State(), StateDraft)
	}
	if machine2.CanFire(TriggerCancel) {
		t.Error("machine2 picked up a transition configured after Build()")
	}
}
