package payment

import "fmt"

// State is one step of the settlement flow at a terminal. The flow replaces
// the old callback-chained modal sequence (choose method, select customer,
// enter amount, confirm) with explicit states and pure transitions, so any
// presentation layer can drive it.
type State string

const (
	StateChoosingMethod   State = "choosing_method"
	StateAwaitingCustomer State = "awaiting_customer"
	StateAwaitingAmount   State = "awaiting_amount"
	StateAllocated        State = "allocated"
	StateCommitting       State = "committing"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// InvalidTransitionError indicates an event that is not legal in the flow's
// current state.
type InvalidTransitionError struct {
	From  State
	Event string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %s not allowed in state %s", e.Event, e.From)
}

// Flow is the settlement state machine for one in-flight sale. Transitions
// are pure: each returns the next Flow value and never touches the allocator
// or any external state.
type Flow struct {
	State  State
	Method Method
}

// NewFlow returns a flow at the start of method selection.
func NewFlow() Flow {
	return Flow{State: StateChoosingMethod}
}

// ChooseMethod selects the payment method for the next leg. Account payments
// detour through customer selection; everything else goes straight to amount
// entry.
func (f Flow) ChooseMethod(m Method) (Flow, error) {
	if f.State != StateChoosingMethod {
		return f, &InvalidTransitionError{From: f.State, Event: "choose_method"}
	}
	next := StateAwaitingAmount
	if m == MethodAccount {
		next = StateAwaitingCustomer
	}
	return Flow{State: next, Method: m}, nil
}

// ProvideCustomer supplies the customer for an account leg.
func (f Flow) ProvideCustomer() (Flow, error) {
	if f.State != StateAwaitingCustomer {
		return f, &InvalidTransitionError{From: f.State, Event: "provide_customer"}
	}
	return Flow{State: StateAwaitingAmount, Method: f.Method}, nil
}

// ProvideAmount records that the leg's amount has been entered and accepted
// by the allocator.
func (f Flow) ProvideAmount() (Flow, error) {
	if f.State != StateAwaitingAmount {
		return f, &InvalidTransitionError{From: f.State, Event: "provide_amount"}
	}
	return Flow{State: StateAllocated, Method: f.Method}, nil
}

// NextLeg returns to method selection for a further split-payment leg.
// Only legal while the allocation set is still incomplete.
func (f Flow) NextLeg() (Flow, error) {
	if f.State != StateAllocated {
		return f, &InvalidTransitionError{From: f.State, Event: "next_leg"}
	}
	return Flow{State: StateChoosingMethod}, nil
}

// BeginCommit starts the durable commit once allocation is complete.
func (f Flow) BeginCommit() (Flow, error) {
	if f.State != StateAllocated {
		return f, &InvalidTransitionError{From: f.State, Event: "begin_commit"}
	}
	return Flow{State: StateCommitting}, nil
}

// FinishCommit marks the settlement as durably committed. Terminal.
func (f Flow) FinishCommit() (Flow, error) {
	if f.State != StateCommitting {
		return f, &InvalidTransitionError{From: f.State, Event: "finish_commit"}
	}
	return Flow{State: StateDone}, nil
}

// Fail records a commit failure. The allocation set is preserved by the
// allocator, so the flow may be retried.
func (f Flow) Fail() (Flow, error) {
	if f.State != StateCommitting {
		return f, &InvalidTransitionError{From: f.State, Event: "fail"}
	}
	return Flow{State: StateFailed}, nil
}

// Retry returns a failed flow to the allocated state so the caller can
// adjust allocations or attempt the commit again.
func (f Flow) Retry() (Flow, error) {
	if f.State != StateFailed {
		return f, &InvalidTransitionError{From: f.State, Event: "retry"}
	}
	return Flow{State: StateAllocated}, nil
}
