package assistant

import (
	"context"

	"github.com/qmuntal/stateless" // FSM library
)

// State is a conversation state.
type State string

const (
	StateIdle          State = "Idle"
	StateSending       State = "Sending"
	StateAwaitingReply State = "AwaitingReply"
	StateTypingPause   State = "TypingPause"
	StateError         State = "Error"
	StateDisconnected  State = "Disconnected"
)

// Trigger is an event that may move the conversation between states.
type Trigger string

const (
	TriggerSubmit             Trigger = "Submit"
	TriggerRequestWritten     Trigger = "RequestWritten"
	TriggerReplyStarted       Trigger = "ReplyStarted"
	TriggerSucceeded          Trigger = "Succeeded"
	TriggerRecoverableFailure Trigger = "RecoverableFailure"
	TriggerFatalFailure       Trigger = "FatalFailure"
	TriggerRetry              Trigger = "Retry"
	TriggerDismissError       Trigger = "DismissError"
	TriggerClear              Trigger = "Clear"
	TriggerConnectivityLost   Trigger = "ConnectivityLost"
	TriggerReconnected        Trigger = "Reconnected"
)

// inFlightStates are the states in which a request is outstanding.
var inFlightStates = []State{StateSending, StateAwaitingReply, StateTypingPause}

// newMachine wires the transition table. Side effects live in the
// Conversation event loop; the machine only decides which moves are legal and
// reports them through onTransition. resume picks the state to return to when
// connectivity comes back.
func newMachine(resume func() State, onTransition func(stateless.Transition)) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateIdle)

	// State: Idle
	//   - Submit -> Sending
	fsm.Configure(StateIdle).
		Permit(TriggerSubmit, StateSending).
		PermitReentry(TriggerClear).
		Permit(TriggerConnectivityLost, StateDisconnected).
		Ignore(TriggerDismissError)

	// States with a request on the wire share their exits. TypingPause is
	// cosmetic: it resolves exactly like AwaitingReply.
	for _, s := range inFlightStates {
		fsm.Configure(s).
			Permit(TriggerSucceeded, StateIdle).
			Permit(TriggerRecoverableFailure, StateError).
			Permit(TriggerFatalFailure, StateError).
			Permit(TriggerClear, StateIdle).
			Permit(TriggerConnectivityLost, StateDisconnected)
	}
	fsm.Configure(StateSending).
		Permit(TriggerRequestWritten, StateAwaitingReply).
		Permit(TriggerReplyStarted, StateTypingPause)
	fsm.Configure(StateAwaitingReply).
		Ignore(TriggerRequestWritten).
		Permit(TriggerReplyStarted, StateTypingPause)
	fsm.Configure(StateTypingPause).
		Ignore(TriggerRequestWritten).
		Ignore(TriggerReplyStarted)

	// State: Error
	//   - Retry (manual or automatic) -> Sending with the same message
	//   - Submit -> Sending with a new message
	//   - DismissError -> Idle
	fsm.Configure(StateError).
		Permit(TriggerRetry, StateSending).
		Permit(TriggerSubmit, StateSending).
		Permit(TriggerDismissError, StateIdle).
		Permit(TriggerClear, StateIdle).
		Permit(TriggerConnectivityLost, StateDisconnected)

	// State: Disconnected
	//   - Reconnected -> Sending when a held turn is replayed, otherwise the
	//     state active before the drop
	fsm.Configure(StateDisconnected).
		PermitDynamic(TriggerReconnected, func(_ context.Context, _ ...any) (stateless.State, error) {
			return resume(), nil
		}).
		Permit(TriggerClear, StateIdle).
		Ignore(TriggerConnectivityLost)

	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		onTransition(t)
	})
	return fsm
}

func isInFlight(s State) bool {
	for _, f := range inFlightStates {
		if f == s {
			return true
		}
	}
	return false
}
