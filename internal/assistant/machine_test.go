package assistant

import (
	"testing"

	"github.com/qmuntal/stateless"
	"github.com/stretchr/testify/require"
)

func newTestMachine(resume State) (*stateless.StateMachine, *[]stateless.Transition) {
	var seen []stateless.Transition
	fsm := newMachine(func() State { return resume }, func(t stateless.Transition) {
		seen = append(seen, t)
	})
	return fsm, &seen
}

func TestMachine_HappyPath(t *testing.T) {
	fsm, seen := newTestMachine(StateIdle)

	require.NoError(t, fsm.Fire(TriggerSubmit))
	require.NoError(t, fsm.Fire(TriggerRequestWritten))
	require.Equal(t, StateAwaitingReply, fsm.MustState())
	require.NoError(t, fsm.Fire(TriggerReplyStarted))
	require.Equal(t, StateTypingPause, fsm.MustState())
	require.NoError(t, fsm.Fire(TriggerReplyStarted), "typing pause ignores repeated progress")
	require.NoError(t, fsm.Fire(TriggerSucceeded))
	require.Equal(t, StateIdle, fsm.MustState())
	require.Len(t, *seen, 4)
}

func TestMachine_SubmitRejectedWhileInFlight(t *testing.T) {
	for _, s := range inFlightStates {
		require.True(t, isInFlight(s))
	}
	require.False(t, isInFlight(StateIdle))

	fsm, _ := newTestMachine(StateIdle)
	require.NoError(t, fsm.Fire(TriggerSubmit))
	require.Error(t, fsm.Fire(TriggerSubmit))
	require.Error(t, fsm.Fire(TriggerRetry))
}

func TestMachine_ErrorExits(t *testing.T) {
	fsm, _ := newTestMachine(StateIdle)
	require.NoError(t, fsm.Fire(TriggerSubmit))
	require.NoError(t, fsm.Fire(TriggerRecoverableFailure))
	require.Equal(t, StateError, fsm.MustState())

	require.NoError(t, fsm.Fire(TriggerRetry))
	require.Equal(t, StateSending, fsm.MustState())
	require.NoError(t, fsm.Fire(TriggerFatalFailure))
	require.NoError(t, fsm.Fire(TriggerDismissError))
	require.Equal(t, StateIdle, fsm.MustState())
	require.NoError(t, fsm.Fire(TriggerDismissError), "dismiss is a no-op when idle")
}

func TestMachine_ClearFromEveryState(t *testing.T) {
	paths := map[State][]Trigger{
		StateIdle:          nil,
		StateSending:       {TriggerSubmit},
		StateAwaitingReply: {TriggerSubmit, TriggerRequestWritten},
		StateTypingPause:   {TriggerSubmit, TriggerReplyStarted},
		StateError:         {TriggerSubmit, TriggerFatalFailure},
		StateDisconnected:  {TriggerConnectivityLost},
	}
	for want, path := range paths {
		t.Run(string(want), func(t *testing.T) {
			fsm, seen := newTestMachine(StateIdle)
			for _, tr := range path {
				require.NoError(t, fsm.Fire(tr))
			}
			require.Equal(t, want, fsm.MustState())
			before := len(*seen)

			require.NoError(t, fsm.Fire(TriggerClear))
			require.Equal(t, StateIdle, fsm.MustState())
			require.Len(t, *seen, before+1, "clear always reports a transition")
		})
	}
}

func TestMachine_ReconnectResumes(t *testing.T) {
	fsm, _ := newTestMachine(StateError)
	require.NoError(t, fsm.Fire(TriggerSubmit))
	require.NoError(t, fsm.Fire(TriggerConnectivityLost))
	require.Equal(t, StateDisconnected, fsm.MustState())
	require.NoError(t, fsm.Fire(TriggerConnectivityLost))
	require.Error(t, fsm.Fire(TriggerSubmit))

	require.NoError(t, fsm.Fire(TriggerReconnected))
	require.Equal(t, StateError, fsm.MustState())
}
