package connection

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// State is a connection manager lifecycle state
type State string

const (
	StateIdle          State = "idle"
	StateConnecting    State = "connecting"
	StateResolving     State = "resolving"
	StateStreaming     State = "streaming"
	StateDisconnecting State = "disconnecting"
	StateError         State = "error"

	// StateClosed is a Connection state only; the manager is idle by then
	StateClosed State = "closed"
)

// AllStates lists every state in lifecycle order
var AllStates = []State{StateIdle, StateConnecting, StateResolving, StateStreaming, StateDisconnecting, StateError}

const (
	eventConnect    = "connect"
	eventResolve    = "resolve"
	eventStream     = "stream"
	eventFail       = "fail"
	eventDisconnect = "disconnect"
	eventReset      = "reset"
)

func stateNames() []string {
	names := make([]string, len(AllStates))
	for i, s := range AllStates {
		names[i] = string(s)
	}
	return names
}

// newStateMachine builds the lifecycle FSM; onEnter observes every completed transition
func newStateMachine(onEnter func(from, to State)) *fsm.FSM {
	active := []string{string(StateConnecting), string(StateResolving), string(StateStreaming)}

	events := fsm.Events{
		{Name: eventConnect, Src: []string{string(StateIdle)}, Dst: string(StateConnecting)},
		{Name: eventResolve, Src: []string{string(StateConnecting)}, Dst: string(StateResolving)},
		{Name: eventStream, Src: []string{string(StateResolving)}, Dst: string(StateStreaming)},
		{Name: eventFail, Src: active, Dst: string(StateError)},
		{Name: eventDisconnect, Src: active, Dst: string(StateDisconnecting)},

		// error and disconnecting are transient
		{Name: eventReset, Src: []string{string(StateError), string(StateDisconnecting)}, Dst: string(StateIdle)},
	}

	callbacks := fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			onEnter(State(e.Src), State(e.Dst))
		},
	}

	return fsm.NewFSM(string(StateIdle), events, callbacks)
}

// isTransitionError reports whether err is a real FSM failure rather than a no-op transition
func isTransitionError(err error) bool {
	if err == nil {
		return false
	}
	var noTransition fsm.NoTransitionError
	return !errors.As(err, &noTransition)
}
