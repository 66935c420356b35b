// Package fsm defines the helper process supervision lifecycle.
package fsm

import "fmt"

type State string

type Event string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateBackoff  State = "backoff"
	StateExited   State = "exited"
)

const (
	EventStart   Event = "start"
	EventSpawned Event = "spawned"
	EventExit    Event = "exit"
	EventCrash   Event = "crash"
	EventRetry   Event = "retry"
	EventStop    Event = "stop"
)

func Transition(current State, event Event) (State, error) {
	if event == EventStop {
		return StateStopped, nil
	}

	switch current {
	case StateStopped, StateExited:
		switch event {
		case EventStart:
			return StateStarting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStarting:
		switch event {
		case EventSpawned:
			return StateRunning, nil
		case EventCrash:
			return StateBackoff, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRunning:
		switch event {
		case EventExit:
			return StateExited, nil
		case EventCrash:
			return StateBackoff, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateBackoff:
		switch event {
		case EventRetry:
			return StateStarting, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
