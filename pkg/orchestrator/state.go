package orchestrator

import "fmt"

// State is a node of the per-turn control loop.
type State int

const (
	StateStart State = iota
	StateReason
	StateDispatch
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateReason:
		return "REASON"
	case StateDispatch:
		return "DISPATCH"
	case StateEnd:
		return "END"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event drives a transition.
type Event int

const (
	// EventSeeded: the user message has been appended.
	EventSeeded Event = iota
	// EventFinalAnswer: the reasoning reply carried no tool calls.
	EventFinalAnswer
	// EventToolCalls: the reasoning reply requested one or more tools.
	EventToolCalls
	// EventResultsFolded: every invocation of the round has a result.
	EventResultsFolded
	// EventBudgetExceeded: the round cap or turn timeout was hit.
	EventBudgetExceeded
	// EventFailed: the reasoning call failed.
	EventFailed
)

func (e Event) String() string {
	switch e {
	case EventSeeded:
		return "seeded"
	case EventFinalAnswer:
		return "final_answer"
	case EventToolCalls:
		return "tool_calls"
	case EventResultsFolded:
		return "results_folded"
	case EventBudgetExceeded:
		return "budget_exceeded"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// TransitionError is returned by Next for a pair with no edge.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s on %s", e.From, e.Event)
}

type edge struct {
	from  State
	event Event
}

var transitions = map[edge]State{
	{StateStart, EventSeeded}:            StateReason,
	{StateReason, EventFinalAnswer}:      StateEnd,
	{StateReason, EventToolCalls}:        StateDispatch,
	{StateReason, EventBudgetExceeded}:   StateEnd,
	{StateReason, EventFailed}:           StateEnd,
	{StateDispatch, EventResultsFolded}:  StateReason,
	{StateDispatch, EventBudgetExceeded}: StateEnd,
	{StateDispatch, EventFailed}:         StateEnd,
}

// Next returns the state reached from s on ev. END has no outgoing edges.
func Next(s State, ev Event) (State, error) {
	to, ok := transitions[edge{s, ev}]
	if !ok {
		return s, &TransitionError{From: s, Event: ev}
	}
	return to, nil
}
