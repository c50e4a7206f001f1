package orchestrator

import "fmt"

// State is a step of a single classification request.
type State string

const (
	StateInit             State = "init"
	StateFastCalled       State = "fast_called"
	StateNoEscalation     State = "no_escalation_needed"
	StateEscalationNeeded State = "escalation_needed"
	StateSlowCalled       State = "slow_called"
	StateAggregated       State = "aggregated"
	StateDone             State = "done"
	StateErrored          State = "errored"
)

// transitions lists the legal moves. Errored is reachable from every
// non-terminal state.
var transitions = map[State][]State{
	StateInit:             {StateFastCalled, StateEscalationNeeded},
	StateFastCalled:       {StateNoEscalation, StateEscalationNeeded},
	StateNoEscalation:     {StateAggregated},
	StateEscalationNeeded: {StateSlowCalled},
	StateSlowCalled:       {StateAggregated},
	StateAggregated:       {StateDone},
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateErrored
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateErrored {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks one request's state and the path it took.
type machine struct {
	state   State
	history []State
	onEnter func(State)
}

func newMachine(onEnter func(State)) *machine {
	return &machine{state: StateInit, history: []State{StateInit}, onEnter: onEnter}
}

func (m *machine) to(next State) error {
	if !canTransition(m.state, next) {
		return fmt.Errorf("invalid transition %s -> %s", m.state, next)
	}
	m.state = next
	m.history = append(m.history, next)
	if m.onEnter != nil {
		m.onEnter(next)
	}
	return nil
}
