package orchestrator

import (
	"fmt"
)

// State is a step of an execution.
type State string

const (
	StateValidating      State = "validating"
	StateSkipBuy         State = "skip_buy"
	StateBuying          State = "buying"
	StateTransferring    State = "transferring"
	StateSelling         State = "selling"
	StateSettledSuccess  State = "settled_success"
	StateSettledFailed   State = "settled_failed"
	StateSpotBuying      State = "spot_buying"
	StateHedging         State = "hedging"
	StateHedgingFallback State = "hedging_fallback"
	StateRollingBack     State = "rolling_back"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSettledSuccess || s == StateSettledFailed
}

// Event drives a transition.
type Event string

const (
	EventHeld        Event = "held"         // target asset already on the buy exchange
	EventNeedBuy     Event = "need_buy"     // capital must be converted first
	EventAcquired    Event = "acquired"     // asset is on the buy exchange
	EventTransferred Event = "transferred"  // deposit confirmed at the sell exchange
	EventSold        Event = "sold"         // sell leg filled
	EventFunding     Event = "funding"      // hedged spot/futures path
	EventSpotBought  Event = "spot_bought"  // spot leg of a hedge filled
	EventHedged      Event = "hedged"       // short leg filled
	EventHedgeFailed Event = "hedge_failed" // short leg failed on the current venue
	EventRolledBack  Event = "rolled_back"  // compensating order attempted
	EventFailed      Event = "failed"
)

var transitions = map[State]map[Event]State{
	StateValidating: {
		EventHeld:    StateSkipBuy,
		EventNeedBuy: StateBuying,
		EventFunding: StateSpotBuying,
		EventFailed:  StateSettledFailed,
	},
	StateSkipBuy: {
		EventAcquired: StateTransferring,
		EventFailed:   StateSettledFailed,
	},
	StateBuying: {
		EventAcquired: StateTransferring,
		EventFailed:   StateSettledFailed,
	},
	StateTransferring: {
		EventTransferred: StateSelling,
		EventFailed:      StateSettledFailed,
	},
	StateSelling: {
		EventSold:   StateSettledSuccess,
		EventFailed: StateSettledFailed,
	},
	StateSpotBuying: {
		EventSpotBought: StateHedging,
		EventFailed:     StateSettledFailed,
	},
	StateHedging: {
		EventHedged:      StateSettledSuccess,
		EventHedgeFailed: StateHedgingFallback,
		EventFailed:      StateSettledFailed,
	},
	StateHedgingFallback: {
		EventHedged:      StateSettledSuccess,
		EventHedgeFailed: StateRollingBack,
		EventFailed:      StateSettledFailed,
	},
	StateRollingBack: {
		EventRolledBack: StateSettledFailed,
		EventFailed:     StateSettledFailed,
	},
}

// Transition returns the state reached from s on e.
func Transition(s State, e Event) (State, error) {
	next, ok := transitions[s][e]
	if !ok {
		return s, fmt.Errorf("invalid transition from %s on %s", s, e)
	}
	return next, nil
}

// Saga tracks one execution through the state machine.
type Saga struct {
	state   State
	history []State
}

func NewSaga() *Saga {
	return &Saga{state: StateValidating, history: []State{StateValidating}}
}

func (s *Saga) State() State { return s.state }

// Fire applies e. Invalid events leave the saga unchanged.
func (s *Saga) Fire(e Event) error {
	next, err := Transition(s.state, e)
	if err != nil {
		return err
	}
	s.state = next
	s.history = append(s.history, next)
	return nil
}

// Fail moves to SettledFailed from any non-terminal state.
func (s *Saga) Fail() {
	if !s.state.Terminal() {
		_ = s.Fire(EventFailed)
	}
}

// History lists visited states in order.
func (s *Saga) History() []string {
	out := make([]string, len(s.history))
	for i, st := range s.history {
		out[i] = string(st)
	}
	return out
}
