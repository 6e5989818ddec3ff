package checkout

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle position of a checkout attempt.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateApproved   State = "approved"
	StateRejected   State = "rejected"
	StateSettled    State = "settled"
	StateRolledBack State = "rolled_back"
)

// ErrIllegalTransition is returned when a state change is not allowed.
var ErrIllegalTransition = errors.New("illegal checkout transition")

var transitions = map[State][]State{
	StateIdle:       {StateValidating},
	StateValidating: {StateApproved, StateRejected},
	StateApproved:   {StateSettled, StateRolledBack},
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Step records one state change.
type Step struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Attempt tracks the states a single checkout passed through.
type Attempt struct {
	state   State
	history []Step
	now     func() time.Time
}

// NewAttempt starts an attempt in StateIdle.
func NewAttempt(now func() time.Time) *Attempt {
	if now == nil {
		now = time.Now
	}
	return &Attempt{state: StateIdle, now: now}
}

// State returns the current state.
func (a *Attempt) State() State { return a.state }

// History returns a copy of the recorded steps.
func (a *Attempt) History() []Step {
	return append([]Step(nil), a.history...)
}

// Transition moves the attempt to next if the lifecycle allows it.
func (a *Attempt) Transition(next State) error {
	for _, allowed := range transitions[a.state] {
		if allowed == next {
			a.history = append(a.history, Step{From: a.state, To: next, At: a.now().UTC()})
			a.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.state, next)
}
