// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sequence implements the flow bench auto sequence as a pure state
// machine. Transition takes the current state and an event and returns the
// next state plus the effects the caller must carry out.
package sequence

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/flowbench/pkg/poller"
)

// ErrAlreadyRunning is returned when Start arrives during a run
var ErrAlreadyRunning = errors.New("sequence already running")

// Phase is the sequence position
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseEnablePower
	PhaseHoldBaseline
	PhaseRamp
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseEnablePower:
		return "ENABLE_POWER"
	case PhaseHoldBaseline:
		return "HOLD_BASELINE"
	case PhaseRamp:
		return "RAMP"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(p))
	}
}

// Event drives a transition
type Event int

const (
	EventStart Event = iota
	EventStepElapsed
	EventHoldElapsed
	EventStop
)

// String returns the event name
func (e Event) String() string {
	switch e {
	case EventStart:
		return "START"
	case EventStepElapsed:
		return "STEP_ELAPSED"
	case EventHoldElapsed:
		return "HOLD_ELAPSED"
	case EventStop:
		return "STOP"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(e))
	}
}

// State is the controller state between events
type State struct {
	Phase      Phase
	StepIndex  int
	PulseWidth int
	PollRate   poller.Rate
}

// Running reports whether a run is in progress
func (s State) Running() bool {
	return s.Phase != PhaseIdle
}

// Effect is an action requested by a transition
type Effect interface {
	effect()
}

// WriteRegister writes a holding register
type WriteRegister struct {
	Address int
	Value   uint16
}

// CommandServo moves the actuator
type CommandServo struct {
	PulseWidth int
}

// SetPollRate changes the polling interval
type SetPollRate struct {
	Rate poller.Rate
}

// Schedule delivers Event after Delay on the step timer
type Schedule struct {
	Event Event
	Delay time.Duration
}

// Capture records a register snapshot tagged with the pulse width
type Capture struct {
	PulseWidth int
}

// CancelTimers drops every pending step timer
type CancelTimers struct{}

// CloseSink flushes and closes the capture sink
type CloseSink struct{}

// Completed marks a run that reached the end of the ramp
type Completed struct{}

func (WriteRegister) effect() {}
func (CommandServo) effect() {}
func (SetPollRate) effect() {}
func (Schedule) effect() {}
func (Capture) effect() {}
func (CancelTimers) effect() {}
func (CloseSink) effect() {}
func (Completed) effect() {}

// Transition computes the next state and effects. Timer events that arrive
// in a phase that does not expect them produce no effects.
func Transition(cfg Config, s State, ev Event) (State, []Effect, error) {
	switch ev {
	case EventStart:
		return start(cfg, s)
	case EventStop:
		return stop(s)
	case EventStepElapsed:
		return stepElapsed(cfg, s)
	case EventHoldElapsed:
		return holdElapsed(cfg, s)
	default:
		return s, nil, fmt.Errorf("unknown event %d", int(ev))
	}
}

func start(cfg Config, s State) (State, []Effect, error) {
	if s.Running() {
		return s, nil, ErrAlreadyRunning
	}
	next := State{Phase: PhaseEnablePower, PollRate: s.PollRate}
	return next, []Effect{
		WriteRegister{Address: cfg.EnableRegister, Value: 1},
		Schedule{Event: EventStepElapsed, Delay: cfg.EnableDelay},
	}, nil
}

func stop(s State) (State, []Effect, error) {
	if !s.Running() {
		return s, nil, nil
	}
	next := State{Phase: PhaseIdle, PulseWidth: s.PulseWidth, PollRate: poller.RateIdle}
	return next, []Effect{
		CancelTimers{},
		SetPollRate{Rate: poller.RateIdle},
		CloseSink{},
	}, nil
}

func stepElapsed(cfg Config, s State) (State, []Effect, error) {
	switch s.Phase {
	case PhaseEnablePower:
		next := State{Phase: PhaseHoldBaseline, PulseWidth: cfg.MinPulse, PollRate: poller.RateFast}
		return next, []Effect{
			CommandServo{PulseWidth: cfg.MinPulse},
			SetPollRate{Rate: poller.RateFast},
			Schedule{Event: EventHoldElapsed, Delay: cfg.BaselineHold},
		}, nil

	case PhaseRamp:
		if s.StepIndex >= cfg.TotalSteps() {
			return finalize(cfg, s)
		}
		pulse := cfg.PulseAt(s.StepIndex)
		next := State{Phase: PhaseRamp, StepIndex: s.StepIndex, PulseWidth: pulse, PollRate: poller.RateFast}
		return next, []Effect{
			CommandServo{PulseWidth: pulse},
			SetPollRate{Rate: poller.RateFast},
			Schedule{Event: EventHoldElapsed, Delay: cfg.StepHold},
		}, nil
	}
	return s, nil, nil
}

func holdElapsed(cfg Config, s State) (State, []Effect, error) {
	switch s.Phase {
	case PhaseHoldBaseline:
		next := State{Phase: PhaseRamp, StepIndex: 0, PulseWidth: s.PulseWidth, PollRate: poller.RateIdle}
		return next, holdEnd(cfg, s.PulseWidth), nil

	case PhaseRamp:
		next := State{Phase: PhaseRamp, StepIndex: s.StepIndex + 1, PulseWidth: s.PulseWidth, PollRate: poller.RateIdle}
		return next, holdEnd(cfg, s.PulseWidth), nil
	}
	return s, nil, nil
}

// holdEnd captures, drops to idle polling and schedules the next step
func holdEnd(cfg Config, pulse int) []Effect {
	return []Effect{
		Capture{PulseWidth: pulse},
		SetPollRate{Rate: poller.RateIdle},
		Schedule{Event: EventStepElapsed, Delay: cfg.Settle},
	}
}

// finalize records the closing snapshot and returns the rig to rest
func finalize(cfg Config, s State) (State, []Effect, error) {
	next := State{Phase: PhaseIdle, PulseWidth: cfg.MinPulse, PollRate: poller.RateIdle}
	return next, []Effect{
		Capture{PulseWidth: s.PulseWidth},
		WriteRegister{Address: cfg.EnableRegister, Value: 0},
		CommandServo{PulseWidth: cfg.MinPulse},
		SetPollRate{Rate: poller.RateIdle},
		CloseSink{},
		Completed{},
	}, nil
}
