// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sequence

import (
	"testing"
	"time"

	"github.com/Thermoquad/flowbench/pkg/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Test Helpers
// ============================================================

// runResult tallies the effects of a full run
type runResult struct {
	rampPulses    []int
	captures      []int
	enableWrites  []uint16
	servoCommands int
	sinkCloses    int
	completed     bool
	transitions   int
}

// runToCompletion drives a sequence by firing each scheduled event
// immediately until the controller returns to idle
func runToCompletion(t *testing.T, cfg Config) runResult {
	t.Helper()

	var res runResult
	state, effects, err := Transition(cfg, State{}, EventStart)
	require.NoError(t, err)

	for {
		var pending *Schedule
		for _, e := range effects {
			switch e := e.(type) {
			case WriteRegister:
				if e.Address == cfg.EnableRegister {
					res.enableWrites = append(res.enableWrites, e.Value)
				}
			case CommandServo:
				res.servoCommands++
				if state.Phase == PhaseRamp && e.PulseWidth == state.PulseWidth && state.PollRate == poller.RateFast {
					res.rampPulses = append(res.rampPulses, e.PulseWidth)
				}
			case Capture:
				res.captures = append(res.captures, e.PulseWidth)
			case CloseSink:
				res.sinkCloses++
			case Completed:
				res.completed = true
			case Schedule:
				s := e
				pending = &s
			}
		}

		if !state.Running() {
			require.Nil(t, pending, "idle state must not schedule timers")
			return res
		}
		require.NotNil(t, pending, "running state must schedule the next event in phase %s", state.Phase)

		res.transitions++
		require.Less(t, res.transitions, 10000, "sequence did not terminate")
		state, effects, err = Transition(cfg, state, pending.Event)
		require.NoError(t, err)
	}
}

// ============================================================
// Config Tests
// ============================================================

func TestConfig_TotalSteps(t *testing.T) {
	tests := []struct {
		name     string
		min, max int
		inc      int
		expected int
	}{
		{"default range", 1000, 2000, 10, 101},
		{"single point", 1500, 1500, 10, 1},
		{"non-divisible", 1000, 1015, 10, 2},
		{"invalid increment", 1000, 2000, 0, 0},
		{"inverted", 2000, 1000, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{MinPulse: tt.min, MaxPulse: tt.max, Increment: tt.inc}
			assert.Equal(t, tt.expected, cfg.TotalSteps())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Increment = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.MaxPulse = 900
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.StepHold = -time.Second
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.EnableRegister = 6
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestConfig_Duration(t *testing.T) {
	cfg := DefaultConfig()
	expected := time.Second + 15*time.Second + 100*time.Millisecond + 101*(5*time.Second+100*time.Millisecond)
	assert.Equal(t, expected, cfg.Duration())
}

// ============================================================
// Transition Tests
// ============================================================

func TestTransition_Start(t *testing.T) {
	cfg := DefaultConfig()
	state, effects, err := Transition(cfg, State{}, EventStart)
	require.NoError(t, err)

	assert.Equal(t, PhaseEnablePower, state.Phase)
	assert.Equal(t, []Effect{
		WriteRegister{Address: 40006, Value: 1},
		Schedule{Event: EventStepElapsed, Delay: time.Second},
	}, effects)
}

func TestTransition_BaselineHold(t *testing.T) {
	cfg := DefaultConfig()
	state := State{Phase: PhaseEnablePower}

	state, effects, err := Transition(cfg, state, EventStepElapsed)
	require.NoError(t, err)
	assert.Equal(t, PhaseHoldBaseline, state.Phase)
	assert.Equal(t, []Effect{
		CommandServo{PulseWidth: 1000},
		SetPollRate{Rate: poller.RateFast},
		Schedule{Event: EventHoldElapsed, Delay: 15 * time.Second},
	}, effects)

	state, effects, err = Transition(cfg, state, EventHoldElapsed)
	require.NoError(t, err)
	assert.Equal(t, PhaseRamp, state.Phase)
	assert.Equal(t, 0, state.StepIndex)
	assert.Equal(t, []Effect{
		Capture{PulseWidth: 1000},
		SetPollRate{Rate: poller.RateIdle},
		Schedule{Event: EventStepElapsed, Delay: 100 * time.Millisecond},
	}, effects)
}

func TestTransition_RampStep(t *testing.T) {
	cfg := DefaultConfig()
	state := State{Phase: PhaseRamp, StepIndex: 7}

	state, effects, err := Transition(cfg, state, EventStepElapsed)
	require.NoError(t, err)
	assert.Equal(t, 1070, state.PulseWidth)
	assert.Equal(t, 7, state.StepIndex)
	assert.Contains(t, effects, CommandServo{PulseWidth: 1070})

	state, _, err = Transition(cfg, state, EventHoldElapsed)
	require.NoError(t, err)
	assert.Equal(t, 8, state.StepIndex)
}

func TestTransition_SequenceCompletion(t *testing.T) {
	cfg := DefaultConfig()
	res := runToCompletion(t, cfg)

	require.Len(t, res.rampPulses, 101)
	assert.Equal(t, 1000, res.rampPulses[0])
	assert.Equal(t, 2000, res.rampPulses[100])
	for i, p := range res.rampPulses {
		assert.Equal(t, 1000+10*i, p)
	}

	// baseline + 101 ramp holds + finalize
	assert.Len(t, res.captures, 103)
	assert.Equal(t, 2000, res.captures[len(res.captures)-1])

	assert.Equal(t, []uint16{1, 0}, res.enableWrites, "disable must be written exactly once, at the end")
	assert.Equal(t, 1, res.sinkCloses)
	assert.True(t, res.completed)
}

func TestTransition_NoRampAfterUpperBound(t *testing.T) {
	cfg := DefaultConfig()
	last := State{Phase: PhaseRamp, StepIndex: cfg.TotalSteps(), PulseWidth: 2000}

	state, effects, err := Transition(cfg, last, EventStepElapsed)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, state.Phase)
	for _, e := range effects {
		if _, ok := e.(Schedule); ok {
			t.Fatal("finalize must not schedule further steps")
		}
	}
	assert.Contains(t, effects, CommandServo{PulseWidth: 1000})
	assert.Contains(t, effects, WriteRegister{Address: 40006, Value: 0})
}

func TestTransition_ShortRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinPulse, cfg.MaxPulse, cfg.Increment = 1200, 1250, 25

	res := runToCompletion(t, cfg)
	assert.Equal(t, []int{1200, 1225, 1250}, res.rampPulses)
	assert.Len(t, res.captures, 5)
}

// ============================================================
// Stop and Idempotence Tests
// ============================================================

func TestTransition_StopDuringRamp(t *testing.T) {
	cfg := DefaultConfig()
	state := State{Phase: PhaseRamp, StepIndex: 40, PulseWidth: 1400, PollRate: poller.RateFast}

	state, effects, err := Transition(cfg, state, EventStop)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, state.Phase)
	assert.Equal(t, []Effect{
		CancelTimers{},
		SetPollRate{Rate: poller.RateIdle},
		CloseSink{},
	}, effects)

	// Late timer events are ignored once idle
	for _, ev := range []Event{EventStepElapsed, EventHoldElapsed} {
		next, effects, err := Transition(cfg, state, ev)
		require.NoError(t, err)
		assert.Empty(t, effects)
		assert.Equal(t, state, next)
	}
}

func TestTransition_StopWhileIdle(t *testing.T) {
	state, effects, err := Transition(DefaultConfig(), State{}, EventStop)
	require.NoError(t, err)
	assert.Empty(t, effects)
	assert.Equal(t, State{}, state)
}

func TestTransition_StartWhileRunning(t *testing.T) {
	running := State{Phase: PhaseRamp, StepIndex: 12, PulseWidth: 1120}

	state, effects, err := Transition(DefaultConfig(), running, EventStart)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Empty(t, effects)
	assert.Equal(t, running, state, "step index must not reset")
}

func TestTransition_UnexpectedTimerIgnored(t *testing.T) {
	cfg := DefaultConfig()

	state := State{Phase: PhaseEnablePower}
	next, effects, err := Transition(cfg, state, EventHoldElapsed)
	require.NoError(t, err)
	assert.Empty(t, effects)
	assert.Equal(t, state, next)

	state = State{Phase: PhaseHoldBaseline}
	next, effects, err = Transition(cfg, state, EventStepElapsed)
	require.NoError(t, err)
	assert.Empty(t, effects)
	assert.Equal(t, state, next)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "IDLE", PhaseIdle.String())
	assert.Equal(t, "RAMP", PhaseRamp.String())
	assert.Equal(t, "UNKNOWN(9)", Phase(9).String())
	assert.Equal(t, "HOLD_ELAPSED", EventHoldElapsed.String())
}
