// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rig runs a flow bench session: one event loop that owns the
// Modbus link, the servo, the poll timer and the auto sequence.
package rig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Thermoquad/flowbench/pkg/capture"
	"github.com/Thermoquad/flowbench/pkg/maestro"
	"github.com/Thermoquad/flowbench/pkg/modbus"
	"github.com/Thermoquad/flowbench/pkg/poller"
	"github.com/Thermoquad/flowbench/pkg/registers"
	"github.com/Thermoquad/flowbench/pkg/sequence"
)

// ErrSessionClosed is returned by calls made after Run has returned
var ErrSessionClosed = errors.New("session closed")

// ErrServoUnavailable is returned when no servo port is attached
var ErrServoUnavailable = errors.New("servo port unavailable")

// SinkFactory opens the capture sink for a sequence run
type SinkFactory func() (capture.Sink, error)

// Options configures a session
type Options struct {
	Table           *registers.Table
	Sequence        sequence.Config
	IdleInterval    time.Duration
	FastInterval    time.Duration
	ResponseTimeout time.Duration
	ServoChannel    int
	Clock           Clock
	Logger          *slog.Logger
	OpenSink        SinkFactory
}

// Status is a point-in-time view of the session
type Status struct {
	Sequence     sequence.State
	TotalSteps   int
	Connected    bool
	ServoPulse   int
	HasServo     bool
	PollRate     poller.Rate
	QueueDepth   int
	Stats        modbus.Statistics
	LastNotice   Notice
	SinkOpen     bool
	InflightAddr int
	RunsComplete int
}

// Session owns all bench state. Every mutation happens on the goroutine
// running Run; other goroutines post closures to it.
type Session struct {
	opts    Options
	clock   Clock
	logger  *slog.Logger
	table   *registers.Table
	store   *registers.Store
	sched   *poller.Scheduler
	decoder *modbus.Decoder
	stats   *modbus.Statistics
	link    *Link
	servo   *maestro.Servo

	state     sequence.State
	stepGen   uint64
	stepTimer Timer
	pollGen   uint64
	pollTimer Timer
	sink      capture.Sink
	notice    Notice
	runs      int

	events  chan func()
	notices chan Notice
	done    chan struct{}
}

// NewSession creates a session. The Modbus and servo transports are attached
// separately.
func NewSession(opts Options) (*Session, error) {
	if opts.Table == nil {
		opts.Table = registers.DefaultTable()
	}
	if opts.Sequence == (sequence.Config{}) {
		opts.Sequence = sequence.DefaultConfig()
	}
	if err := opts.Sequence.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Session{
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger,
		table:   opts.Table,
		store:   registers.NewStore(),
		sched:   poller.NewScheduler(opts.Table.Addresses(), opts.IdleInterval, opts.FastInterval),
		decoder: modbus.NewDecoder(),
		stats:   modbus.NewStatistics(),
		events:  make(chan func(), 1024),
		notices: make(chan Notice, 16),
		done:    make(chan struct{}),
	}
	s.link = NewLink(opts.Clock, s.post, opts.ResponseTimeout, s.stats)
	s.link.OnResult = s.onResult
	return s, nil
}

// Store returns the register store. It is safe to read from any goroutine.
func (s *Session) Store() *registers.Store {
	return s.store
}

// Table returns the register table
func (s *Session) Table() *registers.Table {
	return s.table
}

// Notices delivers operator notices. Notices are dropped when nobody reads.
func (s *Session) Notices() <-chan Notice {
	return s.notices
}

// Run processes events until ctx is cancelled. On exit the step and poll
// timers are stopped and an open capture sink is closed.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	s.schedulePoll()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case fn := <-s.events:
			fn()
		}
	}
}

func (s *Session) shutdown() {
	s.cancelStepTimer()
	s.pollGen++
	if s.pollTimer != nil {
		s.pollTimer.Stop()
	}
	s.closeSink()
}

// post queues fn on the event loop
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// call runs fn on the event loop and waits for it
func (s *Session) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case s.events <- func() { fn(); close(finished) }:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver hands inbound transport bytes to the event loop
func (s *Session) Deliver(p []byte) {
	buf := make([]byte, len(p))
	copy(buf, p)
	s.post(func() { s.onBytes(buf) })
}

// AttachModbus sets the Modbus transport; nil detaches it
func (s *Session) AttachModbus(ctx context.Context, w Connection) error {
	return s.call(ctx, func() {
		if w == nil {
			s.link.Attach(nil)
			s.decoder.Reset()
			return
		}
		s.link.Attach(w)
	})
}

// AttachServo sets the servo transport; nil detaches it
func (s *Session) AttachServo(ctx context.Context, w Connection) error {
	var err error
	callErr := s.call(ctx, func() {
		if w == nil {
			s.servo = nil
			return
		}
		s.servo, err = maestro.NewServo(w, s.opts.ServoChannel)
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// ============================================================
// Inbound path
// ============================================================

func (s *Session) onBytes(p []byte) {
	s.decoder.Write(p)
	for {
		frame, err := s.decoder.Next()
		if frame == nil && err == nil {
			break
		}
		s.stats.Update(frame, err)

		if err != nil {
			s.onDecodeError(err)
			continue
		}
		if !s.link.HandleFrame(frame) {
			s.logger.Debug("unsolicited frame", "frame", modbus.FormatHex(frame.Bytes()))
		}
	}
	s.stats.SetResyncBytes(s.decoder.Discarded())
}

func (s *Session) onDecodeError(err error) {
	switch {
	case modbus.IsChecksumError(err):
		s.publish(slog.LevelWarn, "CRC Error")
	case modbus.IsException(err):
		s.publish(slog.LevelWarn, "Modbus Exception")
	}
	s.logger.Debug("frame rejected", "error", err)
	s.link.HandleError(err)
}

// onResult records read values against the request that produced them
func (s *Session) onResult(res Result) {
	req := res.Request
	if res.Err != nil {
		if !errors.Is(res.Err, ErrCancelled) {
			s.logger.Debug("request failed", "origin", req.Origin, "address", req.Address, "error", res.Err)
		}
		return
	}
	if req.Function == modbus.FuncReadHoldingRegister {
		s.store.Update(req.Address, res.Value, s.clock.Now())
	}
}

// ============================================================
// Polling
// ============================================================

func (s *Session) schedulePoll() {
	if s.pollTimer != nil {
		s.pollTimer.Stop()
	}
	s.pollGen++
	gen := s.pollGen
	s.pollTimer = s.clock.AfterFunc(s.sched.Interval(), func() {
		s.post(func() { s.onPollTick(gen) })
	})
}

func (s *Session) onPollTick(gen uint64) {
	if gen != s.pollGen {
		return
	}
	// A tick that lands while the link is busy is skipped so polling never
	// builds a backlog ahead of sequence writes
	if s.link.Connected() && !s.link.Busy() {
		if addr, ok := s.sched.Next(); ok {
			if _, err := s.link.Read(OriginPoll, addr, nil); err != nil {
				s.logger.Debug("poll failed", "address", addr, "error", err)
			}
		}
	}
	s.schedulePoll()
}

// ============================================================
// Sequence
// ============================================================

// StartSequence begins an auto sequence run. The capture sink is opened
// before the first write.
func (s *Session) StartSequence(ctx context.Context) error {
	var err error
	callErr := s.call(ctx, func() { err = s.startSequence() })
	if callErr != nil {
		return callErr
	}
	return err
}

func (s *Session) startSequence() error {
	if s.state.Running() {
		return sequence.ErrAlreadyRunning
	}
	if !s.link.Connected() {
		s.publish(slog.LevelWarn, "Not connected")
		return ErrTransportUnavailable
	}

	if s.opts.OpenSink != nil {
		sink, err := s.opts.OpenSink()
		if err != nil {
			return fmt.Errorf("open capture sink: %w", err)
		}
		s.sink = sink
	}

	if err := s.dispatch(sequence.EventStart); err != nil {
		s.closeSink()
		return err
	}
	s.logger.Info("sequence started",
		"steps", s.opts.Sequence.TotalSteps(),
		"duration", s.opts.Sequence.Duration())
	return nil
}

// StopSequence aborts a run. When it returns no further sequence writes
// will be issued. Stopping an idle session does nothing.
func (s *Session) StopSequence(ctx context.Context) error {
	var err error
	callErr := s.call(ctx, func() {
		wasRunning := s.state.Running()
		err = s.dispatch(sequence.EventStop)
		if wasRunning && err == nil {
			s.logger.Info("sequence stopped", "step", s.state.StepIndex)
			s.publish(slog.LevelInfo, "Sequence stopped")
		}
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// dispatch feeds an event to the controller and carries out its effects
func (s *Session) dispatch(ev sequence.Event) error {
	next, effects, err := sequence.Transition(s.opts.Sequence, s.state, ev)
	if err != nil {
		return err
	}
	if next.Phase != s.state.Phase {
		s.logger.Debug("sequence transition", "event", ev, "from", s.state.Phase, "to", next.Phase)
	}
	s.state = next
	for _, e := range effects {
		s.apply(e)
	}
	return nil
}

func (s *Session) apply(e sequence.Effect) {
	switch e := e.(type) {
	case sequence.WriteRegister:
		if _, err := s.link.Write(OriginSequence, e.Address, e.Value, nil); err != nil {
			s.publish(slog.LevelWarn, fmt.Sprintf("Write %d failed: %v", e.Address, err))
		}
	case sequence.CommandServo:
		if err := s.setServo(e.PulseWidth); err != nil {
			s.publish(slog.LevelWarn, fmt.Sprintf("Servo %dus failed: %v", e.PulseWidth, err))
		}
	case sequence.SetPollRate:
		if s.sched.Rate() != e.Rate {
			s.sched.SetRate(e.Rate)
			s.schedulePoll()
		}
	case sequence.Schedule:
		s.scheduleStep(e.Event, e.Delay)
	case sequence.Capture:
		s.capture(e.PulseWidth)
	case sequence.CancelTimers:
		s.cancelStepTimer()
		s.link.Cancel(OriginSequence)
	case sequence.CloseSink:
		s.closeSink()
	case sequence.Completed:
		s.runs++
		s.logger.Info("sequence complete")
		s.publish(slog.LevelInfo, "Sequence complete")
	}
}

func (s *Session) scheduleStep(ev sequence.Event, d time.Duration) {
	gen := s.stepGen
	s.stepTimer = s.clock.AfterFunc(d, func() {
		s.post(func() {
			if gen != s.stepGen {
				return
			}
			s.stepTimer = nil
			if err := s.dispatch(ev); err != nil {
				s.logger.Error("sequence event failed", "event", ev, "error", err)
			}
		})
	})
}

// cancelStepTimer invalidates every pending step callback, including ones
// already posted to the loop
func (s *Session) cancelStepTimer() {
	s.stepGen++
	if s.stepTimer != nil {
		s.stepTimer.Stop()
		s.stepTimer = nil
	}
}

func (s *Session) capture(pulse int) {
	if s.sink == nil {
		return
	}
	rec := capture.NewRecord(pulse, s.clock.Now(), s.store, s.table)
	if err := s.sink.Write(rec); err != nil {
		s.publish(slog.LevelError, fmt.Sprintf("Capture failed: %v", err))
	}
}

func (s *Session) closeSink() {
	if s.sink == nil {
		return
	}
	if err := s.sink.Close(); err != nil {
		s.logger.Error("close capture sink", "error", err)
	}
	s.sink = nil
}

// ============================================================
// Manual operations
// ============================================================

// ReadRegister reads one register and waits for the reply. The value is also
// recorded in the store.
func (s *Session) ReadRegister(ctx context.Context, address int) (uint16, error) {
	res, err := s.transact(ctx, func(reply func(Result)) (*Request, error) {
		return s.link.Read(OriginManual, address, reply)
	})
	return res.Value, err
}

// WriteRegister writes one register and waits for the echo
func (s *Session) WriteRegister(ctx context.Context, address int, value uint16) error {
	if d, ok := s.table.Lookup(address); ok && d.ReadOnly {
		return fmt.Errorf("register %d (%s) is read-only", address, d.Name)
	}
	_, err := s.transact(ctx, func(reply func(Result)) (*Request, error) {
		return s.link.Write(OriginManual, address, value, reply)
	})
	return err
}

func (s *Session) transact(ctx context.Context, submit func(func(Result)) (*Request, error)) (Result, error) {
	results := make(chan Result, 1)
	var err error
	callErr := s.call(ctx, func() {
		_, err = submit(func(res Result) { results <- res })
	})
	if callErr != nil {
		return Result{}, callErr
	}
	if err != nil {
		return Result{}, err
	}

	select {
	case res := <-results:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-s.done:
		return Result{}, ErrSessionClosed
	}
}

// SetServo commands the actuator to a pulse width
func (s *Session) SetServo(ctx context.Context, microseconds int) error {
	var err error
	callErr := s.call(ctx, func() { err = s.setServo(microseconds) })
	if callErr != nil {
		return callErr
	}
	return err
}

// NudgeServo moves the actuator by delta from its last commanded position
func (s *Session) NudgeServo(ctx context.Context, delta int) error {
	var err error
	callErr := s.call(ctx, func() {
		if s.servo == nil {
			err = ErrServoUnavailable
			return
		}
		err = s.setServo(s.servo.Pulse() + delta)
	})
	if callErr != nil {
		return callErr
	}
	return err
}

func (s *Session) setServo(us int) error {
	if s.servo == nil {
		return ErrServoUnavailable
	}
	if err := s.servo.SetPulse(us); err != nil {
		return err
	}
	s.stats.ServoCommands++
	return nil
}

// ============================================================
// Status
// ============================================================

// Status returns a snapshot of the session
func (s *Session) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.call(ctx, func() {
		st = Status{
			Sequence:     s.state,
			TotalSteps:   s.opts.Sequence.TotalSteps(),
			Connected:    s.link.Connected(),
			HasServo:     s.servo != nil,
			PollRate:     s.sched.Rate(),
			QueueDepth:   s.link.Pending(),
			Stats:        *s.stats,
			LastNotice:   s.notice,
			SinkOpen:     s.sink != nil,
			RunsComplete: s.runs,
		}
		if s.servo != nil {
			st.ServoPulse = s.servo.Pulse()
		}
		if req := s.link.Inflight(); req != nil {
			st.InflightAddr = req.Address
		}
	})
	return st, err
}

// ResetStats clears the link statistics
func (s *Session) ResetStats(ctx context.Context) error {
	return s.call(ctx, func() {
		s.stats.Reset()
		s.decoder.ResetCounters()
	})
}

// publish logs a notice and offers it to the operator
func (s *Session) publish(level slog.Level, msg string) {
	n := Notice{Level: level, Message: msg, Time: s.clock.Now()}
	s.notice = n
	s.logger.Log(context.Background(), level, msg)
	select {
	case s.notices <- n:
	default:
	}
}
