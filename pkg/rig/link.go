// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rig

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/flowbench/pkg/modbus"
)

// DefaultResponseTimeout bounds how long the link waits for a reply
const DefaultResponseTimeout = 500 * time.Millisecond

var (
	// ErrTransportUnavailable is returned when the Modbus link is not open
	ErrTransportUnavailable = errors.New("modbus transport unavailable")

	// ErrResponseTimeout is delivered when a request gets no reply in time
	ErrResponseTimeout = errors.New("modbus response timeout")

	// ErrCancelled is delivered to queued requests dropped by Cancel
	ErrCancelled = errors.New("request cancelled")
)

// Origin tags who issued a request
type Origin int

const (
	OriginPoll Origin = iota
	OriginManual
	OriginSequence
)

// String returns the origin name
func (o Origin) String() string {
	switch o {
	case OriginPoll:
		return "poll"
	case OriginManual:
		return "manual"
	case OriginSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Request is one Modbus transaction
type Request struct {
	ID       uint64
	Origin   Origin
	Function byte
	Address  int
	Value    uint16
	Sent     time.Time

	frame []byte
	reply func(Result)
}

// Result is the outcome of a request. Value is the register contents for a
// read and the echoed value for a write.
type Result struct {
	Request *Request
	Value   uint16
	Err     error
}

// Link serializes requests on one transport: at most one request is on the
// wire, the rest wait in FIFO order. A reply, a decode error for the same
// function, or the response timeout releases the turn. Link is not safe for
// concurrent use; the session calls it from its event loop only.
type Link struct {
	w       io.Writer
	clock   Clock
	post    func(func())
	timeout time.Duration
	stats   *modbus.Statistics

	queue    []*Request
	inflight *Request
	timer    Timer
	turn     uint64
	nextID   uint64

	// OnResult observes every completed request
	OnResult func(Result)
}

// NewLink creates a link. post schedules a callback on the owner's loop.
func NewLink(clock Clock, post func(func()), timeout time.Duration, stats *modbus.Statistics) *Link {
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	return &Link{clock: clock, post: post, timeout: timeout, stats: stats}
}

// Attach sets the transport writer. A nil writer marks the link down and
// fails every waiting request.
func (l *Link) Attach(w io.Writer) {
	l.w = w
	if w == nil {
		l.failAll(ErrTransportUnavailable)
	}
}

// Connected reports whether a transport is attached
func (l *Link) Connected() bool {
	return l.w != nil
}

// Busy reports whether a request is outstanding or queued
func (l *Link) Busy() bool {
	return l.inflight != nil || len(l.queue) > 0
}

// Pending returns the number of queued requests, not counting the one on
// the wire
func (l *Link) Pending() int {
	return len(l.queue)
}

// Inflight returns the request awaiting a reply, if any
func (l *Link) Inflight() *Request {
	return l.inflight
}

// Read queues a holding register read
func (l *Link) Read(origin Origin, address int, reply func(Result)) (*Request, error) {
	frame, err := modbus.BuildReadRequest(address)
	if err != nil {
		return nil, err
	}
	return l.submit(&Request{
		Origin:   origin,
		Function: modbus.FuncReadHoldingRegister,
		Address:  address,
		frame:    frame,
		reply:    reply,
	})
}

// Write queues a single register write
func (l *Link) Write(origin Origin, address int, value uint16, reply func(Result)) (*Request, error) {
	frame, err := modbus.BuildWriteRequest(address, value)
	if err != nil {
		return nil, err
	}
	return l.submit(&Request{
		Origin:   origin,
		Function: modbus.FuncWriteSingleRegister,
		Address:  address,
		Value:    value,
		frame:    frame,
		reply:    reply,
	})
}

func (l *Link) submit(req *Request) (*Request, error) {
	if l.w == nil {
		return nil, ErrTransportUnavailable
	}
	l.nextID++
	req.ID = l.nextID
	l.queue = append(l.queue, req)
	l.pump()
	return req, nil
}

// pump sends the next queued request when the wire is free
func (l *Link) pump() {
	for l.inflight == nil && len(l.queue) > 0 && l.w != nil {
		req := l.queue[0]
		l.queue = l.queue[1:]

		req.Sent = l.clock.Now()
		if _, err := l.w.Write(req.frame); err != nil {
			l.finish(req, 0, fmt.Errorf("write request: %w", err))
			continue
		}
		if l.stats != nil {
			l.stats.RequestsSent++
		}

		l.inflight = req
		l.turn++
		turn := l.turn
		l.timer = l.clock.AfterFunc(l.timeout, func() {
			l.post(func() { l.expire(turn) })
		})
	}
}

// expire fails the outstanding request if its turn is still current
func (l *Link) expire(turn uint64) {
	if l.inflight == nil || turn != l.turn {
		return
	}
	req := l.inflight
	l.release()
	if l.stats != nil {
		l.stats.Timeouts++
	}
	l.finish(req, 0, fmt.Errorf("%w: %s %d", ErrResponseTimeout, modbus.FormatFunction(req.Function), req.Address))
	l.pump()
}

// HandleFrame matches a decoded frame to the outstanding request. Returns
// false when the frame does not belong to it.
func (l *Link) HandleFrame(f *modbus.Frame) bool {
	req := l.inflight
	if req == nil || f.Function() != req.Function {
		return false
	}

	var value uint16
	switch req.Function {
	case modbus.FuncReadHoldingRegister:
		v, ok := f.Value()
		if !ok {
			return false
		}
		value = v
	case modbus.FuncWriteSingleRegister:
		wire, v, ok := f.WriteEcho()
		if !ok {
			return false
		}
		if expected, _ := modbus.WireAddress(req.Address); wire != expected {
			return false
		}
		value = v
	}

	l.release()
	l.finish(req, value, nil)
	l.pump()
	return true
}

// HandleError ends the outstanding request with a decode error. Exceptions
// only match a request with the same function; a corrupt frame always ends
// the current turn.
func (l *Link) HandleError(err error) bool {
	req := l.inflight
	if req == nil {
		return false
	}
	var exc *modbus.ExceptionError
	if errors.As(err, &exc) && exc.Function != req.Function {
		return false
	}

	l.release()
	l.finish(req, 0, err)
	l.pump()
	return true
}

// Cancel drops queued requests from origin. A request already on the wire
// is left to complete.
func (l *Link) Cancel(origin Origin) int {
	kept := l.queue[:0]
	var dropped []*Request
	for _, req := range l.queue {
		if req.Origin == origin {
			dropped = append(dropped, req)
			continue
		}
		kept = append(kept, req)
	}
	l.queue = kept
	for _, req := range dropped {
		l.finish(req, 0, ErrCancelled)
	}
	return len(dropped)
}

func (l *Link) release() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.inflight = nil
}

func (l *Link) failAll(err error) {
	if req := l.inflight; req != nil {
		l.release()
		l.finish(req, 0, err)
	}
	queued := l.queue
	l.queue = nil
	for _, req := range queued {
		l.finish(req, 0, err)
	}
}

func (l *Link) finish(req *Request, value uint16, err error) {
	res := Result{Request: req, Value: value, Err: err}
	if l.OnResult != nil {
		l.OnResult(res)
	}
	if req.reply != nil {
		req.reply(res)
	}
}
