// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Reconnect backoff bounds
const (
	InitialBackoff = 1 * time.Second
	MaxBackoff     = 30 * time.Second
)

// Dialer opens the Modbus transport and describes it
type Dialer func(ctx context.Context) (Connection, string, error)

// ServeModbus dials the Modbus transport, attaches it to the session and
// feeds inbound bytes to the event loop. A lost connection is redialed with
// exponential backoff. Returns when ctx is cancelled, or with the first dial
// error.
func (s *Session) ServeModbus(ctx context.Context, dial Dialer) error {
	conn, info, err := dial(ctx)
	if err != nil {
		return err
	}

	for {
		if err := s.AttachModbus(ctx, conn); err != nil {
			conn.Close()
			return err
		}
		s.post(func() { s.publish(slog.LevelInfo, "Connected: "+info) })

		readErr := s.readFrom(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.AttachModbus(ctx, nil); err != nil {
			return err
		}
		s.post(func() { s.publish(slog.LevelWarn, fmt.Sprintf("Connection lost: %v", readErr)) })

		conn, info, err = s.redial(ctx, dial)
		if err != nil {
			return err
		}
	}
}

// readFrom delivers bytes from conn until a read fails
func (s *Session) readFrom(ctx context.Context, conn Connection) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.Deliver(buf[:n])
		}
		if err != nil {
			return err
		}
	}
}

// redial retries dial with exponential backoff until it succeeds or ctx ends
func (s *Session) redial(ctx context.Context, dial Dialer) (Connection, string, error) {
	backoff := InitialBackoff

	for {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(backoff):
		}

		conn, info, err := dial(ctx)
		if err == nil {
			return conn, info, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, "", err
		}
		s.logger.Debug("reconnect failed", "error", err, "backoff", backoff)

		backoff *= 2
		if backoff > MaxBackoff {
			backoff = MaxBackoff
		}
	}
}
