// The MIT License (MIT)
//
// Copyright (c) 2020 JOT85
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package redis

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/JOT85/redis-go/resp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// reconnectDelayMax is the idle limit for automated reconnect attempts.
// Sequential connection failure increases the retry delay in steps from
// 1 ms to 500 ms; a successful connect resets it.
const reconnectDelayMax = time.Second / 2

// connFuture memoizes one connection attempt so that any number of
// callers can await the same outcome. done is closed exactly once, after
// conn and err are final.
type connFuture struct {
	done chan struct{}
	conn *MultiplexedConn
	err  error
}

// ConnManager wraps a MultiplexedConn and replaces it transparently when
// the transport dies. The handle itself never changes: commands always
// load the current connection future, so callers hold the manager by
// pointer and share it freely.
//
// A command that fails with a connection-level error still returns that
// error; the manager only guarantees that a reconnect has been kicked off
// in the background, so a later command finds a fresh connection. Server
// replies are never retried: commands are not generally idempotent.
type ConnManager struct {
	info    ConnInfo
	current atomic.Pointer[connFuture]

	// consecutive reconnect failures, drives the backoff
	failures int32

	closed    chan struct{}
	closeOnce sync.Once
}

// NewConnManager connects per info, awaiting the first connection
// synchronously. A failure here is returned as-is; no retry.
func NewConnManager(ctx context.Context, info *ConnInfo) (*ConnManager, error) {
	conn, err := ConnectMultiplexed(ctx, info)
	if err != nil {
		return nil, err
	}

	m := &ConnManager{
		info:   *info,
		closed: make(chan struct{}),
	}
	resolved := &connFuture{done: make(chan struct{}), conn: conn}
	close(resolved.done)
	m.current.Store(resolved)
	return m, nil
}

// Exec implements Commander.
func (m *ConnManager) Exec(ctx context.Context, cmd *Cmd) (resp.Value, error) {
	conn, current, err := m.connection(ctx)
	if err != nil {
		return resp.Value{}, err
	}
	v, err := conn.Exec(ctx, cmd)
	if isDroppedError(err) {
		m.reconnect(current)
	}
	return v, err
}

// ExecPipeline implements Commander.
func (m *ConnManager) ExecPipeline(ctx context.Context, pipe *Pipeline, offset, count int) ([]resp.Value, error) {
	conn, current, err := m.connection(ctx)
	if err != nil {
		return nil, err
	}
	frames, err := conn.ExecPipeline(ctx, pipe, offset, count)
	if isDroppedError(err) {
		m.reconnect(current)
	}
	return frames, err
}

// DB implements Commander.
func (m *ConnManager) DB() int64 {
	return m.info.DB
}

// Close stops reconnection and closes the current connection. Commands
// issued afterwards fail with ErrClosed.
func (m *ConnManager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closed)
		current := m.current.Load()
		select {
		case <-current.done:
			if current.conn != nil {
				err = current.conn.Close()
			}
		default:
			// A reconnect is resolving; it observes m.closed and
			// discards its own connection.
		}
	})
	return err
}

// connection awaits the current connection future. An I/O failure of the
// future itself triggers a reconnect; expiry of the caller's ctx does
// not, because the future may still resolve for other callers.
func (m *ConnManager) connection(ctx context.Context) (*MultiplexedConn, *connFuture, error) {
	current := m.current.Load()
	select {
	case <-current.done:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	if current.err != nil {
		if isDroppedError(current.err) {
			m.reconnect(current)
		}
		return nil, nil, current.err
	}
	return current.conn, current, nil
}

// reconnect installs a fresh connection future in place of the observed
// one. The compare-and-swap ensures at most one replacement per observed
// failure: racing callers all observed the same pointer, so exactly one
// wins and eagerly resolves; the losers await the winner's future on
// their next command.
func (m *ConnManager) reconnect(observed *connFuture) {
	select {
	case <-m.closed:
		return
	default:
	}

	fresh := &connFuture{done: make(chan struct{})}
	if m.current.CompareAndSwap(observed, fresh) {
		go m.resolve(fresh)
	}
}

// resolve dials a replacement connection and publishes the outcome.
func (m *ConnManager) resolve(f *connFuture) {
	defer close(f.done)

	if delay := m.backoff(); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-m.closed:
			timer.Stop()
			f.err = errors.WithStack(ErrClosed)
			return
		}
	}

	conn, err := ConnectMultiplexed(context.Background(), &m.info)
	if err != nil {
		atomic.AddInt32(&m.failures, 1)
		logrus.WithError(err).WithField("addr", m.info.Addr).Warn("redis: reconnect failed")
		f.err = err
		return
	}

	select {
	case <-m.closed:
		conn.Close()
		f.err = errors.WithStack(ErrClosed)
		return
	default:
	}

	atomic.StoreInt32(&m.failures, 0)
	logrus.WithField("addr", m.info.Addr).Debug("redis: reconnected")
	f.conn = conn
}

func (m *ConnManager) backoff() time.Duration {
	n := atomic.LoadInt32(&m.failures)
	if n <= 0 {
		return 0
	}
	if n > 16 {
		return reconnectDelayMax
	}
	d := time.Millisecond << uint(n-1)
	if d > reconnectDelayMax {
		d = reconnectDelayMax
	}
	return d
}

// isDroppedError reports whether err means the connection is gone: an
// I/O failure or the pipeline's connection-lost condition. Server
// replies, configuration errors, handshake refusals, protocol
// violations and context expiry do not count.
func isDroppedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnLost) {
		return true
	}

	var se resp.ServerError
	if errors.As(err, &se) {
		return false
	}
	switch {
	case errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrAuthFailed),
		errors.Is(err, ErrRefusedDB),
		errors.Is(err, ErrClosed),
		errors.Is(err, resp.ErrProtocol),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
