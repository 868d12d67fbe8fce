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

// Package redis provides asynchronous access to a Redis node over a single
// TCP or unix domain socket connection. Command invocation applies
// <https://redis.io/topics/pipelining> on concurrency: many goroutines
// share one connection, and replies pair with requests in FIFO order.
package redis

import (
	"context"
	"net"
	"path/filepath"
	"time"

	"github.com/JOT85/redis-go/resp"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidConfig rejects connection settings that can never work,
	// like an unresolvable host or a socket type the platform lacks.
	ErrInvalidConfig = errors.New("redis: invalid client configuration")

	// ErrAuthFailed means the server did not accept the password.
	ErrAuthFailed = errors.New("redis: password authentication failed")

	// ErrRefusedDB means the server did not honor the database selection.
	ErrRefusedDB = errors.New("redis: server refused to switch database")

	// ErrConnLost signals connection loss while a request was pending.
	// The request may or may not have been executed by the server.
	ErrConnLost = errors.New("redis: connection lost while awaiting response")

	// ErrClosed rejects command execution after Close.
	ErrClosed = errors.New("redis: client closed")
)

// ConnInfo addresses a Redis node and carries the settings applied when a
// connection to it is established.
type ConnInfo struct {
	// Addr is the node address. An absolute file path (e.g.
	// "/var/run/redis.sock") selects a unix domain socket; anything else
	// is host:port, where the host defaults to localhost and the port
	// defaults to 6379.
	Addr string

	// Password enables the AUTH handshake when non-empty.
	Password string

	// DB is selected on every new connection when non-zero.
	DB int64

	// DialTimeout limits connection establishment. Zero defaults to
	// one second.
	DialTimeout time.Duration
}

// Commander is the capability set shared by all connection flavours:
// Conn, MultiplexedConn and ConnManager.
type Commander interface {
	// Exec sends one command and returns its reply frame. A server error
	// reply is returned as resp.ServerError.
	Exec(ctx context.Context, cmd *Cmd) (resp.Value, error)

	// ExecPipeline sends a packed pipeline whose response spans
	// offset+count frames, discards the first offset frames (transaction
	// preamble), and returns the remaining count.
	ExecPipeline(ctx context.Context, pipe *Pipeline, offset, count int) ([]resp.Value, error)

	// DB returns the database selected during the connection handshake.
	// The value is cached at connect time.
	DB() int64
}

func isLocalAddr(s string) bool {
	return len(s) != 0 && s[0] == '/'
}

func normalizeAddr(s string) string {
	if isLocalAddr(s) {
		return filepath.Clean(s)
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		host = s
	}
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "6379"
	}
	return net.JoinHostPort(host, port)
}
