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
	"net"
	"testing"

	"github.com/JOT85/redis-go/resp"
	"github.com/pkg/errors"
)

// startFakeNode listens on a loopback port and hands every accepted
// connection to handler. It returns the address to connect to.
func startFakeNode(t *testing.T, handler func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handler(conn)
		}
	}()
	return ln.Addr().String()
}

func TestConnectHandshake(t *testing.T) {
	authReq := string(NewCmd("AUTH").Arg("secret").pack(nil))
	selectReq := string(NewCmd("SELECT").ArgInt(2).pack(nil))

	addr := startFakeNode(t, func(conn net.Conn) {
		defer conn.Close()
		serveOnce(conn, len(authReq), "+OK\r\n")
		serveOnce(conn, len(selectReq), "+OK\r\n")
		serveOnce(conn, len(pingRequest), "+PONG\r\n")
	})

	c, err := Connect(context.Background(), &ConnInfo{
		Addr:     addr,
		Password: "secret",
		DB:       2,
	})
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer c.Close()

	if c.DB() != 2 {
		t.Fatalf("unexpected db %d", c.DB())
	}

	v, err := c.Exec(context.Background(), NewCmd("PING"))
	if err != nil || v.Status != "PONG" {
		t.Fatalf("unexpected PING result: %v %+v", err, v)
	}
}

// A rejected AUTH means no connection is handed out at all.
func TestConnectAuthFailed(t *testing.T) {
	authReq := string(NewCmd("AUTH").Arg("wrong").pack(nil))

	addr := startFakeNode(t, func(conn net.Conn) {
		defer conn.Close()
		serveOnce(conn, len(authReq), "-ERR invalid password\r\n")
	})

	_, err := Connect(context.Background(), &ConnInfo{Addr: addr, Password: "wrong"})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestConnectSelectRefused(t *testing.T) {
	selectReq := string(NewCmd("SELECT").ArgInt(9).pack(nil))

	addr := startFakeNode(t, func(conn net.Conn) {
		defer conn.Close()
		serveOnce(conn, len(selectReq), "-ERR DB index is out of range\r\n")
	})

	_, err := Connect(context.Background(), &ConnInfo{Addr: addr, DB: 9})
	if !errors.Is(err, ErrRefusedDB) {
		t.Fatalf("expected ErrRefusedDB, got %v", err)
	}
}

func TestConnectMultiplexedHandshake(t *testing.T) {
	authReq := string(NewCmd("AUTH").Arg("secret").pack(nil))

	addr := startFakeNode(t, func(conn net.Conn) {
		defer conn.Close()
		serveOnce(conn, len(authReq), "+OK\r\n")
		serveOnce(conn, len(pingRequest), "+PONG\r\n")
	})

	mc, err := ConnectMultiplexed(context.Background(), &ConnInfo{
		Addr:     addr,
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("ConnectMultiplexed returned error: %v", err)
	}
	defer mc.Close()

	v, err := mc.Exec(context.Background(), NewCmd("PING"))
	if err != nil || v.Status != "PONG" {
		t.Fatalf("unexpected PING result: %v %+v", err, v)
	}
}

func TestConnectMultiplexedAuthFailed(t *testing.T) {
	authReq := string(NewCmd("AUTH").Arg("wrong").pack(nil))

	addr := startFakeNode(t, func(conn net.Conn) {
		defer conn.Close()
		serveOnce(conn, len(authReq), "-ERR invalid password\r\n")
	})

	_, err := ConnectMultiplexed(context.Background(), &ConnInfo{Addr: addr, Password: "wrong"})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

// A pipeline on a single connection reads offset+count frames serially
// and discards the preamble.
func TestConnExecPipeline(t *testing.T) {
	pipe := NewPipeline().Add(NewCmd("SET").Arg("k").Arg("v")).Atomic()
	req := string(pipe.pack(nil))

	addr := startFakeNode(t, func(conn net.Conn) {
		defer conn.Close()
		serveOnce(conn, len(req), "+OK\r\n+QUEUED\r\n*1\r\n+OK\r\n")
	})

	c, err := Connect(context.Background(), &ConnInfo{Addr: addr})
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer c.Close()

	frames, err := pipe.Query(context.Background(), c)
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(frames) != 1 || frames[0].Kind != resp.Bulk {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestConnServerError(t *testing.T) {
	req := string(NewCmd("GET").Arg("k").pack(nil))

	addr := startFakeNode(t, func(conn net.Conn) {
		defer conn.Close()
		serveOnce(conn, len(req), "-WRONGTYPE not a string\r\n")
	})

	c, err := Connect(context.Background(), &ConnInfo{Addr: addr})
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer c.Close()

	_, err = c.Exec(context.Background(), NewCmd("GET").Arg("k"))
	var se resp.ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if se.Prefix() != "WRONGTYPE" {
		t.Fatalf("unexpected prefix %q", se.Prefix())
	}
}

func TestConnectInvalidHost(t *testing.T) {
	_, err := Connect(context.Background(), &ConnInfo{Addr: "host.invalid:6379"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNormalizeAddr(t *testing.T) {
	for in, want := range map[string]string{
		"":                    "localhost:6379",
		"example.com":         "example.com:6379",
		"example.com:7000":    "example.com:7000",
		"/var/run/redis.sock": "/var/run/redis.sock",
	} {
		if got := normalizeAddr(in); got != want {
			t.Fatalf("normalizeAddr(%q) = %q, want %q", in, got, want)
		}
	}
}
