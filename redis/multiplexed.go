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

	"github.com/JOT85/redis-go/resp"
)

// MultiplexedConn shares one transport between any number of goroutines.
// All callers submit through the same pipeline driver, and replies pair
// with requests in submission order. Pass the pointer around freely;
// every holder talks over the same connection.
type MultiplexedConn struct {
	pl *pipeline
	db int64
}

// ConnectMultiplexed opens a connection, starts its driver, and runs the
// handshake from info over the multiplexed interface itself. On handshake
// failure the connection is torn down and never returned.
func ConnectMultiplexed(ctx context.Context, info *ConnInfo) (*MultiplexedConn, error) {
	conn, err := dialTransport(ctx, info)
	if err != nil {
		return nil, err
	}

	c := &MultiplexedConn{
		pl: newPipeline(conn),
		db: info.DB,
	}
	if err := authenticate(ctx, info, c); err != nil {
		c.pl.Close()
		return nil, err
	}
	return c, nil
}

// Exec implements Commander.
func (c *MultiplexedConn) Exec(ctx context.Context, cmd *Cmd) (resp.Value, error) {
	frames, err := c.pl.send(ctx, cmd.pack(nil), 1)
	if err != nil {
		return resp.Value{}, err
	}
	v := frames[0]
	if err := v.Err(); err != nil {
		return resp.Value{}, err
	}
	return v, nil
}

// ExecPipeline implements Commander.
func (c *MultiplexedConn) ExecPipeline(ctx context.Context, pipe *Pipeline, offset, count int) ([]resp.Value, error) {
	frames, err := c.pl.send(ctx, pipe.pack(nil), offset+count)
	if err != nil {
		return nil, err
	}
	return trimPreamble(frames, offset)
}

// DB implements Commander.
func (c *MultiplexedConn) DB() int64 {
	return c.db
}

// Close stops the driver and closes the transport. Pending and future
// requests fail with ErrClosed.
func (c *MultiplexedConn) Close() error {
	return c.pl.Close()
}
