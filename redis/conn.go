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
	"time"

	"github.com/JOT85/redis-go/resp"
	"github.com/pkg/errors"
)

// Conn is a connection with a single owner. Command execution is strictly
// serial; concurrent calls are not allowed. Use MultiplexedConn to share a
// connection between goroutines.
type Conn struct {
	conn net.Conn
	dec  *resp.Decoder
	buf  []byte // request pack buffer, reused across commands
	db   int64
}

// Connect opens a connection, runs the handshake from info, and returns
// the connection ready for commands. Any I/O or decode error afterwards
// leaves the Conn in an undefined state; discard it.
func Connect(ctx context.Context, info *ConnInfo) (*Conn, error) {
	conn, err := dialTransport(ctx, info)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		conn: conn,
		dec:  resp.NewDecoder(conn),
		db:   info.DB,
	}
	if err := authenticate(ctx, info, c); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Exec implements Commander.
func (c *Conn) Exec(ctx context.Context, cmd *Cmd) (resp.Value, error) {
	defer c.applyDeadline(ctx)()

	c.buf = cmd.pack(c.buf[:0])
	if _, err := c.conn.Write(c.buf); err != nil {
		return resp.Value{}, errors.Wrap(err, "request write")
	}
	v, err := c.dec.Decode()
	if err != nil {
		return resp.Value{}, err
	}
	if err := v.Err(); err != nil {
		return resp.Value{}, err
	}
	return v, nil
}

// ExecPipeline implements Commander.
func (c *Conn) ExecPipeline(ctx context.Context, pipe *Pipeline, offset, count int) ([]resp.Value, error) {
	defer c.applyDeadline(ctx)()

	c.buf = pipe.pack(c.buf[:0])
	if _, err := c.conn.Write(c.buf); err != nil {
		return nil, errors.Wrap(err, "request write")
	}

	frames := make([]resp.Value, 0, offset+count)
	for i := 0; i < offset+count; i++ {
		v, err := c.dec.Decode()
		if err != nil {
			return nil, err
		}
		frames = append(frames, v)
	}
	return trimPreamble(frames, offset)
}

// DB implements Commander.
func (c *Conn) DB() int64 {
	return c.db
}

// Close shuts the transport down.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// applyDeadline maps a context deadline onto the transport, covering both
// the write and the response reads. The returned func clears it again.
func (c *Conn) applyDeadline(ctx context.Context) func() {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		return func() { c.conn.SetDeadline(time.Time{}) }
	}
	return func() {}
}

// trimPreamble drops the first offset frames and surfaces the first error
// reply anywhere in the batch, matching single-command behavior.
func trimPreamble(frames []resp.Value, offset int) ([]resp.Value, error) {
	for _, v := range frames {
		if err := v.Err(); err != nil {
			return nil, err
		}
	}
	return frames[offset:], nil
}

// authenticate runs the connection handshake: AUTH when a password is
// configured, SELECT when a database other than 0 is configured. It uses
// the connection's own command interface, which is what makes a
// MultiplexedConn usable mid-construction.
func authenticate(ctx context.Context, info *ConnInfo, c Commander) error {
	if info.Password != "" {
		v, err := c.Exec(ctx, NewCmd("AUTH").Arg(info.Password))
		if err != nil || !v.Okay() {
			return errors.WithStack(ErrAuthFailed)
		}
	}

	if info.DB != 0 {
		v, err := c.Exec(ctx, NewCmd("SELECT").ArgInt(info.DB))
		if err != nil || !v.Okay() {
			return errors.WithStack(ErrRefusedDB)
		}
	}

	return nil
}
