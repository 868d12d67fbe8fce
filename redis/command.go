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
	"strconv"

	"github.com/JOT85/redis-go/resp"
)

// Cmd builds one command as a RESP multi-bulk request.
//
//	reply, err := conn.Exec(ctx, redis.NewCmd("SET").Arg("key").Arg("value"))
type Cmd struct {
	args [][]byte
}

// NewCmd starts a command with the given name.
func NewCmd(name string) *Cmd {
	return &Cmd{args: [][]byte{[]byte(name)}}
}

// Arg appends a string argument.
func (c *Cmd) Arg(arg string) *Cmd {
	c.args = append(c.args, []byte(arg))
	return c
}

// ArgBytes appends a binary argument.
func (c *Cmd) ArgBytes(arg []byte) *Cmd {
	c.args = append(c.args, arg)
	return c
}

// ArgInt appends an integer argument in decimal notation.
func (c *Cmd) ArgInt(arg int64) *Cmd {
	c.args = append(c.args, strconv.AppendInt(nil, arg, 10))
	return c
}

// pack appends the wire encoding of the command to buf.
func (c *Cmd) pack(buf []byte) []byte {
	buf = resp.AppendArray(buf, len(c.args))
	for _, arg := range c.args {
		buf = resp.AppendBulk(buf, arg)
	}
	return buf
}

// Pipeline batches commands into a single request write. The whole batch
// occupies one submission on the wire, so no other caller's command can
// interleave with it.
type Pipeline struct {
	cmds   []*Cmd
	atomic bool
}

// NewPipeline returns an empty pipeline.
func NewPipeline() *Pipeline {
	return new(Pipeline)
}

// Add appends a command to the batch.
func (p *Pipeline) Add(cmd *Cmd) *Pipeline {
	p.cmds = append(p.cmds, cmd)
	return p
}

// Atomic wraps the batch in MULTI/EXEC so the server executes it as one
// transaction. Query then returns the single EXEC reply.
func (p *Pipeline) Atomic() *Pipeline {
	p.atomic = true
	return p
}

// Len returns the number of commands in the batch,
// excluding any MULTI/EXEC wrapping.
func (p *Pipeline) Len() int {
	return len(p.cmds)
}

// pack appends the wire encoding of the whole batch to buf.
func (p *Pipeline) pack(buf []byte) []byte {
	if p.atomic {
		buf = NewCmd("MULTI").pack(buf)
	}
	for _, cmd := range p.cmds {
		buf = cmd.pack(buf)
	}
	if p.atomic {
		buf = NewCmd("EXEC").pack(buf)
	}
	return buf
}

// span returns the response layout: the number of preamble frames to
// discard and the number of frames to return. An atomic batch answers
// with OK, one QUEUED per command, and the EXEC array; only the array
// is of interest.
func (p *Pipeline) span() (offset, count int) {
	if p.atomic {
		return len(p.cmds) + 1, 1
	}
	return 0, len(p.cmds)
}

// Query executes the batch on c and returns the relevant reply frames:
// one per command, or just the EXEC reply for an atomic batch.
func (p *Pipeline) Query(ctx context.Context, c Commander) ([]resp.Value, error) {
	offset, count := p.span()
	return c.ExecPipeline(ctx, p, offset, count)
}
