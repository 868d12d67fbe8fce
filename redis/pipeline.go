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

	"github.com/JOT85/redis-go/resp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// submissionBacklog bounds the number of queued submissions. Producers
// block when the driver falls behind. The value is deliberately small and
// fixed; it is not a tuning knob.
const submissionBacklog = 50

// frameBacklog decouples frame decoding from the driver loop.
const frameBacklog = 32

// A submission is one request write together with the number of reply
// frames it consumes from the response stream.
type submission struct {
	bytes    []byte
	expected int
	reply    chan result // buffered(1); receives exactly one result, or none when the driver dies
}

type result struct {
	frames []resp.Value
	err    error
}

// An inFlight record pairs an accepted submission with the reply frames
// accumulated for it so far. len(acc) < expected until fulfillment.
type inFlight struct {
	sub submission
	acc []resp.Value
}

// pipeline multiplexes submissions from any number of goroutines onto one
// transport. A single driver goroutine owns the write side and the
// in-flight queue; a read goroutine feeds decoded frames to the driver.
// Responses pair with requests in FIFO order, which is exactly the order
// the server produces them in.
type pipeline struct {
	conn        net.Conn
	submissions chan submission
	frames      chan resp.Value
	readErr     error // set before frames is closed, read after

	die        chan struct{}
	dieOnce    sync.Once
	dropReason error // set before die is closed, read after
}

// kill marks the pipeline dead with the given reason. The first caller
// wins; later reasons are discarded.
func (p *pipeline) kill(reason error) {
	p.dieOnce.Do(func() {
		p.dropReason = reason
		close(p.die)
	})
}

func newPipeline(conn net.Conn) *pipeline {
	p := &pipeline{
		conn:        conn,
		submissions: make(chan submission, submissionBacklog),
		frames:      make(chan resp.Value, frameBacklog),
		die:         make(chan struct{}),
	}
	go p.readLoop()
	go p.run()
	return p
}

// send submits one request consuming expected reply frames, and blocks
// until the frames arrive, the transport fails, or ctx expires. On ctx
// expiry the request cannot be unsent: the driver still consumes its
// frames to keep the stream aligned, and the reply is discarded.
func (p *pipeline) send(ctx context.Context, packed []byte, expected int) ([]resp.Value, error) {
	if expected < 1 {
		// a submission consumes at least one frame; an empty batch has
		// nothing on the wire and nothing to wait for
		return nil, nil
	}

	sub := submission{
		bytes:    packed,
		expected: expected,
		reply:    make(chan result, 1),
	}

	select {
	case p.submissions <- sub:
	case <-p.die:
		return nil, errors.WithStack(p.dropReason)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-sub.reply:
		return r.frames, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.die:
		// The teardown may have fulfilled the slot already.
		select {
		case r := <-sub.reply:
			return r.frames, r.err
		default:
			return nil, errors.WithStack(p.dropReason)
		}
	}
}

// Close stops the driver and shuts the transport down. Pending requests
// fail with ErrClosed.
func (p *pipeline) Close() error {
	p.kill(ErrClosed)
	return p.conn.Close()
}

// readLoop decodes inbound frames for the driver. Any read or decode
// error ends the response stream; the error is handed over through
// p.readErr, published by the channel close.
func (p *pipeline) readLoop() {
	dec := resp.NewDecoder(p.conn)
	for {
		v, err := dec.Decode()
		if err != nil {
			p.readErr = err
			close(p.frames)
			return
		}
		select {
		case p.frames <- v:
		case <-p.die:
			return
		}
	}
}

// run is the driver: the sole writer of the transport and sole owner of
// the in-flight queue. It accepts submissions, writes them out, and pairs
// inbound frames with the head record. Any transport failure is terminal
// for the whole connection: the failing request receives the causal
// error, everything else outstanding receives ErrConnLost.
func (p *pipeline) run() {
	var inflight []inFlight

	for {
		select {
		case <-p.die:
			err := errors.WithStack(p.dropReason)
			p.teardown(inflight, err, err)
			return

		case sub := <-p.submissions:
			if _, err := p.conn.Write(sub.bytes); err != nil {
				err = errors.Wrap(err, "request write")
				sub.reply <- result{err: err}
				p.teardown(inflight, errors.WithStack(ErrConnLost), errors.WithStack(ErrConnLost))
				logrus.WithError(err).Debug("redis: pipeline driver stopped on write")
				return
			}
			inflight = append(inflight, inFlight{sub: sub})

		case v, ok := <-p.frames:
			if !ok {
				// An explicit Close races the read failure it causes;
				// the recorded reason wins then.
				select {
				case <-p.die:
					err := errors.WithStack(p.dropReason)
					p.teardown(inflight, err, err)
					return
				default:
				}

				// Response stream ended. The head request gets the read
				// error; a plain EOF means the server went away and
				// everything pending is simply lost.
				headErr := p.readErr
				if headErr == nil || errors.Is(headErr, io.EOF) {
					headErr = errors.WithStack(ErrConnLost)
				} else {
					logrus.WithError(headErr).Debug("redis: pipeline driver stopped on read")
				}
				p.teardown(inflight, headErr, errors.WithStack(ErrConnLost))
				return
			}

			if len(inflight) == 0 {
				continue // no one is waiting for this frame
			}
			head := &inflight[0]
			head.acc = append(head.acc, v)
			if len(head.acc) >= head.sub.expected {
				head.sub.reply <- result{frames: head.acc}
				inflight = inflight[1:]
			}
		}
	}
}

// teardown fails every outstanding request and closes the transport. The
// head in-flight record receives headErr, all others restErr. Queued but
// unwritten submissions are drained and failed too, so that every
// accepted submission observes exactly one outcome.
func (p *pipeline) teardown(inflight []inFlight, headErr, restErr error) {
	for i := range inflight {
		err := restErr
		if i == 0 {
			err = headErr
		}
		inflight[i].sub.reply <- result{err: err}
	}

	p.kill(ErrConnLost)
	p.conn.Close()

	for {
		select {
		case sub := <-p.submissions:
			sub.reply <- result{err: restErr}
		default:
			return
		}
	}
}
