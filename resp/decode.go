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

package resp

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// IPv6 minimum MTU of 1280 bytes, minus a 40 byte IP header,
// minus a 32 byte TCP header (with timestamps).
const conservativeMSS = 1208

// Decoder reads RESP frames from a byte stream. The buffered reader holds
// partial frames across network reads, so a Decoder must stay attached to
// its stream for the lifetime of the connection. Not safe for concurrent
// use; a connection has exactly one reader.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, conservativeMSS)}
}

// Decode blocks until one complete frame arrives and returns it. Server
// error replies decode as Error frames, not as Go errors. A non-nil error
// is an I/O failure or ErrProtocol, and in either case the stream position
// is lost: the connection must be discarded.
func (d *Decoder) Decode() (Value, error) {
	line, err := d.readLine()
	if err != nil {
		return Value{}, err
	}
	if len(line) == 0 {
		return Value{}, errors.WithStack(ErrProtocol)
	}

	switch line[0] {
	case '+':
		status := string(line[1:])
		return Value{Kind: Status, Status: status}, nil

	case '-':
		return Value{Kind: Error, Status: string(line[1:])}, nil

	case ':':
		n, ok := parseInt(line[1:])
		if !ok {
			return Value{}, errors.WithStack(ErrProtocol)
		}
		return Value{Kind: Int, Int: n}, nil

	case '$':
		n, ok := parseInt(line[1:])
		if !ok || n > SizeMax {
			return Value{}, errors.WithStack(ErrProtocol)
		}
		if n < 0 {
			if n != -1 {
				return Value{}, errors.WithStack(ErrProtocol)
			}
			return Value{Kind: Nil}, nil
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(d.r, data); err != nil {
			return Value{}, errors.Wrap(err, "bulk read")
		}
		if err := d.discardCRLF(); err != nil {
			return Value{}, err
		}
		return Value{Kind: Data, Data: data}, nil

	case '*':
		n, ok := parseInt(line[1:])
		if !ok || n > SizeMax {
			return Value{}, errors.WithStack(ErrProtocol)
		}
		if n < 0 {
			if n != -1 {
				return Value{}, errors.WithStack(ErrProtocol)
			}
			return Value{Kind: Nil}, nil
		}
		bulk := make([]Value, n)
		for i := range bulk {
			element, err := d.Decode()
			if err != nil {
				return Value{}, err
			}
			bulk[i] = element
		}
		return Value{Kind: Bulk, Bulk: bulk}, nil
	}

	return Value{}, errors.WithStack(ErrProtocol)
}

// readLine consumes one CRLF terminated line, excluding the terminator.
func (d *Decoder) readLine() ([]byte, error) {
	line, err := d.r.ReadBytes('\n')
	if err != nil {
		return nil, errors.Wrap(err, "line read")
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, errors.WithStack(ErrProtocol)
	}
	return line[:len(line)-2], nil
}

func (d *Decoder) discardCRLF() error {
	cr, err := d.r.ReadByte()
	if err != nil {
		return errors.Wrap(err, "terminator read")
	}
	lf, err := d.r.ReadByte()
	if err != nil {
		return errors.Wrap(err, "terminator read")
	}
	if cr != '\r' || lf != '\n' {
		return errors.WithStack(ErrProtocol)
	}
	return nil
}

// parseInt reads a decimal with optional leading minus. No radix prefixes,
// no whitespace.
func parseInt(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	neg := false
	if b[0] == '-' {
		neg = true
		b = b[1:]
		if len(b) == 0 {
			return 0, false
		}
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}
