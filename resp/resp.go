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

// Package resp implements the REdis Serialization Protocol: a streaming
// decoder for server replies and append-style encoding helpers for
// multi-bulk requests. See <https://redis.io/topics/protocol>.
package resp

import (
	"errors"
	"fmt"
	"strconv"
)

// SizeMax is the upper boundary for byte sizes.
// A string value can be at most 512 MiB in length.
const SizeMax = 512 << 20

// ErrProtocol signals invalid RESP reception. The stream position is
// unrecoverable afterwards, so the connection must be discarded.
var ErrProtocol = errors.New("resp: protocol violation")

// Kind tags the variants of Value.
type Kind byte

const (
	// Nil is the null bulk string or null array reply.
	Nil Kind = iota
	// Int is an integer reply.
	Int
	// Status is a simple (single line) string reply, like "OK" or "PONG".
	Status
	// Data is a bulk string reply.
	Data
	// Bulk is an array reply.
	Bulk
	// Error is an error reply, the "-" line. Error replies are regular
	// frames on the wire: they consume one reply slot like any other
	// value, which is what keeps pipelined responses aligned.
	Error
)

func (k Kind) String() string {
	switch k {
	case Nil:
		return "nil"
	case Int:
		return "int"
	case Status:
		return "status"
	case Data:
		return "data"
	case Bulk:
		return "bulk"
	case Error:
		return "error"
	}
	return "invalid"
}

// Value is one decoded RESP frame.
type Value struct {
	Kind   Kind
	Int    int64   // with Int
	Data   []byte  // with Data
	Bulk   []Value // with Bulk
	Status string  // with Status and Error
}

// Okay reports whether v is the "+OK" status reply.
func (v Value) Okay() bool {
	return v.Kind == Status && v.Status == "OK"
}

// Err returns the reply as a ServerError when v is an Error frame,
// and nil otherwise.
func (v Value) Err() error {
	if v.Kind == Error {
		return ServerError(v.Status)
	}
	return nil
}

func (v Value) String() string {
	switch v.Kind {
	case Nil:
		return "(nil)"
	case Int:
		return strconv.FormatInt(v.Int, 10)
	case Status:
		return v.Status
	case Error:
		return "(error) " + v.Status
	case Data:
		return string(v.Data)
	case Bulk:
		s := "["
		for i := range v.Bulk {
			if i > 0 {
				s += " "
			}
			s += v.Bulk[i].String()
		}
		return s + "]"
	}
	return "(invalid)"
}

// ServerError is an error reply sent by the server.
type ServerError string

// Error honors the error interface.
func (e ServerError) Error() string {
	return fmt.Sprintf("redis: server error %q", string(e))
}

// Prefix returns the first word, which represents the error kind.
func (e ServerError) Prefix() string {
	s := string(e)
	for i, r := range s {
		if r == ' ' {
			return s[:i]
		}
	}
	return s
}

// AppendArray appends an array header for n elements to buf.
func AppendArray(buf []byte, n int) []byte {
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(n), 10)
	return append(buf, '\r', '\n')
}

// AppendBulk appends arg as a bulk string to buf.
func AppendBulk(buf, arg []byte) []byte {
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(arg)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, arg...)
	return append(buf, '\r', '\n')
}
