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
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func decodeOne(t *testing.T, wire string) Value {
	t.Helper()
	v, err := NewDecoder(strings.NewReader(wire)).Decode()
	if err != nil {
		t.Fatalf("Decode(%q) returned error: %v", wire, err)
	}
	return v
}

func TestDecodeStatus(t *testing.T) {
	v := decodeOne(t, "+PONG\r\n")
	if v.Kind != Status || v.Status != "PONG" {
		t.Fatalf("unexpected value: %+v", v)
	}
	if v.Okay() {
		t.Fatalf("PONG must not pass as OK")
	}

	if v := decodeOne(t, "+OK\r\n"); !v.Okay() {
		t.Fatalf("expected OK status, got %+v", v)
	}
}

func TestDecodeError(t *testing.T) {
	v := decodeOne(t, "-ERR unknown command 'FOO'\r\n")
	if v.Kind != Error {
		t.Fatalf("unexpected value: %+v", v)
	}

	err := v.Err()
	var se ServerError
	if !errors.As(err, &se) {
		t.Fatalf("Err() did not yield a ServerError: %v", err)
	}
	if se.Prefix() != "ERR" {
		t.Fatalf("unexpected error prefix %q", se.Prefix())
	}
}

func TestDecodeInt(t *testing.T) {
	if v := decodeOne(t, ":42\r\n"); v.Kind != Int || v.Int != 42 {
		t.Fatalf("unexpected value: %+v", v)
	}
	if v := decodeOne(t, ":-7\r\n"); v.Kind != Int || v.Int != -7 {
		t.Fatalf("unexpected value: %+v", v)
	}
}

func TestDecodeData(t *testing.T) {
	v := decodeOne(t, "$5\r\nhello\r\n")
	if v.Kind != Data || !bytes.Equal(v.Data, []byte("hello")) {
		t.Fatalf("unexpected value: %+v", v)
	}

	// empty bulk string is not null
	v = decodeOne(t, "$0\r\n\r\n")
	if v.Kind != Data || len(v.Data) != 0 {
		t.Fatalf("unexpected value: %+v", v)
	}

	if v := decodeOne(t, "$-1\r\n"); v.Kind != Nil {
		t.Fatalf("expected null, got %+v", v)
	}
}

func TestDecodeBulk(t *testing.T) {
	v := decodeOne(t, "*3\r\n+OK\r\n:1\r\n$2\r\nhi\r\n")
	if v.Kind != Bulk || len(v.Bulk) != 3 {
		t.Fatalf("unexpected value: %+v", v)
	}
	if !v.Bulk[0].Okay() || v.Bulk[1].Int != 1 || string(v.Bulk[2].Data) != "hi" {
		t.Fatalf("unexpected elements: %+v", v.Bulk)
	}

	if v := decodeOne(t, "*-1\r\n"); v.Kind != Nil {
		t.Fatalf("expected null array, got %+v", v)
	}
	if v := decodeOne(t, "*0\r\n"); v.Kind != Bulk || len(v.Bulk) != 0 {
		t.Fatalf("expected empty array, got %+v", v)
	}
}

func TestDecodeNested(t *testing.T) {
	v := decodeOne(t, "*2\r\n*1\r\n+OK\r\n$1\r\nx\r\n")
	if v.Kind != Bulk || len(v.Bulk) != 2 {
		t.Fatalf("unexpected value: %+v", v)
	}
	inner := v.Bulk[0]
	if inner.Kind != Bulk || len(inner.Bulk) != 1 || !inner.Bulk[0].Okay() {
		t.Fatalf("unexpected inner array: %+v", inner)
	}
}

// The decoder must assemble frames regardless of how the network splits
// the byte stream.
func TestDecodeFragmented(t *testing.T) {
	wire := "*2\r\n$4\r\nPING\r\n:1234\r\n+OK\r\n"
	d := NewDecoder(iotest.OneByteReader(strings.NewReader(wire)))

	v, err := d.Decode()
	if err != nil {
		t.Fatalf("first Decode returned error: %v", err)
	}
	if v.Kind != Bulk || len(v.Bulk) != 2 || v.Bulk[1].Int != 1234 {
		t.Fatalf("unexpected first frame: %+v", v)
	}

	v, err = d.Decode()
	if err != nil {
		t.Fatalf("second Decode returned error: %v", err)
	}
	if !v.Okay() {
		t.Fatalf("unexpected second frame: %+v", v)
	}
}

func TestDecodeProtocolViolation(t *testing.T) {
	for _, wire := range []string{
		"?what\r\n",
		":notanumber\r\n",
		"$-2\r\n",
		"*-3\r\n",
		"$3\r\nhelloworld\r\n",
		"+missing terminator",
	} {
		_, err := NewDecoder(strings.NewReader(wire)).Decode()
		if err == nil {
			t.Fatalf("Decode(%q) expected error", wire)
		}
		if !errors.Is(err, ErrProtocol) && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("Decode(%q) unexpected error: %v", wire, err)
		}
	}
}

func TestDecodeEOF(t *testing.T) {
	_, err := NewDecoder(strings.NewReader("")).Decode()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestAppendRequest(t *testing.T) {
	buf := AppendArray(nil, 2)
	buf = AppendBulk(buf, []byte("GET"))
	buf = AppendBulk(buf, []byte("key"))

	const want = "*2\r\n$3\r\nGET\r\n$3\r\nkey\r\n"
	if string(buf) != want {
		t.Fatalf("unexpected encoding %q, want %q", buf, want)
	}
}

func TestValueString(t *testing.T) {
	v := decodeOne(t, "*3\r\n+OK\r\n:5\r\n$2\r\nhi\r\n")
	if s := v.String(); s != "[OK 5 hi]" {
		t.Fatalf("unexpected String %q", s)
	}
	if s := decodeOne(t, "$-1\r\n").String(); s != "(nil)" {
		t.Fatalf("unexpected String %q", s)
	}
}
