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

	"github.com/pkg/errors"
)

// dialTransport opens the byte stream addressed by info: a TCP connection
// or a unix domain socket. Exactly one connection owns the returned conn.
func dialTransport(ctx context.Context, info *ConnInfo) (net.Conn, error) {
	timeout := info.DialTimeout
	if timeout == 0 {
		timeout = time.Second
	}

	addr := normalizeAddr(info.Addr)
	if isLocalAddr(addr) {
		return dialLocal(ctx, addr, timeout)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "address %q", info.Addr)
	}

	// The first resolved endpoint wins.
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil || len(ips) == 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "no address found for host %q", host)
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ips[0].IP.String(), port))
	if err != nil {
		return nil, errors.Wrap(err, "dial tcp")
	}

	// connection tuning
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return conn, nil
}
