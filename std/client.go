// The MIT License (MIT)
//
// # Copyright (c) 2025 soxy
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

package std

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
)

// HandshakeTimeout bounds the whole negotiation, reply included. The data
// plane that follows runs without a deadline.
const HandshakeTimeout = 10 * time.Second

// Client owns one inbound connection for its whole lifetime: it negotiates
// the SOCKS5 exchange under a deadline, then joins the two transfer pumps
// and reports how much moved each way.
type Client struct {
	conn net.Conn
	addr net.Addr

	// Timeout is the handshake deadline, HandshakeTimeout unless a test
	// shrinks it.
	Timeout time.Duration
}

// NewClient wraps an accepted connection.
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:    conn,
		addr:    conn.RemoteAddr(),
		Timeout: HandshakeTimeout,
	}
}

// Addr is the peer address of the inbound connection, for logging.
func (c *Client) Addr() net.Addr {
	return c.addr
}

// Serve consumes the client. It returns the bytes moved client->target and
// target->client once the session winds down, or the error that ended it.
// Every socket the client owns is closed by the time Serve returns. An
// exceeded deadline anywhere before the reply is flushed (slow reads, a
// hung resolver, a stalled connect) surfaces uniformly as the handshake
// timeout error.
func (c *Client) Serve() (int64, int64, error) {
	defer c.conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()
	c.conn.SetDeadline(time.Now().Add(c.timeout()))

	target, err := Handshake(ctx, c.conn)
	if err != nil {
		// some steps (the resolver) replace the deadline error with their
		// own, so an expired handshake context counts as a timeout too
		if timeoutErr(err) || ctx.Err() != nil {
			return 0, 0, errors.New("timeout during handshake")
		}
		return 0, 0, err
	}
	defer target.Close()

	c.conn.SetDeadline(time.Time{})

	return Pipe(NewEndpoint(c.conn), NewEndpoint(target))
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return HandshakeTimeout
}

func timeoutErr(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
