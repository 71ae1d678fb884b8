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
	"io"
	"net"
)

// closeWriter is the half-close capability of *net.TCPConn. Streams that
// lack it (smux) fall back to a full close.
type closeWriter interface {
	CloseWrite() error
}

// ReadHalf is the inbound direction of a split Endpoint.
type ReadHalf interface {
	io.Reader
	Peer() string
}

// WriteHalf is the outbound direction of a split Endpoint.
type WriteHalf interface {
	io.Writer
	CloseWrite() error
	Peer() string
}

// Endpoint is a bidirectional byte stream whose directions can be driven
// independently. A zero-length Write flushes and half-closes the write
// side; a read returning io.EOF marks end of stream. Split hands out the
// two directions over the same underlying socket, so the stream is fully
// released only when both owners are done with it.
type Endpoint interface {
	io.ReadWriter
	CloseWrite() error
	Close() error
	Split() (ReadHalf, WriteHalf)
	Peer() string
}

type connEndpoint struct {
	conn net.Conn
	peer string
}

// NewEndpoint wraps an established connection. The transfer engine is
// indifferent to what the stream actually is: raw TCP, an smux stream off
// the tunnel front end, or a compressed wrapper all behave the same here.
func NewEndpoint(conn net.Conn) Endpoint {
	peer := "unknown address"
	if a := conn.RemoteAddr(); a != nil {
		peer = a.String()
	}
	return &connEndpoint{conn: conn, peer: peer}
}

func (e *connEndpoint) Read(p []byte) (int, error) {
	return e.conn.Read(p)
}

func (e *connEndpoint) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, e.CloseWrite()
	}
	return e.conn.Write(p)
}

func (e *connEndpoint) CloseWrite() error {
	if cw, ok := e.conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return e.conn.Close()
}

func (e *connEndpoint) Close() error {
	return e.conn.Close()
}

// Split returns the two directions of the endpoint. Both are views over
// the same socket.
func (e *connEndpoint) Split() (ReadHalf, WriteHalf) {
	return e, e
}

func (e *connEndpoint) Peer() string {
	return e.peer
}
