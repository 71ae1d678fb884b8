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
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/netip"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// SOCKS5 protocol constants (RFC 1928).
const (
	Version5 = 5

	MethNoAuth   = 0
	MethGSSAPI   = 1
	MethUserPass = 2

	CmdConnect      = 1
	CmdBind         = 2
	CmdUDPAssociate = 3

	AtypIPv4   = 1
	AtypDomain = 3
	AtypIPv6   = 4

	RepSuccess            = 0
	RepGeneralFailure     = 1
	RepNetworkUnreachable = 3
	RepHostUnreachable    = 4
	RepConnectionRefused  = 5
)

// Handshake drives the SOCKS5 negotiation on conn to completion and
// returns the connected target socket. The negotiation is strictly linear:
// any protocol mismatch fails the whole exchange and nothing further is
// written. ctx bounds the DNS lookup and the outbound connect; read and
// write deadlines on conn itself are the caller's responsibility.
func Handshake(ctx context.Context, conn net.Conn) (net.Conn, error) {
	var b [1]byte
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return nil, err
	}
	if b[0] != Version5 {
		// version 4 is deliberately not served
		return nil, errors.New("unsupported version")
	}
	return handshakeV5(ctx, conn)
}

func handshakeV5(ctx context.Context, conn net.Conn) (net.Conn, error) {
	log.Debug("connected! SOCKS5")

	var b [1]byte

	// method negotiation: the client advertises nmethods method bytes and
	// we only ever pick no-auth
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return nil, err
	}
	methods := make([]byte, int(b[0]))
	if _, err := io.ReadFull(conn, methods); err != nil {
		return nil, err
	}
	if bytes.IndexByte(methods, MethNoAuth) < 0 {
		return nil, errors.New("no supported method given")
	}
	if _, err := conn.Write([]byte{Version5, MethNoAuth}); err != nil {
		return nil, err
	}

	// the request re-states the version before the command
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return nil, err
	}
	if b[0] != Version5 {
		return nil, errors.New("didn't confirm with v5 version")
	}
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return nil, err
	}
	if b[0] != CmdConnect {
		return nil, errors.New("unsupported command")
	}
	// one reserved byte, discarded
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return nil, err
	}

	target, err := readTargetAddr(ctx, conn)
	if err != nil {
		return nil, err
	}

	log.Debugf("proxying to %s", target)
	var d net.Dialer
	outbound, dialErr := d.DialContext(ctx, "tcp", target.String())

	// The reply carries a bound address whether or not the connect
	// succeeded; the client learns of a failure through REP and the
	// connection is dropped right after the reply is flushed.
	bound := target
	if dialErr == nil {
		if la, ok := outbound.LocalAddr().(*net.TCPAddr); ok {
			bound = la.AddrPort()
		}
	}
	if err := writeReply(conn, replyCode(dialErr), bound); err != nil {
		if outbound != nil {
			outbound.Close()
		}
		return nil, err
	}
	if dialErr != nil {
		return nil, errors.Wrap(dialErr, "connect")
	}
	return outbound, nil
}

// readTargetAddr decodes the ATYP byte and the wire-form destination
// address that follows it.
func readTargetAddr(ctx context.Context, conn net.Conn) (netip.AddrPort, error) {
	var b [1]byte
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return netip.AddrPort{}, err
	}
	log.Debugf("addr type: %d", b[0])

	switch b[0] {
	case AtypIPv4:
		// 4 address bytes and 2 port bytes
		var buf [6]byte
		if _, err := io.ReadFull(conn, buf[:]); err != nil {
			return netip.AddrPort{}, err
		}
		addr := netip.AddrFrom4([4]byte(buf[:4]))
		return netip.AddrPortFrom(addr, binary.BigEndian.Uint16(buf[4:])), nil

	case AtypIPv6:
		// 16 address bytes and 2 port bytes
		var buf [18]byte
		if _, err := io.ReadFull(conn, buf[:]); err != nil {
			return netip.AddrPort{}, err
		}
		addr := netip.AddrFrom16([16]byte(buf[:16]))
		return netip.AddrPortFrom(addr, binary.BigEndian.Uint16(buf[16:])), nil

	case AtypDomain:
		// a length byte, that many hostname bytes, 2 port bytes
		if _, err := io.ReadFull(conn, b[:]); err != nil {
			return netip.AddrPort{}, err
		}
		buf := make([]byte, int(b[0])+2)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return netip.AddrPort{}, err
		}
		return NamePort(ctx, buf)

	default:
		return netip.AddrPort{}, errors.Errorf("unknown ATYP received: %d", b[0])
	}
}

// replyCode classifies an outbound connect result into a REP value.
// RFC 1928 defines more codes than these; anything unrecognized collapses
// to general failure.
func replyCode(err error) byte {
	switch {
	case err == nil:
		return RepSuccess
	case errors.Is(err, syscall.ECONNREFUSED):
		return RepConnectionRefused
	case errors.Is(err, syscall.ENETUNREACH):
		return RepNetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH):
		return RepHostUnreachable
	default:
		return RepGeneralFailure
	}
}

// writeReply stages the reply record in a fixed 32-byte area, truncates it
// to the used prefix and writes it out in one call.
func writeReply(conn net.Conn, rep byte, bnd netip.AddrPort) error {
	var resp [32]byte
	resp[0] = Version5
	resp[1] = rep
	resp[2] = 0 // reserved

	addr := bnd.Addr().Unmap()
	pos := 4
	if addr.Is4() {
		resp[3] = AtypIPv4
		a := addr.As4()
		pos += copy(resp[pos:], a[:])
	} else {
		resp[3] = AtypIPv6
		a := addr.As16()
		pos += copy(resp[pos:], a[:])
	}
	binary.BigEndian.PutUint16(resp[pos:], bnd.Port())
	pos += 2

	_, err := conn.Write(resp[:pos])
	return err
}
