package std

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"
	"syscall"
	"testing"
	"time"
)

// serveResult is what one proxied session resolved to.
type serveResult struct {
	sent int64
	rcvd int64
	err  error
}

// startProxy stands up a full proxy on a loopback port and serves every
// inbound connection, reporting each session outcome on the returned
// channel.
func startProxy(t *testing.T, timeout time.Duration) (string, chan serveResult) {
	t.Helper()

	ch, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	t.Cleanup(func() { ch.Close() })

	results := make(chan serveResult, 16)
	go func() {
		for {
			client, err := ch.Accept()
			if err != nil {
				return
			}
			if timeout > 0 {
				client.Timeout = timeout
			}
			go func(c *Client) {
				a, b, err := c.Serve()
				results <- serveResult{sent: a, rcvd: b, err: err}
			}(client)
		}
	}()
	return ch.Addr().String(), results
}

// startTarget binds a loopback listener that echoes everything back on
// each accepted connection, half-closing once the inbound side drains.
func startTarget(t *testing.T) *net.TCPAddr {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("target listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				io.Copy(c, c)
				c.(*net.TCPConn).CloseWrite()
			}(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr)
}

func dialProxy(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// greet performs the method negotiation and checks the 05 00 ack.
func greet(t *testing.T, conn net.Conn) {
	t.Helper()
	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatalf("write greeting: %v", err)
	}
	var ack [2]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		t.Fatalf("read greeting reply: %v", err)
	}
	if ack != [2]byte{0x05, 0x00} {
		t.Fatalf("unexpected greeting reply: %x", ack)
	}
}

func readReply(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		t.Fatalf("read reply header: %v", err)
	}
	var rest int
	switch hdr[3] {
	case AtypIPv4:
		rest = 4 + 2
	case AtypIPv6:
		rest = 16 + 2
	default:
		t.Fatalf("unexpected reply ATYP: %d", hdr[3])
	}
	tail := make([]byte, rest)
	if _, err := io.ReadFull(conn, tail); err != nil {
		t.Fatalf("read reply tail: %v", err)
	}
	return append(hdr, tail...)
}

func TestConnectIPv4(t *testing.T) {
	proxyAddr, results := startProxy(t, 0)
	target := startTarget(t)

	conn := dialProxy(t, proxyAddr)
	greet(t, conn)

	req := []byte{0x05, 0x01, 0x00, 0x01}
	req = append(req, target.IP.To4()...)
	req = binary.BigEndian.AppendUint16(req, uint16(target.Port))
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	reply := readReply(t, conn)
	if reply[1] != RepSuccess {
		t.Fatalf("expected REP success, got %d", reply[1])
	}
	if reply[3] != AtypIPv4 || len(reply) != 10 {
		t.Fatalf("expected 10-byte IPv4 reply, got %d bytes ATYP %d", len(reply), reply[3])
	}
	// BND carries the outbound socket's local address
	bnd := net.IP(reply[4:8])
	if !bnd.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("unexpected BND.ADDR: %v", bnd)
	}
	if binary.BigEndian.Uint16(reply[8:10]) == 0 {
		t.Fatalf("BND.PORT must not be zero")
	}

	// bytes written after the reply are mirrored by the echo target
	payload := []byte("round and round it goes")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	conn.(*net.TCPConn).CloseWrite()

	echoed, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if !bytes.Equal(echoed, payload) {
		t.Fatalf("echo mismatch: %q", echoed)
	}

	res := <-results
	if res.err != nil {
		t.Fatalf("session error: %v", res.err)
	}
	if res.sent != int64(len(payload)) || res.rcvd != int64(len(payload)) {
		t.Fatalf("byte accounting: sent %d rcvd %d, want %d each", res.sent, res.rcvd, len(payload))
	}
}

func TestConnectDomain(t *testing.T) {
	proxyAddr, results := startProxy(t, 0)

	// the proxy takes the first resolver answer for the name, so the
	// echo target must live on exactly that address
	host := "localhost"
	ips, err := net.DefaultResolver.LookupNetIP(context.Background(), "ip", host)
	if err != nil || len(ips) == 0 {
		t.Skipf("cannot resolve %s: %v", host, err)
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(ips[0].Unmap().String(), "0"))
	if err != nil {
		t.Fatalf("target listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				io.Copy(c, c)
				c.(*net.TCPConn).CloseWrite()
			}(conn)
		}
	}()
	targetPort := uint16(ln.Addr().(*net.TCPAddr).Port)

	conn := dialProxy(t, proxyAddr)
	greet(t, conn)

	req := []byte{0x05, 0x01, 0x00, 0x03, byte(len(host))}
	req = append(req, host...)
	req = binary.BigEndian.AppendUint16(req, targetPort)
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	reply := readReply(t, conn)
	if reply[1] != RepSuccess {
		t.Fatalf("expected REP success, got %d", reply[1])
	}

	payload := []byte("through the resolver")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	conn.(*net.TCPConn).CloseWrite()
	echoed, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if !bytes.Equal(echoed, payload) {
		t.Fatalf("echo mismatch: %q", echoed)
	}

	if res := <-results; res.err != nil {
		t.Fatalf("session error: %v", res.err)
	}
}

func TestConnectRefused(t *testing.T) {
	proxyAddr, results := startProxy(t, 0)

	// bind and immediately release a port so the connect is refused
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	conn := dialProxy(t, proxyAddr)
	greet(t, conn)

	req := []byte{0x05, 0x01, 0x00, 0x01, 127, 0, 0, 1}
	req = binary.BigEndian.AppendUint16(req, port)
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	reply := readReply(t, conn)
	if reply[1] != RepConnectionRefused {
		t.Fatalf("expected REP connection refused, got %d", reply[1])
	}
	// the bound address falls back to the requested target
	if reply[3] != AtypIPv4 || !net.IP(reply[4:8]).Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("unexpected BND in failure reply: %x", reply)
	}
	if binary.BigEndian.Uint16(reply[8:10]) != port {
		t.Fatalf("BND.PORT should echo the requested port")
	}

	// the connection is dropped right after the reply
	if _, err := io.ReadAll(conn); err != nil {
		t.Fatalf("expected clean close after failure reply: %v", err)
	}

	res := <-results
	if res.err == nil {
		t.Fatalf("session should resolve with the connect error")
	}
}

func TestVersionGate(t *testing.T) {
	proxyAddr, results := startProxy(t, 0)

	conn := dialProxy(t, proxyAddr)
	if _, err := conn.Write([]byte{0x04}); err != nil {
		t.Fatalf("write version: %v", err)
	}

	// nothing comes back; the server just closes
	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("server wrote %x after bad version", data)
	}

	res := <-results
	if res.err == nil || !strings.Contains(res.err.Error(), "unsupported version") {
		t.Fatalf("expected unsupported version error, got %v", res.err)
	}
}

func TestMethodGate(t *testing.T) {
	proxyAddr, results := startProxy(t, 0)

	conn := dialProxy(t, proxyAddr)
	// user/pass only, no-auth absent
	if _, err := conn.Write([]byte{0x05, 0x01, 0x02}); err != nil {
		t.Fatalf("write greeting: %v", err)
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("server wrote %x without an acceptable method", data)
	}

	res := <-results
	if res.err == nil || !strings.Contains(res.err.Error(), "no supported method given") {
		t.Fatalf("expected method error, got %v", res.err)
	}
}

func TestCommandGate(t *testing.T) {
	for _, tt := range []struct {
		name string
		cmd  byte
	}{
		{name: "Bind", cmd: CmdBind},
		{name: "UDPAssociate", cmd: CmdUDPAssociate},
	} {
		t.Run(tt.name, func(t *testing.T) {
			proxyAddr, results := startProxy(t, 0)

			conn := dialProxy(t, proxyAddr)
			greet(t, conn)

			if _, err := conn.Write([]byte{0x05, tt.cmd, 0x00, 0x01, 127, 0, 0, 1, 0x00, 0x50}); err != nil {
				t.Fatalf("write request: %v", err)
			}

			// the server stops reading at the command byte, so closing with
			// the rest of the request unread shows up here as a reset
			data, err := io.ReadAll(conn)
			if err != nil && !errors.Is(err, syscall.ECONNRESET) {
				t.Fatalf("read: %v", err)
			}
			if len(data) != 0 {
				t.Fatalf("server wrote a reply %x for unsupported command", data)
			}

			res := <-results
			if res.err == nil || !strings.Contains(res.err.Error(), "unsupported command") {
				t.Fatalf("expected command error, got %v", res.err)
			}
		})
	}
}

func TestAtypGate(t *testing.T) {
	proxyAddr, results := startProxy(t, 0)

	conn := dialProxy(t, proxyAddr)
	greet(t, conn)

	if _, err := conn.Write([]byte{0x05, 0x01, 0x00, 0x02, 0x00, 0x00}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	// the two trailing request bytes stay unread, so the close is a reset
	data, err := io.ReadAll(conn)
	if err != nil && !errors.Is(err, syscall.ECONNRESET) {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("server wrote a reply %x for unknown ATYP", data)
	}

	res := <-results
	if res.err == nil || !strings.Contains(res.err.Error(), "unknown ATYP received: 2") {
		t.Fatalf("expected ATYP error, got %v", res.err)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	proxyAddr, results := startProxy(t, 300*time.Millisecond)

	conn := dialProxy(t, proxyAddr)
	_ = conn // connected and silent

	start := time.Now()
	res := <-results
	if res.err == nil || res.err.Error() != "timeout during handshake" {
		t.Fatalf("expected handshake timeout, got %v", res.err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestWriteReplyEncodesIPv6(t *testing.T) {
	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()

	bnd := netip.AddrPortFrom(netip.MustParseAddr("2001:db8::1"), 443)
	go writeReply(left, RepConnectionRefused, bnd)

	reply := make([]byte, 4+16+2)
	if _, err := io.ReadFull(right, reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply[0] != 0x05 || reply[1] != RepConnectionRefused || reply[2] != 0x00 || reply[3] != AtypIPv6 {
		t.Fatalf("unexpected reply header: %x", reply[:4])
	}
	want := bnd.Addr().As16()
	if !bytes.Equal(reply[4:20], want[:]) {
		t.Fatalf("unexpected BND.ADDR: %x", reply[4:20])
	}
	if binary.BigEndian.Uint16(reply[20:]) != 443 {
		t.Fatalf("unexpected BND.PORT: %x", reply[20:])
	}
}
