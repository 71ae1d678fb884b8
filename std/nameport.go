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
	"encoding/binary"
	"net"
	"net/netip"
	"unicode/utf8"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// NamePort extracts the hostname and port from a DOMAIN request payload
// (hostname bytes followed by a big-endian port) and turns them into a
// usable address. A hostname that already parses as a literal IP address
// skips resolution; otherwise the first resolver answer wins.
func NamePort(ctx context.Context, addrBuf []byte) (netip.AddrPort, error) {
	if len(addrBuf) < 2 {
		return netip.AddrPort{}, errors.New("hostname buffer too short")
	}
	hostBytes := addrBuf[:len(addrBuf)-2]
	if !utf8.Valid(hostBytes) {
		return netip.AddrPort{}, errors.New("hostname buffer provided was not valid utf-8")
	}
	hostname := string(hostBytes)
	port := binary.BigEndian.Uint16(addrBuf[len(addrBuf)-2:])

	if ip, err := netip.ParseAddr(hostname); err == nil {
		return netip.AddrPortFrom(ip, port), nil
	}

	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", hostname)
	if err != nil || len(ips) == 0 {
		return netip.AddrPort{}, errors.New("host name didn't resolve to valid IP address")
	}
	addr := netip.AddrPortFrom(ips[0].Unmap(), port)
	log.Debugf("target: %s:%d = %s", hostname, port, addr)
	return addr, nil
}
