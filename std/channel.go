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
	"net"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/smux"
)

// ClientChannel produces one Client per inbound connection, whatever the
// transport underneath. Accept errors are terminal: the serving loop stops
// on the first one. Per-client errors are never visible here.
type ClientChannel interface {
	Accept() (*Client, error)
	Close() error
	Addr() net.Addr
}

type tcpChannel struct {
	ln net.Listener
}

// ListenTCP binds the plain TCP front end, the default way clients reach
// the proxy.
func ListenTCP(addr string) (ClientChannel, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}
	return &tcpChannel{ln: ln}, nil
}

func (t *tcpChannel) Accept() (*Client, error) {
	conn, err := t.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

func (t *tcpChannel) Close() error {
	return t.ln.Close()
}

func (t *tcpChannel) Addr() net.Addr {
	return t.ln.Addr()
}

// TunnelConfig carries the KCP front end parameters shared between the
// server and the forwarder binary.
type TunnelConfig struct {
	Key          string
	Crypt        string
	MTU          int
	SndWnd       int
	RcvWnd       int
	DataShard    int
	ParityShard  int
	DSCP         int
	NoComp       bool
	AckNodelay   bool
	NoDelay      int
	Interval     int
	Resend       int
	NoCongestion int
	SockBuf      int
	SmuxVer      int
	SmuxBuf      int
	StreamBuf    int
	FrameSize    int
	KeepAlive    int
}

// Tune applies the congestion and window parameters to a KCP session.
func (cfg *TunnelConfig) Tune(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(cfg.NoDelay, cfg.Interval, cfg.Resend, cfg.NoCongestion)
	conn.SetMtu(cfg.MTU)
	conn.SetWindowSize(cfg.SndWnd, cfg.RcvWnd)
	conn.SetACKNoDelay(cfg.AckNodelay)
	if err := conn.SetDSCP(cfg.DSCP); err != nil {
		log.Warnln("SetDSCP:", err)
	}
	if err := conn.SetReadBuffer(cfg.SockBuf); err != nil {
		log.Warnln("SetReadBuffer:", err)
	}
	if err := conn.SetWriteBuffer(cfg.SockBuf); err != nil {
		log.Warnln("SetWriteBuffer:", err)
	}
}

// Wrap layers snappy compression over the session unless disabled.
func (cfg *TunnelConfig) Wrap(conn net.Conn) net.Conn {
	if cfg.NoComp {
		return conn
	}
	return NewCompStream(conn)
}

// kcpChannel terminates KCP sessions, de-multiplexes smux streams off each
// one, and hands every stream out as a Client. Proxy clients reached over
// the tunnel behave exactly like TCP-accepted ones from here on.
type kcpChannel struct {
	ln      *kcp.Listener
	cfg     *TunnelConfig
	clients chan *Client
	errs    chan error

	die     chan struct{}
	dieOnce sync.Once
}

// NewKCPChannel starts accepting sessions on ln. The caller keeps
// ownership of nothing: Close tears the listener down.
func NewKCPChannel(ln *kcp.Listener, cfg *TunnelConfig) ClientChannel {
	k := &kcpChannel{
		ln:      ln,
		cfg:     cfg,
		clients: make(chan *Client),
		errs:    make(chan error, 1),
		die:     make(chan struct{}),
	}
	go k.acceptSessions()
	return k
}

func (k *kcpChannel) acceptSessions() {
	for {
		conn, err := k.ln.AcceptKCP()
		if err != nil {
			select {
			case k.errs <- err:
			case <-k.die:
			}
			return
		}
		log.Infoln("remote address:", conn.RemoteAddr())
		k.cfg.Tune(conn)
		go k.demux(k.cfg.Wrap(conn))
	}
}

// demux runs one smux server session and feeds its streams into Accept.
func (k *kcpChannel) demux(conn net.Conn) {
	smuxConfig, err := BuildSmuxConfig(k.cfg)
	if err != nil {
		log.Errorln(err)
		conn.Close()
		return
	}
	mux, err := smux.Server(conn, smuxConfig)
	if err != nil {
		log.Errorln(err)
		conn.Close()
		return
	}
	defer mux.Close()

	for {
		stream, err := mux.AcceptStream()
		if err != nil {
			log.Debugln("session closed:", err)
			return
		}
		select {
		case k.clients <- NewClient(stream):
		case <-k.die:
			stream.Close()
			return
		}
	}
}

func (k *kcpChannel) Accept() (*Client, error) {
	select {
	case c := <-k.clients:
		return c, nil
	case err := <-k.errs:
		return nil, err
	case <-k.die:
		return nil, net.ErrClosed
	}
}

func (k *kcpChannel) Close() error {
	k.dieOnce.Do(func() {
		close(k.die)
	})
	return k.ln.Close()
}

func (k *kcpChannel) Addr() net.Addr {
	return k.ln.Addr()
}
