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

package main

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/smux"

	"github.com/soxy/soxy/std"
)

// maxSmuxVer guards against negotiating unsupported smux protocol versions.
const maxSmuxVer = 2

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	initLogging()

	myApp := cli.NewApp()
	myApp.Name = "soxy-client"
	myApp.Usage = "tunnel forwarder: expose a remote soxy server on a local port"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "localaddr,l",
			Value: ":12948",
			Usage: "local listen address",
		},
		cli.StringFlag{
			Name:  "remoteaddr, r",
			Value: "vps:8083",
			Usage: "soxy server KCP address",
		},
		cli.StringFlag{
			Name:   "key",
			Value:  "it's a secrect",
			Usage:  "pre-shared secret between tunnel forwarder and server",
			EnvVar: "SOXY_KEY",
		},
		cli.StringFlag{
			Name:  "crypt",
			Value: "aes",
			Usage: "aes, aes-128, aes-128-gcm, aes-192, salsa20, blowfish, twofish, cast5, 3des, tea, xtea, xor, sm4, none, null",
		},
		cli.StringFlag{
			Name:  "mode",
			Value: "fast",
			Usage: "profiles: fast3, fast2, fast, normal, manual",
		},
		cli.IntFlag{
			Name:  "mtu",
			Value: 1350,
			Usage: "set maximum transmission unit for UDP packets",
		},
		cli.IntFlag{
			Name:  "sndwnd",
			Value: 128,
			Usage: "set send window size(num of packets)",
		},
		cli.IntFlag{
			Name:  "rcvwnd",
			Value: 512,
			Usage: "set receive window size(num of packets)",
		},
		cli.IntFlag{
			Name:  "datashard,ds",
			Value: 10,
			Usage: "set reed-solomon erasure coding - datashard",
		},
		cli.IntFlag{
			Name:  "parityshard,ps",
			Value: 3,
			Usage: "set reed-solomon erasure coding - parityshard",
		},
		cli.IntFlag{
			Name:  "dscp",
			Value: 0,
			Usage: "set DSCP(6bit)",
		},
		cli.BoolFlag{
			Name:  "nocomp",
			Usage: "disable compression",
		},
		cli.BoolFlag{
			Name:   "acknodelay",
			Usage:  "flush ack immediately when a packet is received",
			Hidden: true,
		},
		cli.IntFlag{
			Name:   "nodelay",
			Value:  0,
			Hidden: true,
		},
		cli.IntFlag{
			Name:   "interval",
			Value:  50,
			Hidden: true,
		},
		cli.IntFlag{
			Name:   "resend",
			Value:  0,
			Hidden: true,
		},
		cli.IntFlag{
			Name:   "nc",
			Value:  0,
			Hidden: true,
		},
		cli.IntFlag{
			Name:  "sockbuf",
			Value: 4194304,
			Usage: "per-socket buffer in bytes",
		},
		cli.IntFlag{
			Name:  "smuxver",
			Value: 2,
			Usage: "specify smux version, available 1,2",
		},
		cli.IntFlag{
			Name:  "smuxbuf",
			Value: 4194304,
			Usage: "the overall de-mux buffer in bytes",
		},
		cli.IntFlag{
			Name:  "framesize",
			Value: 8192,
			Usage: "smux max frame size",
		},
		cli.IntFlag{
			Name:  "streambuf",
			Value: 2097152,
			Usage: "per stream receive buffer in bytes, smux v2+",
		},
		cli.IntFlag{
			Name:  "keepalive",
			Value: 10,
			Usage: "seconds between tunnel heartbeats",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress the 'stream open/close' messages",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "", // when set, the JSON file must exist on disk
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.LocalAddr = c.String("localaddr")
		config.RemoteAddr = c.String("remoteaddr")
		config.Log = c.String("log")
		config.Quiet = c.Bool("quiet")
		config.Key = c.String("key")
		config.Crypt = c.String("crypt")
		config.Mode = c.String("mode")
		config.MTU = c.Int("mtu")
		config.SndWnd = c.Int("sndwnd")
		config.RcvWnd = c.Int("rcvwnd")
		config.DataShard = c.Int("datashard")
		config.ParityShard = c.Int("parityshard")
		config.DSCP = c.Int("dscp")
		config.NoComp = c.Bool("nocomp")
		config.AckNodelay = c.Bool("acknodelay")
		config.NoDelay = c.Int("nodelay")
		config.Interval = c.Int("interval")
		config.Resend = c.Int("resend")
		config.NoCongestion = c.Int("nc")
		config.SockBuf = c.Int("sockbuf")
		config.SmuxVer = c.Int("smuxver")
		config.SmuxBuf = c.Int("smuxbuf")
		config.FrameSize = c.Int("framesize")
		config.StreamBuf = c.Int("streambuf")
		config.KeepAlive = c.Int("keepalive")

		if c.String("c") != "" {
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		config.applyMode()

		log.Infoln("version:", VERSION)
		log.Infoln("listening on:", config.LocalAddr)
		log.Infoln("remote address:", config.RemoteAddr)
		log.Infoln("encryption:", config.Crypt)
		log.Infoln("nodelay parameters:", config.NoDelay, config.Interval, config.Resend, config.NoCongestion)
		log.Infoln("sndwnd:", config.SndWnd, "rcvwnd:", config.RcvWnd)
		log.Infoln("compression:", !config.NoComp)
		log.Infoln("mtu:", config.MTU)

		if config.SmuxVer > maxSmuxVer {
			log.Fatal("unsupported smux version:", config.SmuxVer)
		}

		log.Infoln("initiating key derivation")
		pass := std.DeriveKey(config.Key)
		log.Infoln("key derivation done")
		block, effectiveCrypt := std.SelectBlockCrypt(config.Crypt, pass)
		config.Crypt = effectiveCrypt

		tc := config.tunnelConfig()

		// createConn establishes one tuned KCP session carrying the smux
		// multiplexer.
		createConn := func() (*smux.Session, error) {
			kcpconn, err := kcp.DialWithOptions(config.RemoteAddr, block, config.DataShard, config.ParityShard)
			if err != nil {
				return nil, errors.Wrap(err, "dial()")
			}
			tc.Tune(kcpconn)

			smuxConfig, err := std.BuildSmuxConfig(tc)
			if err != nil {
				kcpconn.Close()
				return nil, errors.Wrap(err, "smux config")
			}
			session, err := smux.Client(tc.Wrap(kcpconn), smuxConfig)
			if err != nil {
				kcpconn.Close()
				return nil, errors.Wrap(err, "createConn()")
			}
			log.Infoln("tunnel established:", kcpconn.LocalAddr(), "->", kcpconn.RemoteAddr())
			return session, nil
		}

		// waitConn retries until a session is ready.
		waitConn := func() *smux.Session {
			for {
				session, err := createConn()
				if err == nil {
					return session
				}
				log.Warnln("re-connecting:", err)
				time.Sleep(time.Second)
			}
		}

		listener, err := net.Listen("tcp", config.LocalAddr)
		checkError(err)
		log.Infoln("forwarding", listener.Addr(), "over", config.RemoteAddr)

		var mu sync.Mutex
		var session *smux.Session
		for {
			p1, err := listener.Accept()
			checkError(errors.Wrap(err, "accept"))

			mu.Lock()
			if session == nil || session.IsClosed() {
				session = waitConn()
			}
			current := session
			mu.Unlock()

			go handleConn(current, p1, config.Quiet)
		}
	}
	myApp.Run(os.Args)
}

// handleConn carries one local connection as a stream on the session.
func handleConn(session *smux.Session, p1 net.Conn, quiet bool) {
	logln := func(v ...any) {
		if !quiet {
			log.Infoln(v...)
		}
	}

	defer p1.Close()
	p2, err := session.OpenStream()
	if err != nil {
		log.Warnln("open stream:", err)
		return
	}
	defer p2.Close()

	logln("stream opened", "in:", p1.RemoteAddr(), "out:", p2.RemoteAddr())
	defer logln("stream closed", "in:", p1.RemoteAddr(), "out:", p2.RemoteAddr())

	a, b, err := std.Pipe(std.NewEndpoint(p1), std.NewEndpoint(p2))
	if err != nil {
		logln("pipe:", err, "in:", p1.RemoteAddr(), "out:", p2.RemoteAddr())
		return
	}
	logln("forwarded", a, "/", b, "bytes for", p1.RemoteAddr())
}

// initLogging wires the level from the environment, defaulting to info.
func initLogging() {
	level := os.Getenv("SOXY_LOG")
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func checkError(err error) {
	if err != nil {
		log.Fatalf("%+v", err)
	}
}
