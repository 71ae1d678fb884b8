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
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/soxy/soxy/std"
)

const (
	// defaultListen is used when no bind address argument is given.
	defaultListen = "127.0.0.1:8083"
	// maxSmuxVer guards against negotiating unsupported smux protocol versions.
	maxSmuxVer = 2
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	initLogging()

	myApp := cli.NewApp()
	myApp.Name = "soxy"
	myApp.Usage = "SOCKS5 proxy server"
	myApp.ArgsUsage = "[listen address, default " + defaultListen + "]"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress the per-session 'proxied' messages",
		},
		cli.BoolFlag{
			Name:  "pprof",
			Usage: "start profiling server on :6060",
		},
		cli.BoolFlag{
			Name:  "kcp",
			Usage: "accept clients over a KCP tunnel (smux streams) instead of plain TCP",
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
			Value: 1024,
			Usage: "set send window size(num of packets)",
		},
		cli.IntFlag{
			Name:  "rcvwnd",
			Value: 1024,
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
			Name:  "snmplog",
			Value: "",
			Usage: "collect snmp to file, aware of timeformat in golang, like: ./snmp-20060102.log",
		},
		cli.IntFlag{
			Name:  "snmpperiod",
			Value: 60,
			Usage: "snmp collect period, in seconds",
		},
		cli.BoolFlag{
			Name:  "tcp",
			Usage: "to emulate a TCP connection for the tunnel(linux)",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "", // when set, the JSON file must exist on disk
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.Listen = c.Args().First()
		if config.Listen == "" {
			config.Listen = defaultListen
		}
		config.Log = c.String("log")
		config.Quiet = c.Bool("quiet")
		config.Pprof = c.Bool("pprof")
		config.KCP = c.Bool("kcp")
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
		config.SnmpLog = c.String("snmplog")
		config.SnmpPeriod = c.Int("snmpperiod")
		config.TCP = c.Bool("tcp")

		if c.String("c") != "" {
			// Only JSON configuration files are supported at the moment.
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		// Redirect logs when the user supplied a dedicated log file.
		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		config.applyMode()

		log.Infoln("version:", VERSION)
		log.Infoln("listening on:", config.Listen)
		log.Infoln("quiet:", config.Quiet)
		log.Infoln("pprof:", config.Pprof)
		log.Infoln("kcp tunnel:", config.KCP)
		if config.KCP {
			log.Infoln("encryption:", config.Crypt)
			log.Infoln("nodelay parameters:", config.NoDelay, config.Interval, config.Resend, config.NoCongestion)
			log.Infoln("sndwnd:", config.SndWnd, "rcvwnd:", config.RcvWnd)
			log.Infoln("compression:", !config.NoComp)
			log.Infoln("mtu:", config.MTU)
			log.Infoln("datashard:", config.DataShard, "parityshard:", config.ParityShard)
			log.Infoln("dscp:", config.DSCP)
			log.Infoln("sockbuf:", config.SockBuf)
			log.Infoln("smuxver:", config.SmuxVer)
			log.Infoln("smuxbuf:", config.SmuxBuf)
			log.Infoln("framesize:", config.FrameSize)
			log.Infoln("streambuf:", config.StreamBuf)
			log.Infoln("keepalive:", config.KeepAlive)
			log.Infoln("snmplog:", config.SnmpLog)
			log.Infoln("snmpperiod:", config.SnmpPeriod)
			log.Infoln("tcp:", config.TCP)

			if config.SmuxVer > maxSmuxVer {
				log.Fatal("unsupported smux version:", config.SmuxVer)
			}
		}

		// Start the SNMP logger if the feature is enabled.
		go std.SnmpLogger(config.SnmpLog, config.SnmpPeriod)

		// Start the pprof server if the feature is enabled.
		if config.Pprof {
			go http.ListenAndServe(":6060", nil)
		}

		// Derive the tunnel session key once, up front.
		var block kcp.BlockCrypt
		if config.KCP {
			log.Infoln("initiating key derivation")
			pass := std.DeriveKey(config.Key)
			log.Infoln("key derivation done")
			var effectiveCrypt string
			block, effectiveCrypt = std.SelectBlockCrypt(config.Crypt, pass)
			config.Crypt = effectiveCrypt
		}

		// Parse the listen address which may contain a port range.
		mp, err := std.ParseMultiPort(config.Listen)
		checkError(err)

		// Stand up a front end per port in the range and serve each one
		// until its accept stream fails.
		var wg sync.WaitGroup
		errCh := make(chan error, int(mp.MaxPort-mp.MinPort)+1)
		for port := mp.MinPort; port <= mp.MaxPort; port++ {
			listenAddr := fmt.Sprintf("%v:%v", mp.Host, port)
			ch, err := openChannel(listenAddr, &config, block)
			checkError(err)

			wg.Add(1)
			go func() {
				defer wg.Done()
				errCh <- serveChannel(ch, config.Quiet)
			}()
		}

		go func() {
			wg.Wait()
			close(errCh)
		}()
		if err := <-errCh; err != nil {
			log.Fatalf("%+v", err)
		}
		return nil
	}
	myApp.Run(os.Args)
}

// openChannel binds one front end: a plain TCP listener, or the KCP
// tunnel listener when enabled.
func openChannel(addr string, config *Config, block kcp.BlockCrypt) (std.ClientChannel, error) {
	if !config.KCP {
		return std.ListenTCP(addr)
	}

	ln, err := listenKCP(addr, config, block)
	if err != nil {
		return nil, err
	}
	return std.NewKCPChannel(ln, config.tunnelConfig()), nil
}

// serveChannel consumes the accept stream, spawning one serving goroutine
// per client. A client failing never stops the loop; an accept failure
// does.
func serveChannel(ch std.ClientChannel, quiet bool) error {
	log.Infoln("listening for socks5 proxy connections on", ch.Addr())
	for {
		client, err := ch.Accept()
		if err != nil {
			return errors.Wrap(err, "accept")
		}

		go func(c *std.Client) {
			addr := c.Addr()
			a, b, err := c.Serve()
			if err != nil {
				log.Errorf("error for %v: %v", addr, err)
				return
			}
			if !quiet {
				log.Infof("proxied %d/%d bytes for %v", a, b, addr)
			}
		}(client)
	}
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
