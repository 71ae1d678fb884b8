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
	"encoding/json"
	"os"

	"github.com/soxy/soxy/std"
)

// Config for the proxy server
type Config struct {
	Listen       string `json:"listen"`
	Log          string `json:"log"`
	Quiet        bool   `json:"quiet"`
	Pprof        bool   `json:"pprof"`
	KCP          bool   `json:"kcp"`
	Key          string `json:"key"`
	Crypt        string `json:"crypt"`
	Mode         string `json:"mode"`
	MTU          int    `json:"mtu"`
	SndWnd       int    `json:"sndwnd"`
	RcvWnd       int    `json:"rcvwnd"`
	DataShard    int    `json:"datashard"`
	ParityShard  int    `json:"parityshard"`
	DSCP         int    `json:"dscp"`
	NoComp       bool   `json:"nocomp"`
	AckNodelay   bool   `json:"acknodelay"`
	NoDelay      int    `json:"nodelay"`
	Interval     int    `json:"interval"`
	Resend       int    `json:"resend"`
	NoCongestion int    `json:"nc"`
	SockBuf      int    `json:"sockbuf"`
	SmuxVer      int    `json:"smuxver"`
	SmuxBuf      int    `json:"smuxbuf"`
	StreamBuf    int    `json:"streambuf"`
	FrameSize    int    `json:"framesize"`
	KeepAlive    int    `json:"keepalive"`
	SnmpLog      string `json:"snmplog"`
	SnmpPeriod   int    `json:"snmpperiod"`
	TCP          bool   `json:"tcp"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path) // For read access.
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}

// applyMode translates the named congestion profile into the manual
// nodelay parameters; "manual" leaves them as given.
func (config *Config) applyMode() {
	switch config.Mode {
	case "normal":
		config.NoDelay, config.Interval, config.Resend, config.NoCongestion = 0, 40, 2, 1
	case "fast":
		config.NoDelay, config.Interval, config.Resend, config.NoCongestion = 0, 30, 2, 1
	case "fast2":
		config.NoDelay, config.Interval, config.Resend, config.NoCongestion = 1, 20, 2, 1
	case "fast3":
		config.NoDelay, config.Interval, config.Resend, config.NoCongestion = 1, 10, 2, 1
	}
}

// tunnelConfig carves out the parameters the KCP front end shares with the
// forwarder binary.
func (config *Config) tunnelConfig() *std.TunnelConfig {
	return &std.TunnelConfig{
		Key:          config.Key,
		Crypt:        config.Crypt,
		MTU:          config.MTU,
		SndWnd:       config.SndWnd,
		RcvWnd:       config.RcvWnd,
		DataShard:    config.DataShard,
		ParityShard:  config.ParityShard,
		DSCP:         config.DSCP,
		NoComp:       config.NoComp,
		AckNodelay:   config.AckNodelay,
		NoDelay:      config.NoDelay,
		Interval:     config.Interval,
		Resend:       config.Resend,
		NoCongestion: config.NoCongestion,
		SockBuf:      config.SockBuf,
		SmuxVer:      config.SmuxVer,
		SmuxBuf:      config.SmuxBuf,
		StreamBuf:    config.StreamBuf,
		FrameSize:    config.FrameSize,
		KeepAlive:    config.KeepAlive,
	}
}
