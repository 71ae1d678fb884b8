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
	"time"

	"github.com/xtaci/smux"
)

// BuildSmuxConfig constructs a smux.Config from the tunnel parameters and
// verifies the result, so callers get a usable config or a descriptive
// error.
func BuildSmuxConfig(cfg *TunnelConfig) (*smux.Config, error) {
	c := smux.DefaultConfig()
	c.Version = cfg.SmuxVer
	c.MaxReceiveBuffer = cfg.SmuxBuf
	c.MaxStreamBuffer = cfg.StreamBuf
	c.MaxFrameSize = cfg.FrameSize
	c.KeepAliveInterval = time.Duration(cfg.KeepAlive) * time.Second

	return c, smux.VerifyConfig(c)
}
