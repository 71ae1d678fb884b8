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
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Transfer pumps bytes from one half of a proxy pair to the other. It owns
// a pooled staging buffer for its lifetime and counts every byte it
// forwards.
type Transfer struct {
	reader ReadHalf
	writer WriteHalf
	buf    *Buffer
	amt    int64
	debug  string
}

// NewTransfer creates a pump over two already-connected halves.
func NewTransfer(reader ReadHalf, writer WriteHalf) *Transfer {
	return &Transfer{
		reader: reader,
		writer: writer,
		buf:    GetBuffer(),
		debug:  fmt.Sprintf("%s -> %s", reader.Peer(), writer.Peer()),
	}
}

// Run drives the pump until the reader hits EOF or either side fails, and
// returns the number of bytes forwarded. On EOF the writer's write side is
// half-closed exactly once before returning. Writes on net.Conn block
// until the whole chunk is flushed or an error occurs, so a chunk never
// outlives the read/write cycle that produced it.
func (t *Transfer) Run() (int64, error) {
	defer PutBuffer(t.buf)

	for {
		n, err := t.buf.ReadLease(t.reader)
		if n > 0 {
			log.Debugf("received %d bytes (%s)", n, t.debug)
			if _, werr := t.buf.WriteLease(t.writer, n); werr != nil {
				return t.amt, werr
			}
			t.amt += int64(n)
		}
		if err == io.EOF {
			// zero-length lease: flush and shut the write side down
			if _, werr := t.buf.WriteLease(t.writer, 0); werr != nil {
				return t.amt, werr
			}
			return t.amt, nil
		}
		if err != nil {
			return t.amt, err
		}
	}
}

// Pipe joins the two directions of a proxy pair and waits for both pumps
// to wind down. It returns the bytes moved a->b and b->a, plus the first
// hard error either direction hit. A clean EOF is not an error: the
// finishing pump half-closes its writer and its counterpart keeps running
// until the opposite direction drains too. A hard error tears down both
// endpoints so the surviving pump unblocks promptly.
func Pipe(a, b Endpoint) (int64, int64, error) {
	ar, aw := a.Split()
	br, bw := b.Split()

	var teardown sync.Once
	abort := func() {
		teardown.Do(func() {
			a.Close()
			b.Close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(1)

	var amt2 int64
	var err2 error
	go func() {
		defer wg.Done()
		amt2, err2 = NewTransfer(br, aw).Run()
		if err2 != nil {
			abort()
		}
	}()

	amt1, err1 := NewTransfer(ar, bw).Run()
	if err1 != nil {
		abort()
	}
	wg.Wait()

	if err1 != nil && !closedErr(err1) {
		return amt1, amt2, err1
	}
	if err2 != nil && !closedErr(err2) {
		return amt1, amt2, err2
	}
	return amt1, amt2, nil
}

// closedErr recognizes the errors a pump observes when its counterpart
// tore the pair down, so they don't surface as session failures.
func closedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
