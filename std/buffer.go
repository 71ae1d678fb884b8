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
	"sync"
)

// LeaseSize is the capacity of a transfer staging buffer.
const LeaseSize = 64 * 1024

var leasePool = sync.Pool{
	New: func() any {
		return &Buffer{buf: make([]byte, LeaseSize)}
	},
}

// Buffer is the staging area a transfer pump reads into and immediately
// writes out of. Goroutines are pre-emptively scheduled, so a single
// process-global region cannot be borrowed the way a single-threaded
// reactor would allow; each pump owns a pooled Buffer for its lifetime
// instead, which keeps the allocation off the per-connection path.
type Buffer struct {
	buf []byte
}

// GetBuffer takes a buffer from the pool. Return it with PutBuffer once the
// pump finishes.
func GetBuffer() *Buffer {
	return leasePool.Get().(*Buffer)
}

// PutBuffer returns a buffer obtained from GetBuffer.
func PutBuffer(b *Buffer) {
	leasePool.Put(b)
}

// ReadLease performs a single read into the buffer and reports how many
// bytes landed. End of stream surfaces as (0, io.EOF), untouched.
func (b *Buffer) ReadLease(r io.Reader) (int, error) {
	return r.Read(b.buf)
}

// WriteLease writes out the first n bytes of the most recent ReadLease on
// this buffer. The caller guarantees n matches that read. A zero-length
// lease asks the writer to flush and half-close its write side, which
// endpoints created by NewEndpoint honour.
func (b *Buffer) WriteLease(w io.Writer, n int) (int, error) {
	return w.Write(b.buf[:n])
}
