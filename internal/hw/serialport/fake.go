package serialport

import (
	"bytes"
	"errors"
	"sync"
)

// ErrClosed is returned by FakePort after Close.
var ErrClosed = errors.New("serial port closed")

// FakePort is an in-memory Port for tests and mock mode. Reads drain
// data queued with Feed; writes are captured.
type FakePort struct {
	mu     sync.Mutex
	cond   *sync.Cond
	in     bytes.Buffer
	out    bytes.Buffer
	closed bool

	// WriteErr is returned by the next Write if set.
	WriteErr error

	// BlockReads makes Read wait for Feed instead of returning io.EOF-like
	// empty reads.
	BlockReads bool
}

// NewFakePort returns an empty, open FakePort.
func NewFakePort() *FakePort {
	f := &FakePort{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Feed queues data for subsequent reads.
func (f *FakePort) Feed(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.in.Write(data)
	f.cond.Broadcast()
}

// Written returns a copy of everything written so far.
func (f *FakePort) Written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.out.Bytes()...)
}

// Read implements io.Reader. Without BlockReads an empty buffer reads as
// zero bytes, like a serial port whose read timeout expired.
func (f *FakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.BlockReads && !f.closed && f.in.Len() == 0 {
		f.cond.Wait()
	}
	if f.closed {
		return 0, ErrClosed
	}
	if f.in.Len() == 0 {
		return 0, nil
	}
	return f.in.Read(p)
}

// Write implements io.Writer.
func (f *FakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	if f.WriteErr != nil {
		err := f.WriteErr
		f.WriteErr = nil
		return 0, err
	}
	return f.out.Write(p)
}

// Close implements io.Closer and wakes blocked readers.
func (f *FakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
	return nil
}

// Closed reports whether Close was called.
func (f *FakePort) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
