package transport

import (
	"bytes"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrPortClosed is returned by TestablePort after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestablePort implements Port with configurable behaviour for tests. Reads on an
// empty buffer behave like a serial read timeout.
type TestablePort struct {
	mu sync.Mutex

	readBuffer bytes.Buffer
	writes     [][]byte

	// ReadLatency delays every Read, standing in for the serial read timeout.
	ReadLatency time.Duration
	// ReadError is returned by the next Read call if set.
	ReadError error
	// WriteError is returned by the next Write call if set.
	WriteError error
	// FailWrites makes every Write fail until cleared.
	FailWrites bool
	// CloseError is returned by Close if set.
	CloseError error

	closed     bool
	readCalls  int
	writeCalls int
	onWrite    chan struct{}
}

// NewTestablePort returns an open, empty port.
func NewTestablePort() *TestablePort {
	return &TestablePort{onWrite: make(chan struct{}, 1)}
}

// Read drains buffered data. An empty buffer yields ErrReadTimeout.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	latency := t.ReadLatency
	t.mu.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.readCalls++

	if t.closed {
		return 0, ErrPortClosed
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.readBuffer.Len() == 0 {
		return 0, ErrReadTimeout
	}
	return t.readBuffer.Read(p)
}

// Write records p as one frame.
func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeCalls++

	if t.closed {
		return 0, ErrPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	if t.FailWrites {
		return 0, errors.New("write failed")
	}

	t.writes = append(t.writes, append([]byte(nil), p...))
	select {
	case t.onWrite <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Close marks the port closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return t.CloseError
}

// AddReadData queues bytes for subsequent reads.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readBuffer.Write(data)
}

// Writes returns a copy of every successful write, in order.
func (t *TestablePort) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	for i, w := range t.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// LastWrite returns the most recent successful write, or nil.
func (t *TestablePort) LastWrite() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.writes) == 0 {
		return nil
	}
	return append([]byte(nil), t.writes[len(t.writes)-1]...)
}

// WaitForWrites blocks until at least n writes succeeded or timeout passes.
func (t *TestablePort) WaitForWrites(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		t.mu.Lock()
		have := len(t.writes)
		t.mu.Unlock()
		if have >= n {
			return true
		}
		select {
		case <-t.onWrite:
		case <-time.After(time.Millisecond):
		case <-deadline.C:
			return false
		}
	}
}

// Closed reports whether Close was called.
func (t *TestablePort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Calls returns the number of Read and Write calls so far.
func (t *TestablePort) Calls() (reads, writes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readCalls, t.writeCalls
}

// SetFailWrites toggles persistent write failures.
func (t *TestablePort) SetFailWrites(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.FailWrites = fail
}

// SetWriteError makes the next Write return err.
func (t *TestablePort) SetWriteError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.WriteError = err
}

// SetReadError makes the next Read return err.
func (t *TestablePort) SetReadError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadError = err
}

// Opener returns an Opener that hands out t and records the path it was asked for.
func (t *TestablePort) Opener(paths *[]string) Opener {
	return func(path string, opts PortOptions) (Port, error) {
		if _, err := opts.Normalize(); err != nil {
			return nil, err
		}
		if paths != nil {
			*paths = append(*paths, path)
		}
		return t, nil
	}
}
