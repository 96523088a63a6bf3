// Package transport owns the serial link to a base.
package transport

import (
	"io"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// ErrReadTimeout is returned by reads that saw no byte within the port's read timeout.
var ErrReadTimeout = errors.New("serial read timed out")

// Port is an open byte link. Reads return ErrReadTimeout instead of blocking forever.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the port at path.
type Opener func(path string, opts PortOptions) (Port, error)

// Open opens the serial device at path, applies the read timeout and discards
// whatever the device buffered before we connected.
func Open(path string, opts PortOptions) (Port, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "setting read timeout on %s", path)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "flushing %s", path)
	}
	return &timeoutPort{Port: port}, nil
}

// List returns the serial ports present on this machine.
func List() ([]string, error) {
	return serial.GetPortsList()
}

// timeoutPort turns the library's empty read on timeout into ErrReadTimeout, so
// buffered readers above it see an error instead of spinning on zero-length reads.
type timeoutPort struct {
	serial.Port
}

func (p *timeoutPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil && len(b) > 0 {
		return 0, ErrReadTimeout
	}
	return n, err
}
