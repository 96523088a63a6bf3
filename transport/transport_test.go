package transport

import (
	"bufio"
	"testing"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/test"
)

// silentPort behaves like go.bug.st/serial when the read timeout expires.
type silentPort struct {
	serial.Port
	data []byte
}

func (p *silentPort) Read(b []byte) (int, error) {
	if len(p.data) == 0 {
		return 0, nil
	}
	n := copy(b, p.data)
	p.data = p.data[n:]
	return n, nil
}

func TestTimeoutPortReportsTimeout(t *testing.T) {
	port := &timeoutPort{Port: &silentPort{data: []byte{0x01, 0x02}}}

	buf := make([]byte, 8)
	n, err := port.Read(buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, buf[:n], test.ShouldResemble, []byte{0x01, 0x02})

	n, err = port.Read(buf)
	test.That(t, n, test.ShouldEqual, 0)
	test.That(t, err, test.ShouldEqual, ErrReadTimeout)

	// A zero-length read is not a timeout.
	_, err = port.Read(nil)
	test.That(t, err, test.ShouldBeNil)
}

func TestTimeoutPortUnderBufferedReader(t *testing.T) {
	r := bufio.NewReader(&timeoutPort{Port: &silentPort{data: []byte{0xAA}}})

	b, err := r.ReadByte()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b, test.ShouldEqual, byte(0xAA))

	_, err = r.ReadByte()
	test.That(t, errors.Is(err, ErrReadTimeout), test.ShouldBeTrue)
}

func TestOpenRejectsBadOptions(t *testing.T) {
	_, err := Open("/dev/null-does-not-matter", PortOptions{DataBits: 4})
	test.That(t, err, test.ShouldNotBeNil)
}
