package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/ekumenlabs/base-controller/device"
	"github.com/ekumenlabs/base-controller/kinematics"
	"github.com/ekumenlabs/base-controller/odometry"
	"github.com/ekumenlabs/base-controller/transport"
)

var fast = Config{CommandInterval: 2 * time.Millisecond, SensingInterval: time.Millisecond}

var createStop = []byte{145, 0, 0, 0, 0}

func newDevice(t *testing.T, family string) device.Device {
	t.Helper()
	p, err := device.Defaults(family)
	test.That(t, err, test.ShouldBeNil)
	d, err := device.New(family, p)
	test.That(t, err, test.ShouldBeNil)
	return d
}

func newSession(t *testing.T, dev device.Device, port *transport.TestablePort) *Session {
	t.Helper()
	s, err := New(dev, port, fast, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func indexOf(frames [][]byte, frame []byte, from int) int {
	for i := from; i < len(frames); i++ {
		if bytes.Equal(frames[i], frame) {
			return i
		}
	}
	return -1
}

func TestConfigDefaultsAndErrors(t *testing.T) {
	cfg, err := Config{}.normalize()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.CommandInterval, test.ShouldEqual, DefaultCommandInterval)
	test.That(t, cfg.SensingInterval, test.ShouldEqual, DefaultSensingInterval)

	dev := newDevice(t, device.Create)
	_, err = New(dev, transport.NewTestablePort(), Config{CommandInterval: -time.Second}, logging.NewTestLogger(t))
	test.That(t, device.IsConfigError(err), test.ShouldBeTrue)
	_, err = New(dev, transport.NewTestablePort(), Config{SensingInterval: -time.Second}, logging.NewTestLogger(t))
	test.That(t, device.IsConfigError(err), test.ShouldBeTrue)
}

func TestStartWritesInitFramesFirst(t *testing.T) {
	port := transport.NewTestablePort()
	s := newSession(t, newDevice(t, device.Create), port)
	test.That(t, s.Start(context.Background()), test.ShouldBeNil)
	defer s.Close()

	test.That(t, port.WaitForWrites(2, time.Second), test.ShouldBeTrue)
	writes := port.Writes()
	test.That(t, writes[0], test.ShouldResemble, []byte{128, 132})
	test.That(t, writes[1], test.ShouldResemble, createStop)

	test.That(t, s.Start(context.Background()), test.ShouldBeError, errStarted)
}

func TestInitWriteFailureIsFatal(t *testing.T) {
	port := transport.NewTestablePort()
	port.SetWriteError(errors.New("unplugged"))
	s := newSession(t, newDevice(t, device.Create), port)

	err := s.Start(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unplugged")
	test.That(t, s.Close(), test.ShouldBeNil)
	test.That(t, port.Closed(), test.ShouldBeTrue)
}

func TestCommandLoopHoldsLatestCommand(t *testing.T) {
	port := transport.NewTestablePort()
	dev := newDevice(t, device.Kobuki)
	s := newSession(t, dev, port)
	test.That(t, s.Start(context.Background()), test.ShouldBeNil)
	defer s.Close()

	s.SetVelocity(kinematics.VelocityCommand{Linear: 0.1})
	s.SetVelocity(kinematics.VelocityCommand{Linear: 0.3})
	test.That(t, s.Velocity(), test.ShouldResemble, kinematics.VelocityCommand{Linear: 0.3})

	want := dev.CommandFrame(kinematics.VelocityCommand{Linear: 0.3})
	waitFor(t, "command frame", func() bool { return bytes.Equal(port.LastWrite(), want) })

	// The same frame keeps going out without new commands.
	sent := s.Counters().FramesSent
	waitFor(t, "repeat", func() bool { return s.Counters().FramesSent > sent+2 })
	test.That(t, port.LastWrite(), test.ShouldResemble, want)
}

func TestSafetyStopAfterWriteError(t *testing.T) {
	port := transport.NewTestablePort()
	s := newSession(t, newDevice(t, device.Create), port)
	test.That(t, s.Start(context.Background()), test.ShouldBeNil)
	defer s.Close()

	s.SetVelocity(kinematics.VelocityCommand{Linear: 0.2})
	moving := []byte{145, 5, 0, 5, 0}
	waitFor(t, "moving frame", func() bool { return bytes.Equal(port.LastWrite(), moving) })

	before := len(port.Writes())
	port.SetWriteError(errors.New("usb hiccup"))
	waitFor(t, "safety stop", func() bool { return indexOf(port.Writes(), createStop, before) >= 0 })
	test.That(t, s.Counters().WriteErrors, test.ShouldBeGreaterThanOrEqualTo, 1)

	// The loop keeps going with the held command.
	stopAt := indexOf(port.Writes(), createStop, before)
	waitFor(t, "resumed", func() bool { return indexOf(port.Writes(), moving, stopAt) >= 0 })
}

func TestCloseSendsStopThenClosesPort(t *testing.T) {
	port := transport.NewTestablePort()
	s := newSession(t, newDevice(t, device.Create), port)
	test.That(t, s.Start(context.Background()), test.ShouldBeNil)

	s.SetVelocity(kinematics.VelocityCommand{Angular: 1})
	waitFor(t, "spin frame", func() bool { return !bytes.Equal(port.LastWrite(), createStop) && len(port.Writes()) > 1 })

	test.That(t, s.Close(), test.ShouldBeNil)
	test.That(t, port.LastWrite(), test.ShouldResemble, createStop)
	test.That(t, port.Closed(), test.ShouldBeTrue)

	test.That(t, s.Close(), test.ShouldBeNil)
	test.That(t, s.Start(context.Background()), test.ShouldBeError, errClosed)
}

// panicky panics while encoding any non-zero command.
type panicky struct{}

func (panicky) Family() string        { return "panicky" }
func (panicky) InitFrames() [][]byte  { return nil }
func (panicky) Sensor() device.Sensor { return nil }
func (panicky) CommandFrame(cmd kinematics.VelocityCommand) []byte {
	if !cmd.IsZero() {
		panic("encoder exploded")
	}
	return []byte{0x00}
}

func TestPanicInCommandLoopStopsBase(t *testing.T) {
	port := transport.NewTestablePort()
	s := newSession(t, panicky{}, port)
	test.That(t, s.Start(context.Background()), test.ShouldBeNil)

	s.SetVelocity(kinematics.VelocityCommand{Linear: 1})
	waitFor(t, "loop failure", func() bool { return s.Status()["command_loop_failed"] == true })

	test.That(t, s.Velocity().IsZero(), test.ShouldBeTrue)
	test.That(t, port.LastWrite(), test.ShouldResemble, []byte{0x00})
	test.That(t, s.Close(), test.ShouldBeNil)
}

func kobukiFrame(left, right, stamp uint16, battery byte, corrupt bool) []byte {
	sub := make([]byte, 17)
	sub[0], sub[1] = 0x01, 15
	binary.LittleEndian.PutUint16(sub[2:4], stamp)
	binary.LittleEndian.PutUint16(sub[7:9], left)
	binary.LittleEndian.PutUint16(sub[9:11], right)
	sub[15] = battery

	frame := make([]byte, 0, len(sub)+4)
	frame = append(frame, 0xAA, 0x55, byte(len(sub)))
	frame = append(frame, sub...)
	var cs byte
	for _, b := range frame[2:] {
		cs ^= b
	}
	if corrupt {
		cs ^= 0xFF
	}
	return append(frame, cs)
}

func TestSensingLoopIntegratesFeedback(t *testing.T) {
	port := transport.NewTestablePort()
	s := newSession(t, newDevice(t, device.Kobuki), port)

	var (
		mu    sync.Mutex
		seen  []odometry.State
		count int
	)
	remove := s.OnOdometry(func(state odometry.State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, state)
		count++
	})
	defer remove()

	port.AddReadData(kobukiFrame(60000, 60000, 65000, 150, false))
	// A corrupted frame in between is dropped without touching the pose.
	port.AddReadData(kobukiFrame(1, 1, 1, 1, true))
	// One meter later, with both counters and the clock wrapped.
	port.AddReadData(kobukiFrame(6188, 6188, 464, 149, false))

	test.That(t, s.Start(context.Background()), test.ShouldBeNil)
	defer s.Close()

	waitFor(t, "odometry", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count > 0
	})
	state, ok := s.Odometry()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, state.X, test.ShouldAlmostEqual, 1.0, 1e-3)
	test.That(t, state.Y, test.ShouldAlmostEqual, 0.0)
	test.That(t, state.Linear, test.ShouldAlmostEqual, 1.0, 1e-3)

	mu.Lock()
	test.That(t, seen[0].X, test.ShouldAlmostEqual, state.X)
	mu.Unlock()

	c := s.Counters()
	test.That(t, c.FramesDecoded, test.ShouldEqual, uint64(2))
	test.That(t, c.FramesRejected, test.ShouldEqual, uint64(1))
	test.That(t, s.Status()["battery_volts"], test.ShouldAlmostEqual, 14.9)

	test.That(t, s.ResetOdometry(), test.ShouldBeNil)
	state, _ = s.Odometry()
	test.That(t, state.X, test.ShouldEqual, 0.0)
}

func TestSensingSurvivesReadErrors(t *testing.T) {
	port := transport.NewTestablePort()
	s := newSession(t, newDevice(t, device.Kobuki), port)
	port.SetReadError(errors.New("overrun"))
	test.That(t, s.Start(context.Background()), test.ShouldBeNil)
	defer s.Close()

	waitFor(t, "read error", func() bool { return s.Counters().ReadErrors == 1 })
	port.AddReadData(kobukiFrame(0, 0, 0, 160, false))
	waitFor(t, "decode", func() bool { return s.Counters().FramesDecoded == 1 })
}

func TestNoFeedbackBase(t *testing.T) {
	s := newSession(t, newDevice(t, device.Create), transport.NewTestablePort())
	test.That(t, s.HasFeedback(), test.ShouldBeFalse)
	_, ok := s.Odometry()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, s.ResetOdometry(), test.ShouldBeError, ErrNoFeedback)
	test.That(t, s.Close(), test.ShouldBeNil)
}

func TestListenerRemoval(t *testing.T) {
	s := newSession(t, newDevice(t, device.Kobuki), transport.NewTestablePort())
	calls := 0
	remove := s.OnOdometry(func(odometry.State) { calls++ })

	test.That(t, s.ResetOdometry(), test.ShouldBeNil)
	test.That(t, calls, test.ShouldEqual, 1)

	remove()
	test.That(t, s.ResetOdometry(), test.ShouldBeNil)
	test.That(t, calls, test.ShouldEqual, 1)
	test.That(t, s.Close(), test.ShouldBeNil)
}

func TestReadTimeoutIsQuiet(t *testing.T) {
	port := transport.NewTestablePort()
	s := newSession(t, newDevice(t, device.Kobuki), port)
	_, err := s.sensor.ReadFrame(bufio.NewReader(port))
	test.That(t, errors.Is(err, transport.ErrReadTimeout), test.ShouldBeTrue)

	s.sense()
	test.That(t, s.Counters(), test.ShouldResemble, Counters{})
	test.That(t, s.Close(), test.ShouldBeNil)
}

// gatedPort holds every write until release is closed, then accepts it even on a closed port.
type gatedPort struct {
	*transport.TestablePort
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	writes  atomic.Int64
}

func (p *gatedPort) Write(b []byte) (int, error) {
	p.once.Do(func() { close(p.entered) })
	<-p.release
	p.writes.Add(1)
	return len(b), nil
}

func TestCloseDuringInitLeavesNoLoops(t *testing.T) {
	port := &gatedPort{
		TestablePort: transport.NewTestablePort(),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	s, err := New(newDevice(t, device.Create), port, fast, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background()) }()
	<-port.entered

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	test.That(t, <-closed, test.ShouldBeNil)
	close(port.release)

	test.That(t, errors.Is(<-started, errClosed), test.ShouldBeTrue)
	test.That(t, port.Closed(), test.ShouldBeTrue)
	time.Sleep(20 * time.Millisecond)
	test.That(t, port.writes.Load(), test.ShouldEqual, int64(1))
}
