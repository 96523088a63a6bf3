// Package session drives one base over one serial link: a command loop that keeps
// writing the latest velocity and a sensing loop that feeds odometry.
package session

import (
	"bufio"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"

	"github.com/ekumenlabs/base-controller/device"
	"github.com/ekumenlabs/base-controller/kinematics"
	"github.com/ekumenlabs/base-controller/odometry"
	"github.com/ekumenlabs/base-controller/transport"
)

const (
	DefaultCommandInterval = 100 * time.Millisecond
	// DefaultSensingInterval must stay below the feedback period (Kobuki streams at
	// about 50 Hz). The loop takes one frame per tick, so a slower tick lets frames
	// pile up in the OS buffer and odometry lags further behind; a faster one just
	// blocks in the read until the next frame arrives.
	DefaultSensingInterval = 15 * time.Millisecond
)

var (
	// ErrNoFeedback is returned for odometry operations on bases that report nothing.
	ErrNoFeedback = errors.New("base reports no feedback")
	errStarted    = errors.New("session already started")
	errClosed     = errors.New("session closed")
)

// Config sets the loop cadence. Zero values take the defaults.
type Config struct {
	CommandInterval time.Duration
	SensingInterval time.Duration
}

func (c Config) normalize() (Config, error) {
	if c.CommandInterval < 0 {
		return c, device.NewConfigError("command interval", "cannot be negative, got %v", c.CommandInterval)
	}
	if c.SensingInterval < 0 {
		return c, device.NewConfigError("sensing interval", "cannot be negative, got %v", c.SensingInterval)
	}
	if c.CommandInterval == 0 {
		c.CommandInterval = DefaultCommandInterval
	}
	if c.SensingInterval == 0 {
		c.SensingInterval = DefaultSensingInterval
	}
	return c, nil
}

// Listener receives every new odometry snapshot. It runs on the sensing loop and must not block.
type Listener func(odometry.State)

// Counters summarize link traffic since the session started.
type Counters struct {
	FramesSent     uint64 `json:"frames_sent"`
	FramesDecoded  uint64 `json:"frames_decoded"`
	FramesRejected uint64 `json:"frames_rejected"`
	WriteErrors    uint64 `json:"write_errors"`
	ReadErrors     uint64 `json:"read_errors"`
}

// Session owns the port, the device codec and the odometry state of one base.
type Session struct {
	dev        device.Device
	sensor     device.Sensor
	port       transport.Port
	reader     *bufio.Reader
	integrator *odometry.Integrator
	cfg        Config
	logger     logging.Logger

	mu            sync.Mutex
	cmd           kinematics.VelocityCommand
	status        map[string]interface{}
	listeners     map[int]Listener
	nextListener  int
	started       bool
	closed        bool
	commandFailed bool

	writeMu sync.Mutex

	framesSent     atomic.Uint64
	framesDecoded  atomic.Uint64
	framesRejected atomic.Uint64
	writeErrors    atomic.Uint64
	readErrors     atomic.Uint64

	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// New returns a session for dev over port. Nothing is written until Start.
func New(dev device.Device, port transport.Port, cfg Config, logger logging.Logger) (*Session, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	s := &Session{
		dev:       dev,
		sensor:    dev.Sensor(),
		port:      port,
		cfg:       cfg,
		logger:    logger,
		status:    map[string]interface{}{},
		listeners: map[int]Listener{},
	}
	if s.sensor != nil {
		params := s.sensor.Odometry()
		if err := params.Validate(); err != nil {
			return nil, device.NewConfigError("odometry", "%v", err)
		}
		s.integrator = odometry.NewIntegrator(params)
		s.reader = bufio.NewReader(port)
	}
	return s, nil
}

// Start writes the device's init frames and launches the loops. ctx bounds the
// init writes only; the loops run until Close.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return errClosed
	case s.started:
		s.mu.Unlock()
		return errStarted
	}
	s.started = true
	s.mu.Unlock()

	for _, frame := range s.dev.InitFrames() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.write(frame); err != nil {
			return errors.Wrapf(err, "initializing %s", s.dev.Family())
		}
	}

	// Close may have run while the init frames were going out.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		s.commandLoop(cancelCtx)
	}, s.activeBackgroundWorkers.Done)

	if s.sensor != nil {
		s.activeBackgroundWorkers.Add(1)
		viamutils.ManagedGo(func() {
			s.sensingLoop(cancelCtx)
		}, s.activeBackgroundWorkers.Done)
	}
	s.logger.Infow("session started",
		"family", s.dev.Family(),
		"command_interval", s.cfg.CommandInterval,
		"sensing_interval", s.cfg.SensingInterval,
		"feedback", s.sensor != nil,
	)
	return nil
}

// Family is the device family this session drives.
func (s *Session) Family() string { return s.dev.Family() }

// SetVelocity replaces the command the command loop sends. Latest value wins.
func (s *Session) SetVelocity(cmd kinematics.VelocityCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmd = cmd
}

// Stop commands zero velocity.
func (s *Session) Stop() {
	s.SetVelocity(kinematics.VelocityCommand{})
}

// Velocity returns the command currently held.
func (s *Session) Velocity() kinematics.VelocityCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd
}

// HasFeedback reports whether the base reports odometry.
func (s *Session) HasFeedback() bool { return s.integrator != nil }

// Odometry returns the latest pose. ok is false for bases without feedback.
func (s *Session) Odometry() (state odometry.State, ok bool) {
	if s.integrator == nil {
		return odometry.State{}, false
	}
	return s.integrator.Snapshot(), true
}

// ResetOdometry moves the pose back to the origin.
func (s *Session) ResetOdometry() error {
	if s.integrator == nil {
		return ErrNoFeedback
	}
	s.integrator.Reset()
	s.notify(s.integrator.Snapshot())
	return nil
}

// Status returns a copy of the auxiliary sensor state from the last decoded frame.
func (s *Session) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.status)+1)
	for k, v := range s.status {
		out[k] = v
	}
	if s.commandFailed {
		out["command_loop_failed"] = true
	}
	return out
}

// Counters returns the traffic counters.
func (s *Session) Counters() Counters {
	return Counters{
		FramesSent:     s.framesSent.Load(),
		FramesDecoded:  s.framesDecoded.Load(),
		FramesRejected: s.framesRejected.Load(),
		WriteErrors:    s.writeErrors.Load(),
		ReadErrors:     s.readErrors.Load(),
	}
}

// OnOdometry registers l and returns a function that removes it.
func (s *Session) OnOdometry(l Listener) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Close stops both loops, lets the command loop send its final stop and closes the port.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.activeBackgroundWorkers.Wait()
	return s.port.Close()
}

func (s *Session) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.port.Write(frame); err != nil {
		s.writeErrors.Add(1)
		return err
	}
	s.framesSent.Add(1)
	return nil
}

func (s *Session) notify(state odometry.State) {
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}
