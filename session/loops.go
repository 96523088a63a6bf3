package session

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ekumenlabs/base-controller/kinematics"
	"github.com/ekumenlabs/base-controller/protocol"
	"github.com/ekumenlabs/base-controller/transport"
)

// commandLoop resends the latest command every interval. However it exits, including
// by a panic while building or writing a frame, it leaves the base with a zero command.
func (s *Session) commandLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("command loop stopped by panic", "panic", r)
			s.mu.Lock()
			s.cmd = kinematics.VelocityCommand{}
			s.commandFailed = true
			s.mu.Unlock()
		}
		s.safetyStop()
	}()

	ticker := time.NewTicker(s.cfg.CommandInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := s.write(s.dev.CommandFrame(s.Velocity())); err != nil {
			s.logger.Errorw("command write error", "error", err)
			s.safetyStop()
		}
	}
}

// safetyStop makes one best-effort attempt to write a zero command.
func (s *Session) safetyStop() {
	if err := s.write(s.dev.CommandFrame(kinematics.VelocityCommand{})); err != nil {
		s.logger.Warnw("safety stop write error", "error", err)
	}
}

// sensingLoop reads and decodes one frame per interval.
func (s *Session) sensingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SensingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.sense()
	}
}

func (s *Session) sense() {
	frame, err := s.sensor.ReadFrame(s.reader)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrReadTimeout):
		s.logger.Debugw("no feedback within read timeout")
		return
	case errors.Is(err, protocol.ErrBadHeader):
		s.framesRejected.Add(1)
		s.logger.Debugw("dropping unframed bytes", "error", err)
		return
	default:
		s.readErrors.Add(1)
		s.logger.Warnw("feedback read error", "error", err)
		return
	}

	reading, err := s.sensor.Decode(frame)
	if err != nil {
		if errors.Is(err, protocol.ErrUnexpectedMessage) {
			return
		}
		s.framesRejected.Add(1)
		s.logger.Debugw("dropping frame", "error", err, "bytes", len(frame))
		return
	}
	s.framesDecoded.Add(1)

	s.mu.Lock()
	s.status = reading.Status
	s.mu.Unlock()

	if s.integrator.Update(reading.Sample) {
		s.notify(s.integrator.Snapshot())
	}
}
