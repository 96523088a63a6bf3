package device

import (
	"bufio"
	"math"
	"time"

	"github.com/ekumenlabs/base-controller/kinematics"
	"github.com/ekumenlabs/base-controller/odometry"
	"github.com/ekumenlabs/base-controller/protocol"
)

// Husky is a Clearpath Husky speaking the Horizon protocol.
const Husky = "husky"

func init() {
	register(Husky, Params{
		WheelSeparation: 0.55,
		WheelRadius:     0.1651,
		TicksPerMeter:   1000,
		VelocityScale:   100,
		VelocityLimit:   100,
		EncoderRateHz:   50,
		BaudRate:        115200,
	}, newHusky)
}

type husky struct {
	params     Params
	translator kinematics.Model
	encoder    *protocol.HuskyEncoder
}

func newHusky(p Params) (Device, error) {
	if !(p.TicksPerMeter > 0) {
		return nil, NewConfigError("ticks per meter", "husky odometry needs a positive value, got %v", p.TicksPerMeter)
	}
	if !(p.VelocityScale > 0) {
		return nil, NewConfigError("velocity scale", "husky commands need a positive value, got %v", p.VelocityScale)
	}
	if !(p.VelocityLimit > 0) || p.VelocityLimit > math.MaxInt16 {
		return nil, NewConfigError("velocity limit", "must be within (0, %d], got %v", math.MaxInt16, p.VelocityLimit)
	}
	return &husky{
		params: p,
		translator: kinematics.Model{
			Scale:        p.VelocityScale,
			LinearLimit:  p.VelocityLimit,
			AngularLimit: p.VelocityLimit,
		},
		encoder: protocol.NewHuskyEncoder(time.Now(), nil),
	}, nil
}

func (h *husky) Family() string { return Husky }

func (h *husky) InitFrames() [][]byte {
	if h.params.EncoderRateHz == 0 {
		return nil
	}
	return [][]byte{h.encoder.Frame(protocol.HuskyEncoderRequestPayload(uint16(h.params.EncoderRateHz)))}
}

func (h *husky) CommandFrame(cmd kinematics.VelocityCommand) []byte {
	return h.encoder.Frame(protocol.HuskyVelocityPayload(h.translator.Translate(cmd)))
}

func (h *husky) Sensor() Sensor { return h }

func (h *husky) ReadFrame(r *bufio.Reader) ([]byte, error) {
	return protocol.ReadHuskyFrame(r)
}

func (h *husky) Decode(frame []byte) (Reading, error) {
	enc, err := protocol.ParseHuskyEncoders(frame, !h.params.SkipChecksum)
	if err != nil {
		return Reading{}, err
	}
	left := float64(enc.LeftSpeed) / 1000
	right := float64(enc.RightSpeed) / 1000
	return Reading{
		Sample: odometry.Sample{
			Left:     enc.LeftTravel,
			Right:    enc.RightTravel,
			Stamp:    enc.Stamp,
			HasStamp: true,
			Speeds:   &odometry.WheelSpeeds{Left: left, Right: right},
		},
		Status: map[string]interface{}{
			"left_speed_mps":  left,
			"right_speed_mps": right,
			"left_travel_m":   float64(enc.LeftTravel) / 1000,
			"right_travel_m":  float64(enc.RightTravel) / 1000,
		},
	}, nil
}

func (h *husky) Odometry() odometry.Params {
	return odometry.Params{
		TicksPerMeter:   h.params.TicksPerMeter,
		WheelSeparation: h.params.WheelSeparation,
	}
}
