package device

import (
	"bufio"

	"github.com/ekumenlabs/base-controller/kinematics"
	"github.com/ekumenlabs/base-controller/odometry"
	"github.com/ekumenlabs/base-controller/protocol"
)

// Kobuki is a Yujin Kobuki (TurtleBot 2) base.
const Kobuki = "kobuki"

const kobukiCounterRange = 1 << 16

func init() {
	register(Kobuki, Params{
		WheelSeparation: 0.28,
		WheelRadius:     0.035,
		TicksPerMeter:   11724.41,
		BaudRate:        115200,
	}, newKobuki)
}

type kobuki struct {
	params     Params
	translator kinematics.Arc
}

func newKobuki(p Params) (Device, error) {
	if !(p.TicksPerMeter > 0) {
		return nil, NewConfigError("ticks per meter", "kobuki odometry needs a positive value, got %v", p.TicksPerMeter)
	}
	return &kobuki{
		params:     p,
		translator: kinematics.Arc{WheelSeparation: p.WheelSeparation},
	}, nil
}

func (k *kobuki) Family() string { return Kobuki }

// InitFrames is empty; the base streams feedback as soon as it powers up.
func (k *kobuki) InitFrames() [][]byte { return nil }

func (k *kobuki) CommandFrame(cmd kinematics.VelocityCommand) []byte {
	return protocol.BuildKobukiFrame(protocol.KobukiBaseControlPayload(k.translator.Translate(cmd)))
}

func (k *kobuki) Sensor() Sensor { return k }

func (k *kobuki) ReadFrame(r *bufio.Reader) ([]byte, error) {
	return protocol.ReadKobukiFrame(r)
}

func (k *kobuki) Decode(frame []byte) (Reading, error) {
	fb, err := protocol.ParseKobukiFrame(frame, !k.params.SkipChecksum)
	if err != nil {
		return Reading{}, err
	}
	s := fb.Sensor
	status := map[string]interface{}{
		"bumper":        s.Bumper,
		"wheel_drop":    s.WheelDrop,
		"cliff":         s.Cliff,
		"button":        s.Button,
		"charger":       s.Charger,
		"battery_volts": float64(s.Battery) / 10,
		"overcurrent":   s.OverCurrent,
		"left_pwm":      s.LeftPWM,
		"right_pwm":     s.RightPWM,
	}
	if fb.Inertial != nil {
		status["heading_deg"] = float64(fb.Inertial.Angle) / 100
		status["heading_rate_dps"] = float64(fb.Inertial.AngleRate) / 100
	}
	return Reading{
		Sample: odometry.Sample{
			Left:     int32(s.LeftEncoder),
			Right:    int32(s.RightEncoder),
			Stamp:    uint32(s.Stamp),
			HasStamp: true,
		},
		Status: status,
	}, nil
}

func (k *kobuki) Odometry() odometry.Params {
	return odometry.Params{
		TicksPerMeter:   k.params.TicksPerMeter,
		WheelSeparation: k.params.WheelSeparation,
		TickRange:       kobukiCounterRange,
		StampRange:      kobukiCounterRange,
	}
}
