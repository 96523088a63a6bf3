package device

import (
	"github.com/ekumenlabs/base-controller/kinematics"
	"github.com/ekumenlabs/base-controller/protocol"
)

// Create is an iRobot Create driven through the Open Interface. It reports no feedback.
const Create = "create"

func init() {
	register(Create, Params{
		WheelSeparation: 0.33,
		WheelRadius:     0.04,
		VelocityLimit:   500,
		BaudRate:        57600,
	}, newCreate)
}

type create struct {
	translator kinematics.Differential
}

func newCreate(p Params) (Device, error) {
	return &create{translator: kinematics.Differential{
		WheelSeparation:  p.WheelSeparation,
		WheelRadius:      p.WheelRadius,
		Limit:            p.VelocityLimit,
		SpinCompensation: kinematics.DefaultSpinCompensation,
		Truncate:         true,
	}}, nil
}

func (c *create) Family() string { return Create }

func (c *create) InitFrames() [][]byte {
	return [][]byte{protocol.CreateInitFrame()}
}

func (c *create) CommandFrame(cmd kinematics.VelocityCommand) []byte {
	return protocol.CreateDriveDirectFrame(c.translator.Translate(cmd))
}

func (c *create) Sensor() Sensor { return nil }
