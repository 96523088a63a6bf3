package protocol

import (
	"encoding/binary"
	"math"

	"github.com/ekumenlabs/base-controller/kinematics"
)

// Open Interface opcodes.
const (
	CreateStart       = 128
	CreateFull        = 132
	CreateDriveDirect = 145
)

// CreateInitFrame puts the robot in full control mode.
func CreateInitFrame() []byte {
	return []byte{CreateStart, CreateFull}
}

// CreateDriveDirectFrame commands each wheel with the translator's native value,
// v/R per wheel (wheel rad/s), not mm/s. Values are truncated toward zero.
// The right wheel goes first, low byte first.
func CreateDriveDirectFrame(cmd kinematics.DifferentialCommand) []byte {
	frame := make([]byte, 5)
	frame[0] = CreateDriveDirect
	binary.LittleEndian.PutUint16(frame[1:3], uint16(truncate16(cmd.Right)))
	binary.LittleEndian.PutUint16(frame[3:5], uint16(truncate16(cmd.Left)))
	return frame
}

func truncate16(v float64) int16 {
	return int16(math.Trunc(math.Max(math.Min(v, math.MaxInt16), math.MinInt16)))
}
