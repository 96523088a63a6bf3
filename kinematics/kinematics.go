// Package kinematics turns a commanded body velocity into the wheel-level values each
// base family accepts on its serial link.
package kinematics

import "math"

// VelocityCommand is a body velocity. Linear is m/s, Angular is rad/s (positive is left).
type VelocityCommand struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// IsZero reports whether the command asks the base to stand still.
func (c VelocityCommand) IsZero() bool {
	return c.Linear == 0 && c.Angular == 0
}

// DifferentialCommand holds per-wheel values for a two wheel differential base.
type DifferentialCommand struct {
	Left  float64
	Right float64
}

// Differential translates body velocities for bases driven wheel by wheel.
type Differential struct {
	WheelSeparation float64 // meters
	WheelRadius     float64 // meters
	// Limit clamps each wheel value symmetrically. Zero disables clamping.
	Limit float64
	// SpinCompensation doubles both wheels when they would turn in opposite
	// directions. The motor controller has a dead zone around zero and the
	// existing firmware tuning assumes this factor.
	SpinCompensation float64
	// Truncate drops the fractional part of each wheel before the opposite-sign
	// check, so a wheel within (-1, 1) counts as stopped and is never doubled.
	Truncate bool
}

// DefaultSpinCompensation is the opposite-sign doubling factor the Create firmware is tuned against.
const DefaultSpinCompensation = 2.0

// Translate returns the wheel command for cmd. It never fails; out of range values are clamped.
func (d Differential) Translate(cmd VelocityCommand) DifferentialCommand {
	angular := cmd.Angular
	// Backing up reverses the turn sense.
	if cmd.Linear < 0 {
		angular = -angular
	}

	normalizer := angular * d.WheelSeparation / d.WheelRadius
	right := 0.5 * ((2 * cmd.Linear / d.WheelRadius) - normalizer)
	left := 0.5 * ((2 * cmd.Linear / d.WheelRadius) + normalizer)
	if d.Truncate {
		right, left = math.Trunc(right), math.Trunc(left)
	}

	if left*right < 0 && d.SpinCompensation != 0 {
		left *= d.SpinCompensation
		right *= d.SpinCompensation
	}

	return DifferentialCommand{
		Left:  clamp(left, d.Limit),
		Right: clamp(right, d.Limit),
	}
}

// ModelCommand is a kinematic-model command in the device's native integer units.
type ModelCommand struct {
	Linear  int16
	Angular int16
}

// Model translates body velocities for bases that accept linear and angular
// velocity directly and run their own kinematics.
type Model struct {
	// Scale converts m/s and rad/s into native units before clamping.
	Scale float64
	// LinearLimit and AngularLimit bound the scaled values symmetrically.
	LinearLimit  float64
	AngularLimit float64
}

// Translate scales, clamps and rounds half away from zero.
func (m Model) Translate(cmd VelocityCommand) ModelCommand {
	return ModelCommand{
		Linear:  int16(math.Round(clamp(cmd.Linear*m.Scale, m.LinearLimit))),
		Angular: int16(math.Round(clamp(cmd.Angular*m.Scale, m.AngularLimit))),
	}
}

// ArcCommand is a speed along an arc of a given radius, both in millimeters.
// Radius 0 means straight, ±1 means spin in place.
type ArcCommand struct {
	Speed  int16
	Radius int16
}

// Arc translates body velocities for bases commanded by speed and turning radius.
type Arc struct {
	WheelSeparation float64 // meters
}

const arcEpsilon = 0.0001

// Translate returns the arc command for cmd, rounded and saturated at the int16 range.
func (a Arc) Translate(cmd VelocityCommand) ArcCommand {
	v, w := cmd.Linear, cmd.Angular
	half := a.WheelSeparation * w / 2

	var radius float64
	switch {
	case math.Abs(w) < arcEpsilon:
		radius = 0
	case math.Abs(v) < arcEpsilon && w > 0:
		radius = 1
	case math.Abs(v) < arcEpsilon:
		radius = -1
	default:
		radius = v * 1000 / w
	}

	var speed float64
	switch {
	case radius == 1 || radius == -1:
		speed = 1000 * math.Abs(half)
	case v < 0:
		speed = 1000 * math.Min(v+half, v-half)
	default:
		speed = 1000 * math.Max(v+half, v-half)
	}

	return ArcCommand{
		Speed:  saturate16(speed),
		Radius: saturate16(radius),
	}
}

func clamp(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}
	return math.Max(math.Min(v, limit), -limit)
}

func saturate16(v float64) int16 {
	return int16(math.Round(clamp(v, math.MaxInt16)))
}
