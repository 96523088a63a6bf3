// Package device describes the base families the controller can drive. Each family
// pairs a kinematics translator with its wire codec, and optionally a feedback decoder.
package device

import (
	"bufio"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/ekumenlabs/base-controller/kinematics"
	"github.com/ekumenlabs/base-controller/odometry"
)

// Device is the command side of one base.
type Device interface {
	// Family is the registry name, e.g. "kobuki".
	Family() string
	// InitFrames are written once, in order, before the command loop starts.
	InitFrames() [][]byte
	// CommandFrame translates and encodes cmd. It never fails; values are clamped.
	CommandFrame(cmd kinematics.VelocityCommand) []byte
	// Sensor returns nil for bases that report nothing back.
	Sensor() Sensor
}

// Sensor decodes the feedback stream of a base.
type Sensor interface {
	// ReadFrame pulls exactly one candidate frame off the stream.
	ReadFrame(r *bufio.Reader) ([]byte, error)
	// Decode validates a frame and extracts the encoder sample and auxiliary state.
	Decode(frame []byte) (Reading, error)
	// Odometry returns the parameters the integrator needs for this base.
	Odometry() odometry.Params
}

// Reading is one decoded feedback frame.
type Reading struct {
	Sample odometry.Sample
	// Status holds auxiliary sensor state such as bumpers or battery level.
	Status map[string]interface{}
}

// Params configure a device. Start from Defaults and override what the robot differs in.
type Params struct {
	WheelSeparation float64 // meters
	WheelRadius     float64 // meters
	TicksPerMeter   float64
	// VelocityScale converts m/s and rad/s into native units, for families that use one.
	VelocityScale float64
	// VelocityLimit clamps native command values symmetrically.
	VelocityLimit float64
	// SkipChecksum accepts feedback frames without verifying their checksum.
	SkipChecksum bool
	// EncoderRateHz is the feedback rate requested at startup. Zero leaves the device as is.
	EncoderRateHz int
	// BaudRate is the serial speed the firmware expects.
	BaudRate int
}

// ConfigError reports a parameter that cannot drive a base. It is fatal at session start.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewConfigError returns a ConfigError for field.
func NewConfigError(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var cerr *ConfigError
	return errors.As(err, &cerr)
}

// Validate checks the fields every family relies on.
func (p Params) Validate() error {
	if !(p.WheelSeparation > 0) {
		return NewConfigError("wheel separation", "must be positive, got %v", p.WheelSeparation)
	}
	if !(p.WheelRadius > 0) {
		return NewConfigError("wheel radius", "must be positive, got %v", p.WheelRadius)
	}
	if p.TicksPerMeter < 0 {
		return NewConfigError("ticks per meter", "cannot be negative, got %v", p.TicksPerMeter)
	}
	if p.VelocityLimit < 0 {
		return NewConfigError("velocity limit", "cannot be negative, got %v", p.VelocityLimit)
	}
	if p.VelocityScale < 0 {
		return NewConfigError("velocity scale", "cannot be negative, got %v", p.VelocityScale)
	}
	if p.EncoderRateHz < 0 || p.EncoderRateHz > 0xFFFF {
		return NewConfigError("encoder rate", "must be within [0, 65535], got %d", p.EncoderRateHz)
	}
	if p.BaudRate <= 0 {
		return NewConfigError("baud rate", "must be positive, got %d", p.BaudRate)
	}
	return nil
}

type family struct {
	defaults Params
	build    func(Params) (Device, error)
}

var families = map[string]family{}

func register(name string, defaults Params, build func(Params) (Device, error)) {
	if _, ok := families[name]; ok {
		panic(errors.Errorf("device family %q registered twice", name))
	}
	families[name] = family{defaults: defaults, build: build}
}

// Families lists the registered family names in sorted order.
func Families() []string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns the stock parameters of a family.
func Defaults(name string) (Params, error) {
	f, ok := families[name]
	if !ok {
		return Params{}, NewConfigError("device family", "unknown family %q, want one of %v", name, Families())
	}
	return f.defaults, nil
}

// New validates p and builds a device of the named family.
func New(name string, p Params) (Device, error) {
	f, ok := families[name]
	if !ok {
		return nil, NewConfigError("device family", "unknown family %q, want one of %v", name, Families())
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, name)
	}
	return f.build(p)
}
