// Package odometry dead-reckons a planar pose from wheel encoder samples.
package odometry

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Params map raw encoder ticks onto the ground.
type Params struct {
	TicksPerMeter   float64
	WheelSeparation float64 // meters
	// TickRange is the encoder counter modulus. Zero means the counters do not wrap
	// and deltas are taken in 32-bit two's complement.
	TickRange int64
	// StampRange is the modulus of the sample clock. Zero means 32-bit wrap.
	StampRange int64
}

// Validate reports the first parameter that cannot produce a pose.
func (p Params) Validate() error {
	if !(p.TicksPerMeter > 0) {
		return errors.Errorf("ticks per meter must be positive, got %v", p.TicksPerMeter)
	}
	if !(p.WheelSeparation > 0) {
		return errors.Errorf("wheel separation must be positive, got %v", p.WheelSeparation)
	}
	if p.TickRange < 0 || p.StampRange < 0 {
		return errors.New("counter ranges cannot be negative")
	}
	return nil
}

// WheelSpeeds are measured wheel speeds in m/s.
type WheelSpeeds struct {
	Left  float64
	Right float64
}

// Sample is one encoder reading as the device reports it.
type Sample struct {
	Left  int32
	Right int32
	// Stamp is the device clock in milliseconds, valid when HasStamp is set.
	Stamp    uint32
	HasStamp bool
	// Speeds, when present, take precedence over velocities derived from deltas.
	Speeds *WheelSpeeds
}

// State is a consistent pose and velocity snapshot. Theta accumulates without wrapping.
type State struct {
	X       float64   `json:"x"`
	Y       float64   `json:"y"`
	Theta   float64   `json:"theta"`
	Linear  float64   `json:"linear"`
	Angular float64   `json:"angular"`
	Time    time.Time `json:"timestamp"`
}

// Quaternion returns the z and w components of the rotation about the vertical axis.
func (s State) Quaternion() (qz, qw float64) {
	return math.Sin(s.Theta / 2), math.Cos(s.Theta / 2)
}

// Integrator accumulates samples into a State. The first sample after construction
// or Reset only seeds the baseline. Samples must be fed in arrival order.
type Integrator struct {
	params Params
	now    func() time.Time

	mu       sync.Mutex
	tracking bool
	prev     Sample
	state    State
}

// NewIntegrator returns an integrator at the origin.
func NewIntegrator(params Params) *Integrator {
	return &Integrator{params: params, now: time.Now}
}

// Update folds s into the pose and reports whether the snapshot changed.
func (i *Integrator) Update(s Sample) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.tracking {
		i.prev = s
		i.tracking = true
		return false
	}

	dL := i.tickDelta(s.Left, i.prev.Left)
	dR := i.tickDelta(s.Right, i.prev.Right)
	elapsed := i.elapsed(s)

	if dL == 0 && dR == 0 {
		if elapsed <= 0 {
			return false
		}
		// Measured standing still.
		i.prev.Stamp = s.Stamp
		linear, angular := 0.0, 0.0
		if s.Speeds != nil {
			linear, angular = i.bodyVelocity(*s.Speeds)
		}
		if linear == i.state.Linear && angular == i.state.Angular {
			return false
		}
		i.state.Linear, i.state.Angular = linear, angular
		i.state.Time = i.now()
		return true
	}

	linearDelta := (dL + dR) / 2 / i.params.TicksPerMeter
	angularDelta := (dR - dL) / i.params.TicksPerMeter / i.params.WheelSeparation

	i.state.X += linearDelta * math.Cos(i.state.Theta)
	i.state.Y += linearDelta * math.Sin(i.state.Theta)
	i.state.Theta += angularDelta

	switch {
	case s.Speeds != nil:
		i.state.Linear, i.state.Angular = i.bodyVelocity(*s.Speeds)
	case elapsed > 0:
		i.state.Linear = linearDelta / elapsed
		i.state.Angular = angularDelta / elapsed
	}

	i.prev = s
	i.state.Time = i.now()
	return true
}

// tickDelta returns cur-prev, folded into [-TickRange/2, TickRange/2) for wrapping counters.
func (i *Integrator) tickDelta(cur, prev int32) float64 {
	r := i.params.TickRange
	if r <= 0 {
		return float64(cur - prev)
	}
	d := (int64(cur)-int64(prev)+r/2)%r - r/2
	if d < -r/2 {
		d += r
	}
	return float64(d)
}

// elapsed returns the seconds between s and the previous sample, or 0 when unknown.
func (i *Integrator) elapsed(s Sample) float64 {
	if !s.HasStamp || !i.prev.HasStamp {
		return 0
	}
	ms := int64(s.Stamp - i.prev.Stamp)
	if r := i.params.StampRange; r > 0 {
		ms %= r
	}
	return float64(ms) / 1000
}

func (i *Integrator) bodyVelocity(w WheelSpeeds) (linear, angular float64) {
	return (w.Left + w.Right) / 2, (w.Right - w.Left) / i.params.WheelSeparation
}

// Snapshot returns the current state. It never observes a partial update.
func (i *Integrator) Snapshot() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Tracking reports whether a baseline sample has been seen.
func (i *Integrator) Tracking() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.tracking
}

// Reset moves the pose back to the origin. The next sample seeds a new baseline.
func (i *Integrator) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tracking = false
	i.prev = Sample{}
	i.state = State{Time: i.now()}
}
