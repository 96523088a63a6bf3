// Package serialbase is a viam base component for mobile bases driven over a serial link:
// Clearpath Husky, Yujin Kobuki and iRobot Create.
package serialbase

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/components/base/kinematicbase"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	viamutils "go.viam.com/utils"

	"github.com/ekumenlabs/base-controller/bridge"
	"github.com/ekumenlabs/base-controller/device"
	"github.com/ekumenlabs/base-controller/kinematics"
	"github.com/ekumenlabs/base-controller/session"
	"github.com/ekumenlabs/base-controller/transport"
)

// Models maps each device family to its viam model.
var Models = map[string]resource.Model{}

func init() {
	for _, family := range device.Families() {
		model := resource.NewModel("ekumenlabs", "base", family)
		Models[family] = model
		resource.RegisterComponent(
			base.API,
			model,
			resource.Registration[base.Base, *Config]{Constructor: func(
				ctx context.Context,
				deps resource.Dependencies,
				conf resource.Config,
				logger logging.Logger,
			) (base.Base, error) {
				return newBase(ctx, conf, family, transport.Open, logger)
			}})
	}
}

type serialBase struct {
	resource.Named
	resource.AlwaysRebuild

	family     string
	session    *session.Session
	mqtt       *bridge.MQTT
	geometries []spatialmath.Geometry
	props      base.Properties
	maxLinear  float64 // m/s
	maxAngular float64 // deg/s
	logger     logging.Logger

	// op identifies the latest motion request so a finished MoveStraight or Spin
	// does not stop a command issued after it.
	opMu sync.Mutex
	op   uint64
}

// newBase opens the serial port and starts the session. The port is closed again on any later failure.
func newBase(
	ctx context.Context,
	conf resource.Config,
	family string,
	open transport.Opener,
	logger logging.Logger,
) (base.Base, error) {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}
	geometries, err := kinematicbase.CollisionGeometry(conf.Frame)
	if err != nil {
		logger.Warnw("base geometry could not be parsed, using default", "error", err)
	}

	params, err := cfg.deviceParams(family)
	if err != nil {
		return nil, err
	}
	dev, err := device.New(family, params)
	if err != nil {
		return nil, err
	}

	port, err := open(cfg.SerialPath, cfg.portOptions(params.BaudRate))
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", cfg.SerialPath)
	}
	sess, err := session.New(dev, port, cfg.sessionConfig(), logger)
	if err != nil {
		return nil, multierr.Combine(err, port.Close())
	}
	if err := sess.Start(ctx); err != nil {
		return nil, multierr.Combine(err, sess.Close())
	}

	maxLinear, maxAngular := cfg.limits()
	b := &serialBase{
		Named:      conf.ResourceName().AsNamed(),
		family:     family,
		session:    sess,
		geometries: geometries,
		props: base.Properties{
			WidthMeters:              params.WheelSeparation,
			WheelCircumferenceMeters: 2 * math.Pi * params.WheelRadius,
		},
		maxLinear:  maxLinear,
		maxAngular: maxAngular,
		logger:     logger,
	}

	if cfg.MQTTBroker != "" {
		m, err := bridge.NewMQTT(cfg.mqttConfig(), sess, logger)
		if err != nil {
			return nil, multierr.Combine(err, sess.Close())
		}
		b.mqtt = m
		sess.OnOdometry(m.Publish)
	}

	logger.Infow("serial base ready", "family", family, "serial_path", cfg.SerialPath)
	return b, nil
}

// command replaces the held velocity and returns the id of the request.
func (b *serialBase) command(cmd kinematics.VelocityCommand) uint64 {
	b.opMu.Lock()
	defer b.opMu.Unlock()
	b.op++
	b.session.SetVelocity(cmd)
	return b.op
}

// stopIfCurrent stops the base unless a newer request replaced op.
func (b *serialBase) stopIfCurrent(op uint64) {
	b.opMu.Lock()
	defer b.opMu.Unlock()
	if b.op == op {
		b.session.Stop()
	}
}

// hold keeps cmd for d, then stops. A cancelled ctx stops early.
func (b *serialBase) hold(ctx context.Context, cmd kinematics.VelocityCommand, d time.Duration) error {
	op := b.command(cmd)
	defer b.stopIfCurrent(op)
	if !viamutils.SelectContextOrWait(ctx, d) {
		return ctx.Err()
	}
	return nil
}

func travelTime(distance, speed float64) time.Duration {
	return time.Duration(math.Abs(distance/speed) * float64(time.Second))
}

// direction is the sign of distance*speed.
func direction(distance, speed float64) float64 {
	if (distance < 0) != (speed < 0) {
		return -1
	}
	return 1
}

// MoveStraight moves the base forward the given distance and speed.
func (b *serialBase) MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error {
	if distanceMm == 0 {
		return b.Stop(ctx, extra)
	}
	if mmPerSec == 0 {
		return errors.New("cannot move straight at zero speed")
	}
	distance := float64(distanceMm)
	linear := direction(distance, mmPerSec) * math.Abs(mmPerSec) / 1000
	return b.hold(ctx, kinematics.VelocityCommand{Linear: linear}, travelTime(distance, mmPerSec))
}

// Spin spins the base by the given angleDeg and degsPerSec.
func (b *serialBase) Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error {
	if angleDeg == 0 {
		return b.Stop(ctx, extra)
	}
	if degsPerSec == 0 {
		return errors.New("cannot spin at zero speed")
	}
	angular := direction(angleDeg, degsPerSec) * degToRad(math.Abs(degsPerSec))
	return b.hold(ctx, kinematics.VelocityCommand{Angular: angular}, travelTime(angleDeg, degsPerSec))
}

// SetPower sets the linear and angular [-1, 1] drive power as fractions of the configured top speeds.
func (b *serialBase) SetPower(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.warnUnused(linear, angular)
	b.command(kinematics.VelocityCommand{
		Linear:  unit(linear.Y) * b.maxLinear,
		Angular: degToRad(unit(angular.Z) * b.maxAngular),
	})
	return nil
}

// SetVelocity sets the linear (mmPerSec) and angular (degsPerSec) velocity.
func (b *serialBase) SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.warnUnused(linear, angular)
	b.command(kinematics.VelocityCommand{
		Linear:  linear.Y / 1000,
		Angular: degToRad(angular.Z),
	})
	return nil
}

// Some vector components do not apply to a 2D base.
func (b *serialBase) warnUnused(linear, angular r3.Vector) {
	if linear.X != 0 || linear.Z != 0 {
		b.logger.Debugw("linear X and Z have no effect on a differential base", "linear", linear)
	}
	if angular.X != 0 || angular.Y != 0 {
		b.logger.Debugw("angular X and Y have no effect on a differential base", "angular", angular)
	}
}

// Stop stops the base. It is assumed the base stops immediately.
func (b *serialBase) Stop(ctx context.Context, extra map[string]interface{}) error {
	b.command(kinematics.VelocityCommand{})
	return nil
}

func (b *serialBase) IsMoving(ctx context.Context) (bool, error) {
	return !b.session.Velocity().IsZero(), nil
}

func (b *serialBase) Properties(ctx context.Context, extra map[string]interface{}) (base.Properties, error) {
	return b.props, nil
}

func (b *serialBase) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return b.geometries, nil
}

// DoCommand exposes odometry and link status.
func (b *serialBase) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd["command"]
	if !ok {
		return nil, errors.New("missing 'command' value")
	}
	switch name {
	case "get_odometry":
		state, ok := b.session.Odometry()
		if !ok {
			return nil, errors.Wrap(session.ErrNoFeedback, b.family)
		}
		o := bridge.NewOdometry(state)
		return map[string]interface{}{
			"x":         o.X,
			"y":         o.Y,
			"theta":     o.Theta,
			"qz":        o.QZ,
			"qw":        o.QW,
			"linear":    o.Linear,
			"angular":   o.Angular,
			"timestamp": o.Timestamp.Format(time.RFC3339Nano),
		}, nil
	case "reset_odometry":
		if err := b.session.ResetOdometry(); err != nil {
			return nil, errors.Wrap(err, b.family)
		}
		return map[string]interface{}{"return": "odometry reset"}, nil
	case "get_status":
		c := b.session.Counters()
		v := b.session.Velocity()
		return map[string]interface{}{
			"family":          b.family,
			"feedback":        b.session.HasFeedback(),
			"status":          b.session.Status(),
			"linear":          v.Linear,
			"angular":         v.Angular,
			"frames_sent":     c.FramesSent,
			"frames_decoded":  c.FramesDecoded,
			"frames_rejected": c.FramesRejected,
			"write_errors":    c.WriteErrors,
			"read_errors":     c.ReadErrors,
		}, nil
	default:
		return nil, errors.Errorf("no such command: %s", name)
	}
}

// Close stops the base, closes the bridge and then the session.
func (b *serialBase) Close(ctx context.Context) error {
	b.command(kinematics.VelocityCommand{})
	var err error
	if b.mqtt != nil {
		err = multierr.Append(err, b.mqtt.Close())
	}
	return multierr.Append(err, b.session.Close())
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180 }

func unit(v float64) float64 { return math.Max(-1, math.Min(1, v)) }
