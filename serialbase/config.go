package serialbase

import (
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/ekumenlabs/base-controller/bridge"
	"github.com/ekumenlabs/base-controller/device"
	"github.com/ekumenlabs/base-controller/session"
	"github.com/ekumenlabs/base-controller/transport"
)

const (
	defaultMaxLinearMPS  = 0.5
	defaultMaxAngularDPS = 90.0
)

// Config is the attribute set of every serial base model. Unset values take the family defaults.
type Config struct {
	SerialPath string `json:"serial_path"`
	BaudRate   int    `json:"baud_rate,omitempty"`
	DataBits   int    `json:"data_bits,omitempty"`
	StopBits   int    `json:"stop_bits,omitempty"`
	Parity     string `json:"parity,omitempty"`

	WheelSeparationMeters float64 `json:"wheel_separation_meters,omitempty"`
	WheelRadiusMeters     float64 `json:"wheel_radius_meters,omitempty"`
	TicksPerMeter         float64 `json:"ticks_per_meter,omitempty"`
	VelocityLimit         float64 `json:"velocity_limit,omitempty"`
	MaxLinearMPS          float64 `json:"max_linear_mps,omitempty"`
	MaxAngularDPS         float64 `json:"max_angular_dps,omitempty"`

	CommandIntervalMs int  `json:"command_interval_ms,omitempty"`
	SensingIntervalMs int  `json:"sensing_interval_ms,omitempty"`
	SkipChecksum      bool `json:"skip_checksum,omitempty"`
	// EncoderRateHz is a pointer so an explicit 0 can turn the subscription off.
	EncoderRateHz *int `json:"encoder_rate_hz,omitempty"`

	MQTTBroker    string `json:"mqtt_broker,omitempty"`
	MQTTClientID  string `json:"mqtt_client_id,omitempty"`
	OdometryTopic string `json:"odometry_topic,omitempty"`
	CmdVelTopic   string `json:"cmd_vel_topic,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.SerialPath == "" {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "serial_path")
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"wheel_separation_meters", cfg.WheelSeparationMeters},
		{"wheel_radius_meters", cfg.WheelRadiusMeters},
		{"ticks_per_meter", cfg.TicksPerMeter},
		{"velocity_limit", cfg.VelocityLimit},
		{"max_linear_mps", cfg.MaxLinearMPS},
		{"max_angular_dps", cfg.MaxAngularDPS},
		{"command_interval_ms", float64(cfg.CommandIntervalMs)},
		{"sensing_interval_ms", float64(cfg.SensingIntervalMs)},
	} {
		if f.value < 0 {
			return nil, errors.Errorf("%s: %s cannot be negative, got %v", path, f.name, f.value)
		}
	}
	if cfg.EncoderRateHz != nil && (*cfg.EncoderRateHz < 0 || *cfg.EncoderRateHz > 0xFFFF) {
		return nil, errors.Errorf("%s: encoder_rate_hz must be within [0, 65535], got %d", path, *cfg.EncoderRateHz)
	}
	if _, err := cfg.portOptions(0).Normalize(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return nil, nil
}

func (cfg *Config) portOptions(defaultBaud int) transport.PortOptions {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = defaultBaud
	}
	return transport.PortOptions{
		BaudRate: baud,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
	}
}

// deviceParams overlays the configured values on the family defaults.
func (cfg *Config) deviceParams(family string) (device.Params, error) {
	p, err := device.Defaults(family)
	if err != nil {
		return p, err
	}
	if cfg.WheelSeparationMeters > 0 {
		p.WheelSeparation = cfg.WheelSeparationMeters
	}
	if cfg.WheelRadiusMeters > 0 {
		p.WheelRadius = cfg.WheelRadiusMeters
	}
	if cfg.TicksPerMeter > 0 {
		p.TicksPerMeter = cfg.TicksPerMeter
	}
	if cfg.VelocityLimit > 0 {
		p.VelocityLimit = cfg.VelocityLimit
	}
	if cfg.BaudRate > 0 {
		p.BaudRate = cfg.BaudRate
	}
	if cfg.EncoderRateHz != nil {
		p.EncoderRateHz = *cfg.EncoderRateHz
	}
	p.SkipChecksum = cfg.SkipChecksum
	return p, nil
}

func (cfg *Config) sessionConfig() session.Config {
	return session.Config{
		CommandInterval: time.Duration(cfg.CommandIntervalMs) * time.Millisecond,
		SensingInterval: time.Duration(cfg.SensingIntervalMs) * time.Millisecond,
	}
}

func (cfg *Config) mqttConfig() bridge.MQTTConfig {
	return bridge.MQTTConfig{
		Broker:        cfg.MQTTBroker,
		ClientID:      cfg.MQTTClientID,
		OdometryTopic: cfg.OdometryTopic,
		CmdVelTopic:   cfg.CmdVelTopic,
	}
}

func (cfg *Config) limits() (linearMPS, angularDPS float64) {
	linearMPS, angularDPS = cfg.MaxLinearMPS, cfg.MaxAngularDPS
	if linearMPS == 0 {
		linearMPS = defaultMaxLinearMPS
	}
	if angularDPS == 0 {
		angularDPS = defaultMaxAngularDPS
	}
	return linearMPS, angularDPS
}
