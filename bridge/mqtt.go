package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"

	"github.com/ekumenlabs/base-controller/kinematics"
	"github.com/ekumenlabs/base-controller/odometry"
)

// Default topics.
const (
	DefaultOdometryTopic = "odom"
	DefaultCmdVelTopic   = "cmd_vel"
)

const (
	mqttTimeout      = 5 * time.Second
	mqttDisconnectMs = 250
	mqttClientIDStem = "base-controller-"
	mqttCommandQoS   = 0
	mqttTelemetryQoS = 0
)

// MQTTConfig locates the broker and names the topics.
type MQTTConfig struct {
	Broker        string
	ClientID      string
	OdometryTopic string
	CmdVelTopic   string
}

func (c MQTTConfig) withDefaults() MQTTConfig {
	if c.ClientID == "" {
		c.ClientID = mqttClientIDStem + uuid.NewString()
	}
	if c.OdometryTopic == "" {
		c.OdometryTopic = DefaultOdometryTopic
	}
	if c.CmdVelTopic == "" {
		c.CmdVelTopic = DefaultCmdVelTopic
	}
	return c
}

// MQTT feeds cmd_vel messages to a Commander and publishes odometry snapshots.
type MQTT struct {
	client mqtt.Client
	cfg    MQTTConfig
	cmd    Commander
	logger logging.Logger
	outbox mailbox

	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
	closeOnce               sync.Once
}

// NewMQTT connects to cfg.Broker, subscribes to the command topic and starts publishing.
func NewMQTT(cfg MQTTConfig, cmd Commander, logger logging.Logger) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker address is required")
	}
	cfg = cfg.withDefaults()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warnw("mqtt connection lost", "broker", cfg.Broker, "error", err)
		})
	return newMQTT(mqtt.NewClient(opts), cfg, cmd, logger)
}

func newMQTT(client mqtt.Client, cfg MQTTConfig, cmd Commander, logger logging.Logger) (*MQTT, error) {
	cfg = cfg.withDefaults()
	if err := wait(client.Connect()); err != nil {
		return nil, errors.Wrapf(err, "connecting to mqtt broker %s", cfg.Broker)
	}

	m := &MQTT{
		client: client,
		cfg:    cfg,
		cmd:    cmd,
		logger: logger,
		outbox: newMailbox(),
	}
	if err := wait(client.Subscribe(cfg.CmdVelTopic, mqttCommandQoS, m.handleCmdVel)); err != nil {
		client.Disconnect(mqttDisconnectMs)
		return nil, errors.Wrapf(err, "subscribing to %s", cfg.CmdVelTopic)
	}
	logger.Infow("mqtt bridge connected",
		"broker", cfg.Broker,
		"client_id", cfg.ClientID,
		"cmd_vel", cfg.CmdVelTopic,
		"odometry", cfg.OdometryTopic,
	)

	cancelCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		m.publishLoop(cancelCtx)
	}, m.activeBackgroundWorkers.Done)
	return m, nil
}

func wait(token mqtt.Token) error {
	if !token.WaitTimeout(mqttTimeout) {
		return errors.New("timed out")
	}
	return token.Error()
}

func (m *MQTT) handleCmdVel(_ mqtt.Client, msg mqtt.Message) {
	var cmd kinematics.VelocityCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		m.logger.Warnw("dropping malformed cmd_vel", "topic", msg.Topic(), "error", err)
		return
	}
	m.cmd.SetVelocity(cmd)
}

// Publish queues s for publishing. It never blocks; a snapshot not yet sent is replaced.
func (m *MQTT) Publish(s odometry.State) {
	m.outbox.put(s)
}

func (m *MQTT) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-m.outbox:
			payload, err := json.Marshal(NewOdometry(s))
			if err != nil {
				m.logger.Errorw("encoding odometry", "error", err)
				continue
			}
			if err := wait(m.client.Publish(m.cfg.OdometryTopic, mqttTelemetryQoS, false, payload)); err != nil {
				m.logger.Warnw("odometry publish error", "topic", m.cfg.OdometryTopic, "error", err)
			}
		}
	}
}

// Close unsubscribes, stops publishing and disconnects.
func (m *MQTT) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.client.IsConnected() {
			err = wait(m.client.Unsubscribe(m.cfg.CmdVelTopic))
		}
		m.cancel()
		m.activeBackgroundWorkers.Wait()
		m.client.Disconnect(mqttDisconnectMs)
	})
	return err
}
