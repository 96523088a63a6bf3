// Package main drives a serial base without a viam robot: velocity commands arrive on
// MQTT and odometry goes out on MQTT and a websocket stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"

	"github.com/ekumenlabs/base-controller/bridge"
	"github.com/ekumenlabs/base-controller/device"
	"github.com/ekumenlabs/base-controller/session"
	"github.com/ekumenlabs/base-controller/transport"
)

const shutdownTimeout = 2 * time.Second

type options struct {
	family        string
	port          string
	baud          int
	listen        string
	broker        string
	clientID      string
	odomTopic     string
	cmdVelTopic   string
	commandEvery  time.Duration
	sensingEvery  time.Duration
	skipChecksum  bool
	encoderRateHz int
	list          bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("odombridge", flag.ContinueOnError)
	fs.StringVar(&o.family, "family", device.Kobuki, fmt.Sprintf("base family, one of %v", device.Families()))
	fs.StringVar(&o.port, "port", "/dev/ttyUSB0", "serial device")
	fs.IntVar(&o.baud, "baud", 0, "baud rate (0 uses the family default)")
	fs.StringVar(&o.listen, "listen", ":8080", "websocket listen address, empty disables")
	fs.StringVar(&o.broker, "broker", "", "mqtt broker, e.g. tcp://localhost:1883; empty disables")
	fs.StringVar(&o.clientID, "client-id", "", "mqtt client id (default base-controller-<uuid>)")
	fs.StringVar(&o.odomTopic, "odom-topic", bridge.DefaultOdometryTopic, "mqtt odometry topic")
	fs.StringVar(&o.cmdVelTopic, "cmd-vel-topic", bridge.DefaultCmdVelTopic, "mqtt velocity command topic")
	fs.DurationVar(&o.commandEvery, "command-interval", session.DefaultCommandInterval, "command loop interval")
	fs.DurationVar(&o.sensingEvery, "sensing-interval", session.DefaultSensingInterval, "sensing loop interval")
	fs.BoolVar(&o.skipChecksum, "skip-checksum", false, "accept feedback frames without checking them")
	fs.IntVar(&o.encoderRateHz, "encoder-rate", -1, "husky encoder rate in Hz (-1 uses the default, 0 disables)")
	fs.BoolVar(&o.list, "list", false, "list serial ports and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

func (o options) deviceParams() (device.Params, error) {
	p, err := device.Defaults(o.family)
	if err != nil {
		return p, err
	}
	if o.baud > 0 {
		p.BaudRate = o.baud
	}
	if o.encoderRateHz >= 0 {
		p.EncoderRateHz = o.encoderRateHz
	}
	p.SkipChecksum = o.skipChecksum
	return p, nil
}

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewLogger("odombridge"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var flagArgs []string
	if len(args) > 0 {
		flagArgs = args[1:]
	}
	o, err := parseFlags(flagArgs)
	if err != nil {
		return err
	}

	if o.list {
		ports, err := transport.List()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	}

	return run(ctx, o, transport.Open, logger)
}

func run(ctx context.Context, o options, open transport.Opener, logger logging.Logger) (err error) {
	params, err := o.deviceParams()
	if err != nil {
		return err
	}
	dev, err := device.New(o.family, params)
	if err != nil {
		return err
	}
	port, err := open(o.port, transport.PortOptions{BaudRate: params.BaudRate})
	if err != nil {
		return errors.Wrapf(err, "opening %s", o.port)
	}
	sess, err := session.New(dev, port, session.Config{CommandInterval: o.commandEvery, SensingInterval: o.sensingEvery}, logger)
	if err != nil {
		return multierr.Combine(err, port.Close())
	}
	defer func() {
		err = multierr.Combine(err, sess.Close())
	}()
	if err := sess.Start(ctx); err != nil {
		return err
	}

	if o.broker != "" {
		m, mqttErr := bridge.NewMQTT(bridge.MQTTConfig{
			Broker:        o.broker,
			ClientID:      o.clientID,
			OdometryTopic: o.odomTopic,
			CmdVelTopic:   o.cmdVelTopic,
		}, sess, logger)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			err = multierr.Combine(err, m.Close())
		}()
		defer sess.OnOdometry(m.Publish)()
	}

	if o.listen != "" {
		stream := bridge.NewStream(logger)
		defer func() {
			err = multierr.Combine(err, stream.Close())
		}()
		defer sess.OnOdometry(stream.Publish)()

		mux := http.NewServeMux()
		mux.Handle("/odom", stream)
		srv := &http.Server{Addr: o.listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		errCh := make(chan error, 1)
		goutils.PanicCapturingGo(func() {
			errCh <- srv.ListenAndServe()
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err = multierr.Combine(err, srv.Shutdown(shutdownCtx))
		}()
		logger.Infow("odometry stream listening", "addr", o.listen, "path", "/odom")

		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	}

	<-ctx.Done()
	return nil
}
