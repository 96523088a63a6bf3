package protocol

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/ekumenlabs/base-controller/kinematics"
)

var (
	kobukiSensorSub = []byte{
		KobukiBasicSensorData, KobukiSensorDataLength,
		0x10, 0x27, // stamp 10000
		0x01, 0x02, 0x04, // bumper, wheel drop, cliff
		0xE8, 0x03, // left 1000
		0xFE, 0xFF, // right 65534
		0x7F, 0x80, // pwm
		0x01, 0x02, 0xA5, 0x00, // button, charger, battery, overcurrent
	}
	kobukiInertialSub = []byte{
		KobukiInertialSensor, KobukiInertialLength,
		0x2C, 0x01, // angle 300
		0x9C, 0xFF, // rate -100
		0x00, 0x00, 0x00,
	}
	kobukiUnknownSub = []byte{0x05, 0x02, 0xAB, 0xCD}
)

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestKobukiBaseControlFrame(t *testing.T) {
	frame := BuildKobukiFrame(KobukiBaseControlPayload(kinematics.ArcCommand{Speed: 300}))
	test.That(t, frame, test.ShouldResemble, []byte{0xAA, 0x55, 0x06, 0x01, 0x04, 0x2C, 0x01, 0x00, 0x00, 0x2E})

	frame = BuildKobukiFrame(KobukiBaseControlPayload(kinematics.ArcCommand{Speed: 115, Radius: -1}))
	test.That(t, frame[5:9], test.ShouldResemble, []byte{0x73, 0x00, 0xFF, 0xFF})
	test.That(t, frame[9], test.ShouldEqual, XORChecksum(frame[2:9]))
}

func TestParseKobukiFrame(t *testing.T) {
	frame := BuildKobukiFrame(concat(kobukiSensorSub, kobukiUnknownSub, kobukiInertialSub))

	fb, err := ParseKobukiFrame(frame, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fb.Sensor, test.ShouldResemble, KobukiSensorData{
		Stamp:        10000,
		Bumper:       1,
		WheelDrop:    2,
		Cliff:        4,
		LeftEncoder:  1000,
		RightEncoder: 65534,
		LeftPWM:      127,
		RightPWM:     -128,
		Button:       1,
		Charger:      2,
		Battery:      165,
		OverCurrent:  0,
	})
	test.That(t, fb.Inertial, test.ShouldNotBeNil)
	test.That(t, *fb.Inertial, test.ShouldResemble, KobukiInertial{Angle: 300, AngleRate: -100})

	fb, err = ParseKobukiFrame(BuildKobukiFrame(kobukiSensorSub), true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fb.Inertial, test.ShouldBeNil)
}

func TestParseKobukiFrameRejects(t *testing.T) {
	t.Run("checksum", func(t *testing.T) {
		frame := BuildKobukiFrame(kobukiSensorSub)
		frame[len(frame)-1] ^= 0xFF
		_, err := ParseKobukiFrame(frame, true)
		test.That(t, errors.Is(err, ErrChecksumMismatch), test.ShouldBeTrue)

		_, err = ParseKobukiFrame(frame, false)
		test.That(t, err, test.ShouldBeNil)
	})

	t.Run("header", func(t *testing.T) {
		frame := BuildKobukiFrame(kobukiSensorSub)
		frame[1] = 0x00
		_, err := ParseKobukiFrame(frame, true)
		test.That(t, errors.Is(err, ErrBadHeader), test.ShouldBeTrue)
	})

	t.Run("frame length", func(t *testing.T) {
		frame := BuildKobukiFrame(kobukiSensorSub)
		_, err := ParseKobukiFrame(frame[:len(frame)-2], true)
		test.That(t, errors.Is(err, ErrBadLength), test.ShouldBeTrue)

		_, err = ParseKobukiFrame([]byte{0xAA, 0x55}, true)
		test.That(t, errors.Is(err, ErrBadLength), test.ShouldBeTrue)
	})

	t.Run("short sensor data", func(t *testing.T) {
		sub := concat([]byte{KobukiBasicSensorData, KobukiSensorDataLength - 1}, kobukiSensorSub[2:len(kobukiSensorSub)-1])
		_, err := ParseKobukiFrame(BuildKobukiFrame(sub), true)
		test.That(t, errors.Is(err, ErrBadLength), test.ShouldBeTrue)
	})

	t.Run("sub-payload overruns frame", func(t *testing.T) {
		_, err := ParseKobukiFrame(BuildKobukiFrame([]byte{KobukiBasicSensorData, 0x20, 0x00}), true)
		test.That(t, errors.Is(err, ErrBadLength), test.ShouldBeTrue)
	})

	t.Run("no sensor data", func(t *testing.T) {
		_, err := ParseKobukiFrame(BuildKobukiFrame(kobukiInertialSub), true)
		test.That(t, errors.Is(err, ErrUnexpectedMessage), test.ShouldBeTrue)
	})
}

func TestParseKobukiInertialLength(t *testing.T) {
	_, err := ParseKobukiInertial([]byte{0x00, 0x00, 0x00, 0x00})
	test.That(t, errors.Is(err, ErrBadLength), test.ShouldBeTrue)
}
