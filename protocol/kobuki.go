package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ekumenlabs/base-controller/kinematics"
)

// Kobuki framing and sub-payload identifiers.
const (
	KobukiHeader0 = 0xAA
	KobukiHeader1 = 0x55

	// KobukiBaseControl is the outbound speed/radius command.
	KobukiBaseControl = 0x01
	// KobukiBasicSensorData is the inbound sensor sub-payload.
	KobukiBasicSensorData = 0x01
	// KobukiInertialSensor is the inbound gyro sub-payload.
	KobukiInertialSensor = 0x04

	KobukiSensorDataLength = 15
	KobukiInertialLength   = 7

	kobukiBaseControlLength = 4
	kobukiFrameOverhead     = 4
)

// BuildKobukiFrame wraps payload, one or more sub-payloads, in a Kobuki frame.
// The trailing checksum covers the length byte and the payload.
func BuildKobukiFrame(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+kobukiFrameOverhead)
	frame = append(frame, KobukiHeader0, KobukiHeader1, byte(len(payload)))
	frame = append(frame, payload...)
	return append(frame, XORChecksum(frame[2:]))
}

// KobukiBaseControlPayload is the base control sub-payload for cmd.
func KobukiBaseControlPayload(cmd kinematics.ArcCommand) []byte {
	payload := make([]byte, 2+kobukiBaseControlLength)
	payload[0] = KobukiBaseControl
	payload[1] = kobukiBaseControlLength
	binary.LittleEndian.PutUint16(payload[2:4], uint16(cmd.Speed))
	binary.LittleEndian.PutUint16(payload[4:6], uint16(cmd.Radius))
	return payload
}

// KobukiSensorData is the basic sensor data sub-payload. Stamp is a wrapping
// millisecond clock and the encoders are wrapping tick counters.
type KobukiSensorData struct {
	Stamp        uint16
	Bumper       uint8
	WheelDrop    uint8
	Cliff        uint8
	LeftEncoder  uint16
	RightEncoder uint16
	LeftPWM      int8
	RightPWM     int8
	Button       uint8
	Charger      uint8
	// Battery is in 0.1 V.
	Battery     uint8
	OverCurrent uint8
}

// ParseKobukiSensorData decodes the body of a basic sensor data sub-payload.
func ParseKobukiSensorData(data []byte) (KobukiSensorData, error) {
	if len(data) != KobukiSensorDataLength {
		return KobukiSensorData{}, errors.Wrap(badLength(len(data), KobukiSensorDataLength), "basic sensor data")
	}
	return KobukiSensorData{
		Stamp:        binary.LittleEndian.Uint16(data[0:2]),
		Bumper:       data[2],
		WheelDrop:    data[3],
		Cliff:        data[4],
		LeftEncoder:  binary.LittleEndian.Uint16(data[5:7]),
		RightEncoder: binary.LittleEndian.Uint16(data[7:9]),
		LeftPWM:      int8(data[9]),
		RightPWM:     int8(data[10]),
		Button:       data[11],
		Charger:      data[12],
		Battery:      data[13],
		OverCurrent:  data[14],
	}, nil
}

// KobukiInertial is the gyro sub-payload in hundredths of a degree.
type KobukiInertial struct {
	Angle     int16
	AngleRate int16
}

// ParseKobukiInertial decodes the body of an inertial sub-payload.
func ParseKobukiInertial(data []byte) (KobukiInertial, error) {
	if len(data) != KobukiInertialLength {
		return KobukiInertial{}, errors.Wrap(badLength(len(data), KobukiInertialLength), "inertial data")
	}
	return KobukiInertial{
		Angle:     int16(binary.LittleEndian.Uint16(data[0:2])),
		AngleRate: int16(binary.LittleEndian.Uint16(data[2:4])),
	}, nil
}

// KobukiFeedback holds the sub-payloads of one feedback frame this package understands.
type KobukiFeedback struct {
	Sensor   KobukiSensorData
	Inertial *KobukiInertial
}

// ParseKobukiFrame validates a feedback frame and decodes its sub-payloads.
// Unknown sub-payloads are skipped by length. A frame without basic sensor
// data is an ErrUnexpectedMessage.
func ParseKobukiFrame(frame []byte, verifyChecksum bool) (KobukiFeedback, error) {
	if len(frame) < kobukiFrameOverhead {
		return KobukiFeedback{}, errors.Wrap(badLength(len(frame), kobukiFrameOverhead), "short kobuki frame")
	}
	if frame[0] != KobukiHeader0 || frame[1] != KobukiHeader1 {
		return KobukiFeedback{}, errors.Wrapf(ErrBadHeader, "header %#02x %#02x", frame[0], frame[1])
	}
	if want := int(frame[2]) + kobukiFrameOverhead; len(frame) != want {
		return KobukiFeedback{}, badLength(len(frame), want)
	}
	end := len(frame) - 1
	if verifyChecksum {
		if got := XORChecksum(frame[2:end]); got != frame[end] {
			return KobukiFeedback{}, errors.Wrapf(ErrChecksumMismatch, "xor %#02x, frame carries %#02x", got, frame[end])
		}
	}

	var (
		feedback  KobukiFeedback
		hasSensor bool
	)
	payload := frame[3:end]
	for len(payload) > 0 {
		if len(payload) < 2 {
			return KobukiFeedback{}, errors.Wrap(ErrBadLength, "truncated sub-payload header")
		}
		id, size := payload[0], int(payload[1])
		if len(payload) < 2+size {
			return KobukiFeedback{}, errors.Wrapf(ErrBadLength, "sub-payload %#02x claims %d bytes, %d left", id, size, len(payload)-2)
		}
		body := payload[2 : 2+size]
		payload = payload[2+size:]

		switch id {
		case KobukiBasicSensorData:
			sensor, err := ParseKobukiSensorData(body)
			if err != nil {
				return KobukiFeedback{}, err
			}
			feedback.Sensor = sensor
			hasSensor = true
		case KobukiInertialSensor:
			inertial, err := ParseKobukiInertial(body)
			if err != nil {
				return KobukiFeedback{}, err
			}
			feedback.Inertial = &inertial
		}
	}
	if !hasSensor {
		return KobukiFeedback{}, errors.Wrap(ErrUnexpectedMessage, "no basic sensor data")
	}
	return feedback, nil
}
