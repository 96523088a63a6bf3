package protocol

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/ekumenlabs/base-controller/kinematics"
)

// Horizon protocol constants.
const (
	HuskySOH     = 0xAA
	HuskySTX     = 0x55
	HuskyVersion = 0x01

	// HuskyFlagsNoAck tells the controller not to acknowledge the frame.
	HuskyFlagsNoAck = 0x01

	HuskyMsgSetVelocity     uint16 = 0x0204
	HuskyMsgRequestEncoders uint16 = 0x4800
	HuskyMsgEncoders        uint16 = 0x8800

	// HuskyAcceleration is sent with every velocity command, in native units.
	HuskyAcceleration int16 = 0x00C8

	// HuskyEncoderFrameLength is the full size of an encoder feedback frame.
	HuskyEncoderFrameLength = 27

	huskyHeaderLength  = 9
	huskyFrameOverhead = huskyHeaderLength + 2
	huskyEncoderCount  = 2
)

// BuildHuskyFrame wraps payload in a Horizon frame stamped with elapsedMs, the
// milliseconds since the session started. The stamp wraps silently.
func BuildHuskyFrame(payload []byte, elapsedMs uint32) []byte {
	frame := make([]byte, len(payload)+huskyFrameOverhead)
	length := byte(len(payload) + 8)

	frame[0] = HuskySOH
	frame[1] = length
	frame[2] = ^length
	frame[3] = HuskyVersion
	binary.LittleEndian.PutUint32(frame[4:8], elapsedMs)
	frame[8] = HuskyFlagsNoAck
	copy(frame[huskyHeaderLength:], payload)

	end := len(frame) - 2
	binary.LittleEndian.PutUint16(frame[end:], CRC16(frame[:end]))
	return frame
}

// HuskyEncoder stamps frames relative to a session start time.
type HuskyEncoder struct {
	start time.Time
	now   func() time.Time
}

// NewHuskyEncoder returns an encoder whose stamps count from start. A nil now uses time.Now.
func NewHuskyEncoder(start time.Time, now func() time.Time) *HuskyEncoder {
	if now == nil {
		now = time.Now
	}
	return &HuskyEncoder{start: start, now: now}
}

// Frame builds a frame for payload stamped with the current session time.
func (e *HuskyEncoder) Frame(payload []byte) []byte {
	return BuildHuskyFrame(payload, uint32(e.now().Sub(e.start).Milliseconds()))
}

func huskyMessage(msgType uint16, data []byte) []byte {
	payload := make([]byte, 3+len(data))
	binary.LittleEndian.PutUint16(payload[0:2], msgType)
	payload[2] = HuskySTX
	copy(payload[3:], data)
	return payload
}

// HuskyVelocityPayload is the set-velocity message for cmd.
func HuskyVelocityPayload(cmd kinematics.ModelCommand) []byte {
	data := make([]byte, 6)
	binary.LittleEndian.PutUint16(data[0:2], uint16(cmd.Linear))
	binary.LittleEndian.PutUint16(data[2:4], uint16(cmd.Angular))
	binary.LittleEndian.PutUint16(data[4:6], uint16(HuskyAcceleration))
	return huskyMessage(HuskyMsgSetVelocity, data)
}

// HuskyEncoderRequestPayload subscribes to encoder feedback at rateHz.
func HuskyEncoderRequestPayload(rateHz uint16) []byte {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, rateHz)
	return huskyMessage(HuskyMsgRequestEncoders, data)
}

// HuskyMessage is a validated inbound Horizon frame.
type HuskyMessage struct {
	Type  uint16
	Stamp uint32
	Data  []byte
}

// ParseHuskyFrame validates framing and returns the message it carries. Checksum
// verification can be disabled for links that are known to corrupt nothing but the CRC.
func ParseHuskyFrame(frame []byte, verifyChecksum bool) (HuskyMessage, error) {
	if len(frame) < huskyFrameOverhead+3 {
		return HuskyMessage{}, errors.Wrap(badLength(len(frame), huskyFrameOverhead+3), "short horizon frame")
	}
	if frame[0] != HuskySOH {
		return HuskyMessage{}, errors.Wrapf(ErrBadHeader, "start byte %#02x", frame[0])
	}
	if frame[1] != ^frame[2] {
		return HuskyMessage{}, errors.Wrapf(ErrBadHeader, "length %#02x does not match complement %#02x", frame[1], frame[2])
	}
	if want := int(frame[1]) + 3; len(frame) != want {
		return HuskyMessage{}, badLength(len(frame), want)
	}

	end := len(frame) - 2
	if verifyChecksum {
		want := binary.LittleEndian.Uint16(frame[end:])
		if got := CRC16(frame[:end]); got != want {
			return HuskyMessage{}, errors.Wrapf(ErrChecksumMismatch, "crc %#04x, frame carries %#04x", got, want)
		}
	}

	payload := frame[huskyHeaderLength:end]
	if payload[2] != HuskySTX {
		return HuskyMessage{}, errors.Wrapf(ErrBadHeader, "payload marker %#02x", payload[2])
	}
	return HuskyMessage{
		Type:  binary.LittleEndian.Uint16(payload[0:2]),
		Stamp: binary.LittleEndian.Uint32(frame[4:8]),
		Data:  payload[3:],
	}, nil
}

// HuskyEncoders is the encoder feedback message. Travel is in millimeters, speed in mm/s.
type HuskyEncoders struct {
	Stamp       uint32
	LeftTravel  int32
	RightTravel int32
	LeftSpeed   int16
	RightSpeed  int16
}

// ParseHuskyEncoders decodes an encoder feedback frame.
func ParseHuskyEncoders(frame []byte, verifyChecksum bool) (HuskyEncoders, error) {
	msg, err := ParseHuskyFrame(frame, verifyChecksum)
	if err != nil {
		return HuskyEncoders{}, err
	}
	if msg.Type != HuskyMsgEncoders {
		return HuskyEncoders{}, errors.Wrapf(ErrUnexpectedMessage, "horizon message %#04x", msg.Type)
	}
	if len(frame) != HuskyEncoderFrameLength {
		return HuskyEncoders{}, badLength(len(frame), HuskyEncoderFrameLength)
	}

	data := msg.Data
	if data[0] != huskyEncoderCount {
		return HuskyEncoders{}, errors.Wrapf(ErrBadLength, "%d encoders reported, want %d", data[0], huskyEncoderCount)
	}
	return HuskyEncoders{
		Stamp:       msg.Stamp,
		LeftTravel:  int32(binary.LittleEndian.Uint32(data[1:5])),
		RightTravel: int32(binary.LittleEndian.Uint32(data[5:9])),
		LeftSpeed:   int16(binary.LittleEndian.Uint16(data[9:11])),
		RightSpeed:  int16(binary.LittleEndian.Uint16(data[11:13])),
	}, nil
}
