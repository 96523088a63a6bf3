package protocol

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// maxResyncBytes bounds how much garbage a framer skips looking for a start marker
// before giving the caller a chance to run.
const maxResyncBytes = 512

// FrameReader pulls exactly one complete frame off a byte stream.
type FrameReader func(r *bufio.Reader) ([]byte, error)

// ReadHuskyFrame returns the next Horizon frame. Bytes before a start marker, and
// markers followed by an inconsistent length pair, are skipped.
func ReadHuskyFrame(r *bufio.Reader) ([]byte, error) {
	for skipped := 0; skipped < maxResyncBytes; {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != HuskySOH {
			skipped++
			continue
		}

		lengths, err := r.Peek(2)
		if err != nil {
			return nil, err
		}
		if lengths[0] != ^lengths[1] {
			skipped++
			continue
		}

		frame := make([]byte, int(lengths[0])+3)
		frame[0] = b
		if _, err := io.ReadFull(r, frame[1:]); err != nil {
			return nil, errors.Wrap(err, "reading horizon frame body")
		}
		return frame, nil
	}
	return nil, errors.Wrapf(ErrBadHeader, "no horizon frame in %d bytes", maxResyncBytes)
}

// ReadKobukiFrame returns the next Kobuki frame, skipping bytes until an AA 55 header.
func ReadKobukiFrame(r *bufio.Reader) ([]byte, error) {
	for skipped := 0; skipped < maxResyncBytes; {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != KobukiHeader0 {
			skipped++
			continue
		}

		next, err := r.Peek(1)
		if err != nil {
			return nil, err
		}
		if next[0] != KobukiHeader1 {
			skipped++
			continue
		}
		if _, err := r.Discard(1); err != nil {
			return nil, err
		}

		length, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		frame := make([]byte, int(length)+kobukiFrameOverhead)
		frame[0], frame[1], frame[2] = KobukiHeader0, KobukiHeader1, length
		if _, err := io.ReadFull(r, frame[3:]); err != nil {
			return nil, errors.Wrap(err, "reading kobuki frame body")
		}
		return frame, nil
	}
	return nil, errors.Wrapf(ErrBadHeader, "no kobuki frame in %d bytes", maxResyncBytes)
}
