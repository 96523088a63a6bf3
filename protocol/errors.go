package protocol

import "github.com/pkg/errors"

// Frame level failures. A rejected frame is dropped and never reaches odometry.
var (
	// ErrBadLength is returned when a frame or field is not the size the device defines.
	ErrBadLength = errors.New("bad frame length")
	// ErrBadHeader is returned for a missing start marker, a length byte that does not
	// match its complement, or a misplaced payload marker.
	ErrBadHeader = errors.New("bad frame header")
	// ErrChecksumMismatch is returned when checksum verification is enabled and fails.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrUnexpectedMessage is returned for well formed frames carrying a message the
	// decoder does not handle.
	ErrUnexpectedMessage = errors.New("unexpected message")
)

func badLength(got, want int) error {
	return errors.Wrapf(ErrBadLength, "got %d bytes, want %d", got, want)
}
