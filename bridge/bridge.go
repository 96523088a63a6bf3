// Package bridge connects a session to the rest of the robot: velocity commands come
// in over MQTT, odometry goes out over MQTT and a websocket stream.
package bridge

import (
	"time"

	"github.com/ekumenlabs/base-controller/kinematics"
	"github.com/ekumenlabs/base-controller/odometry"
)

// Commander accepts velocity commands. *session.Session satisfies it.
type Commander interface {
	SetVelocity(cmd kinematics.VelocityCommand)
}

// Odometry is the wire form of a pose snapshot.
type Odometry struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Theta     float64   `json:"theta"`
	QZ        float64   `json:"qz"`
	QW        float64   `json:"qw"`
	Linear    float64   `json:"linear"`
	Angular   float64   `json:"angular"`
	Timestamp time.Time `json:"timestamp"`
}

// NewOdometry converts a snapshot for publishing.
func NewOdometry(s odometry.State) Odometry {
	qz, qw := s.Quaternion()
	return Odometry{
		X:         s.X,
		Y:         s.Y,
		Theta:     s.Theta,
		QZ:        qz,
		QW:        qw,
		Linear:    s.Linear,
		Angular:   s.Angular,
		Timestamp: s.Time,
	}
}

// mailbox holds at most one pending snapshot. Newer snapshots replace older ones.
type mailbox chan odometry.State

func newMailbox() mailbox { return make(mailbox, 1) }

func (m mailbox) put(s odometry.State) {
	for {
		select {
		case m <- s:
			return
		default:
		}
		select {
		case <-m:
		default:
		}
	}
}
