package bridge

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.viam.com/rdk/logging"

	"github.com/ekumenlabs/base-controller/odometry"
)

const streamWriteTimeout = time.Second

// Stream serves odometry snapshots to websocket clients. Each client gets the latest
// snapshot on connect and then every new one; a slow client skips intermediate ones.
type Stream struct {
	upgrader websocket.Upgrader
	logger   logging.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	last    *odometry.State
	closed  bool
}

type streamClient struct {
	conn  *websocket.Conn
	queue mailbox
	done  chan struct{}
}

// NewStream returns a stream with no clients.
func NewStream(logger logging.Logger) *Stream {
	return &Stream{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: map[*streamClient]struct{}{},
	}
}

// ServeHTTP upgrades the request and streams until the client goes away.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugw("odometry stream upgrade error", "error", err)
		return
	}
	defer conn.Close()

	c := &streamClient{conn: conn, queue: newMailbox(), done: make(chan struct{})}
	if !s.add(c) {
		return
	}
	defer s.remove(c)

	// Clients only listen; reading surfaces the close handshake.
	go func() {
		defer close(c.done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debugw("odometry stream client error", "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-c.done:
			return
		case state := <-c.queue:
			if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(NewOdometry(state)); err != nil {
				s.logger.Debugw("odometry stream write error", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

func (s *Stream) add(c *streamClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	if s.last != nil {
		c.queue.put(*s.last)
	}
	return true
}

func (s *Stream) remove(c *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

// Publish hands state to every connected client without blocking.
func (s *Stream) Publish(state odometry.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &state
	for c := range s.clients {
		c.queue.put(state)
	}
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client and refuses new ones.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		c.conn.Close()
	}
	return nil
}
