package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pulse.dev/rtcore/common"
	"pulse.dev/rtcore/drift"
)

// WebSocketConfig tunes the reconnect behavior of WebSocketRegimeEventSink.
type WebSocketConfig struct {
	URL string

	ReconnectInitialDelay  time.Duration
	ReconnectMaxDelay      time.Duration
	ReconnectBackoffFactor float64
	ReconnectMaxAttempts   int // 0 = infinite

	PingInterval time.Duration
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.ReconnectInitialDelay <= 0 {
		c.ReconnectInitialDelay = time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.ReconnectBackoffFactor <= 0 {
		c.ReconnectBackoffFactor = 2.0
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	return c
}

// WebSocketRegimeEventSink pushes regime events to an external orchestrator
// over a reconnecting WebSocket connection, for deployments that already
// run such a link. Events are queued and only dequeued once a write
// succeeds, so a connection drop redelivers rather than drops, matching
// the sink's at-least-once contract.
type WebSocketRegimeEventSink struct {
	cfg WebSocketConfig
	log *common.ContextLogger

	conn      *websocket.Conn
	connMu    sync.RWMutex
	connected bool

	pendingMu sync.Mutex
	pending   [][]byte
	wake      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWebSocketRegimeEventSink builds a sink; call Connect to start the
// reconnect loop and Close to tear it down.
func NewWebSocketRegimeEventSink(cfg WebSocketConfig) *WebSocketRegimeEventSink {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketRegimeEventSink{
		cfg:    cfg.withDefaults(),
		log:    common.ComponentLogger(common.Logger, "adapters"),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect starts the background reconnect loop.
func (s *WebSocketRegimeEventSink) Connect() {
	s.wg.Add(1)
	go s.connectionLoop()
}

// Close tears down the connection and stops the reconnect loop.
func (s *WebSocketRegimeEventSink) Close() error {
	s.cancel()
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
	return nil
}

// Publish enqueues event for delivery and returns immediately; delivery
// happens asynchronously on whatever connection is current or next
// established.
func (s *WebSocketRegimeEventSink) Publish(ctx context.Context, event drift.RegimeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("adapters: marshal regime event: %w", err)
	}

	s.pendingMu.Lock()
	s.pending = append(s.pending, data)
	s.pendingMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *WebSocketRegimeEventSink) connectionLoop() {
	defer s.wg.Done()

	delay := s.cfg.ReconnectInitialDelay
	attempts := 0

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		conn, err := s.connect()
		if err != nil {
			attempts++
			s.log.WithError(err).WithField("attempt", attempts).Warn("regime event sink connection failed")

			if s.cfg.ReconnectMaxAttempts > 0 && attempts >= s.cfg.ReconnectMaxAttempts {
				s.log.Error("regime event sink reached max reconnect attempts")
				return
			}

			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * s.cfg.ReconnectBackoffFactor)
			if delay > s.cfg.ReconnectMaxDelay {
				delay = s.cfg.ReconnectMaxDelay
			}
			continue
		}

		delay = s.cfg.ReconnectInitialDelay
		attempts = 0

		s.connMu.Lock()
		s.conn = conn
		s.connected = true
		s.connMu.Unlock()

		s.runConnection(conn)

		s.connMu.Lock()
		s.connected = false
		s.conn = nil
		s.connMu.Unlock()
	}
}

func (s *WebSocketRegimeEventSink) connect() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(s.ctx, s.cfg.URL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return conn, nil
}

func (s *WebSocketRegimeEventSink) runConnection(conn *websocket.Conn) {
	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		s.senderLoop(conn)
	}()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		s.pingLoop(conn)
	}()

	s.readLoop(conn)

	conn.Close()
	<-senderDone
	<-pingDone
}

// readLoop discards inbound traffic; the sink only pushes, it never
// consumes commands from the orchestrator link.
func (s *WebSocketRegimeEventSink) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		select {
		case <-s.ctx.Done():
			return
		default:
		}
	}
}

func (s *WebSocketRegimeEventSink) senderLoop(conn *websocket.Conn) {
	for {
		s.pendingMu.Lock()
		var next []byte
		if len(s.pending) > 0 {
			next = s.pending[0]
		}
		s.pendingMu.Unlock()

		if next == nil {
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
				continue
			case <-time.After(time.Second):
				continue
			}
		}

		if err := conn.WriteMessage(websocket.TextMessage, next); err != nil {
			s.log.WithError(err).Warn("failed to write regime event, will retry on reconnect")
			return
		}

		s.pendingMu.Lock()
		if len(s.pending) > 0 {
			s.pending = s.pending[1:]
		}
		s.pendingMu.Unlock()
	}
}

func (s *WebSocketRegimeEventSink) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				s.log.WithError(err).Debug("regime event sink ping failed")
				return
			}
		}
	}
}
