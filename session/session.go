// Package session owns the single live peer connection: handshake, liveness
// probing, message classification, and the one predicate everything else
// relies on - "is the peer usably connected".
package session

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/c360/editorbridge/errors"
	"github.com/c360/editorbridge/logstore"
	"github.com/c360/editorbridge/protocol"
)

// Conn is the transport surface the session needs. *websocket.Conn
// satisfies it; tests substitute a fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ResponseSink receives classified correlation traffic. The correlator
// implements it.
type ResponseSink interface {
	Resolve(resp protocol.Response) bool
	ResolveExecute(payload protocol.CommandResultPayload) bool
	AbortEpoch(maxEpoch uint64, cause error)
}

// Config holds the session timers and the handshake announcement.
type Config struct {
	ProbeInterval   time.Duration
	LivenessTimeout time.Duration
	Hello           protocol.Hello
}

// Session tracks the current peer connection. At most one connection is
// live; a second peer connecting replaces it (last-writer-wins) and every
// request pending against the old connection fails with a reset.
type Session struct {
	cfg    Config
	logs   *logstore.Store
	logger *slog.Logger

	mu            sync.Mutex
	conn          Conn
	connected     bool
	lastPong      time.Time
	establishedAt time.Time
	epoch         uint64
	probeStop     chan struct{}

	// cached peer state, replaced wholesale on every push
	state           json.RawMessage
	stateReceivedAt time.Time

	writeMu sync.Mutex

	sink        ResponseSink
	observersMu sync.Mutex
	observers   []func()

	warnLimit *rate.Limiter
	metrics   *Metrics
}

// Option configures the session.
type Option func(*Session)

// WithMetrics enables prometheus metrics for the session.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// New creates a session. Bind must be called before the first connection
// attaches.
func New(cfg Config, logs *logstore.Store, logger *slog.Logger, opts ...Option) *Session {
	s := &Session{
		cfg:    cfg,
		logs:   logs,
		logger: logger,
		// Protocol-violation warnings are throttled so a misbehaving peer
		// cannot flood the engine's own logs.
		warnLimit: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bind wires the correlation sink. Separate from New because the
// correlator needs the session as its sender.
func (s *Session) Bind(sink ResponseSink) {
	s.sink = sink
}

// OnConnect registers an observer invoked synchronously after each new
// connection completes its handshake. A panicking observer does not
// prevent the others from running.
func (s *Session) OnConnect(fn func()) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, fn)
}

// Attach replaces any existing connection with conn. Requests pending
// against the replaced connection fail with a session reset; buffered
// commands are untouched - the connect notification flushes them.
func (s *Session) Attach(conn Conn) {
	s.mu.Lock()
	oldConn := s.conn
	oldEpoch := s.epoch
	oldProbeStop := s.probeStop

	s.epoch++
	epoch := s.epoch
	s.conn = conn
	s.connected = true
	now := time.Now()
	s.lastPong = now
	s.establishedAt = now
	s.probeStop = make(chan struct{})
	probeStop := s.probeStop
	s.mu.Unlock()

	if oldProbeStop != nil {
		close(oldProbeStop)
	}
	if oldConn != nil {
		_ = oldConn.Close()
		s.logger.Info("peer connection replaced", "old_epoch", oldEpoch, "epoch", epoch)
	} else {
		s.logger.Info("peer connected", "epoch", epoch)
	}
	if s.metrics != nil {
		s.metrics.recordConnect(oldConn != nil)
		s.metrics.recordLiveness(true)
	}

	// Pending work from the replaced session must fail as reset, never
	// resolve against the new peer.
	if oldConn != nil && s.sink != nil {
		s.sink.AbortEpoch(oldEpoch, errors.ErrSessionReset)
	}

	s.sendHello()

	go s.probeLoop(epoch, probeStop)
	go s.readLoop(epoch, conn)

	s.notifyObservers()
}

// sendHello announces the handshake on a fresh connection.
func (s *Session) sendHello() {
	msg, err := protocol.New(protocol.TypeHello, s.cfg.Hello)
	if err != nil {
		s.logger.Error("encode hello", "error", err)
		return
	}
	if err := s.Send(msg); err != nil {
		s.logger.Warn("handshake send failed", "error", err)
	}
}

// notifyObservers runs connect observers synchronously, isolating panics.
func (s *Session) notifyObservers() {
	s.observersMu.Lock()
	observers := make([]func(), len(s.observers))
	copy(observers, s.observers)
	s.observersMu.Unlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("connect observer panicked", "panic", r)
				}
			}()
			fn()
		}()
	}
}

// readLoop consumes inbound frames until the connection drops.
func (s *Session) readLoop(epoch uint64, conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(epoch, err)
			return
		}
		s.HandleMessage(raw)
	}
}

// handleDisconnect marks the session not connected. Pending work is left
// to its deadlines so a quick reconnect within the window can still
// succeed.
func (s *Session) handleDisconnect(epoch uint64, cause error) {
	s.mu.Lock()
	if s.epoch != epoch {
		// A newer connection already replaced this one.
		s.mu.Unlock()
		return
	}
	s.connected = false
	probeStop := s.probeStop
	s.probeStop = nil
	s.mu.Unlock()

	if probeStop != nil {
		close(probeStop)
	}
	s.logger.Info("peer disconnected", "epoch", epoch, "cause", cause)
	if s.metrics != nil {
		s.metrics.recordDisconnect()
		s.metrics.recordLiveness(false)
	}
}

// probeLoop emits liveness probes at a fixed interval until the connection
// it belongs to is replaced or dropped.
func (s *Session) probeLoop(epoch uint64, stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.isCurrent(epoch) {
				return
			}
			msg, err := protocol.New(protocol.TypePing, nil)
			if err != nil {
				continue
			}
			if err := s.Send(msg); err != nil {
				s.logger.Debug("liveness probe failed", "epoch", epoch, "error", err)
			}
			if s.metrics != nil {
				s.metrics.recordProbe()
			}
		}
	}
}

// isCurrent reports whether the probe loop's connection is still the one
// attached. Deliberately not gated on the connected flag: after a write
// failure the probes keep going, and the peer's pong is what restores the
// flag. A genuinely dead connection ends the loop through its probeStop.
func (s *Session) isCurrent(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch && s.conn != nil
}

// Usable reports whether the peer is usably connected: a transport is
// attached, it has not errored, and the last liveness reply is fresh. The
// composite check is deliberate - a socket can look open while the editor
// process has hung, and only the liveness timeout catches that.
func (s *Session) Usable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.connected &&
		time.Since(s.lastPong) < s.cfg.LivenessTimeout
}

// Epoch returns the current session generation. Implements
// correlator.Sender.
func (s *Session) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Send serializes msg to the wire form and writes it. A write failure
// flips the liveness state immediately - it is a stronger signal than a
// stale probe timestamp - and is returned for logging, but callers of the
// correlator never see it directly; they experience a later timeout.
func (s *Session) Send(msg protocol.Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	// An attached transport is enough to attempt the write even while the
	// connected flag is down: liveness probes must keep flowing after a
	// transient write failure so the peer's pong can restore the session.
	if conn == nil {
		return errors.WrapUnavailable(
			errors.ErrPeerUnavailable, "session", "Send", "write "+msg.Type)
	}

	s.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, raw)
	s.writeMu.Unlock()

	if err != nil {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.recordSendFailure()
			s.metrics.recordLiveness(false)
		}
		s.logger.Warn("send failed, marking peer disconnected", "type", msg.Type, "error", err)
		return errors.WrapUnavailable(errors.ErrSendFailed, "session", "Send", "write "+msg.Type)
	}

	if s.metrics != nil {
		s.metrics.recordSent(msg.Type)
	}
	return nil
}

// EstablishedAt returns when the current connection attached.
func (s *Session) EstablishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.establishedAt
}

// Close tears down the current connection, if any.
func (s *Session) Close() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	probeStop := s.probeStop
	s.probeStop = nil
	s.mu.Unlock()

	if probeStop != nil {
		close(probeStop)
	}
	if conn != nil {
		_ = conn.Close()
	}
}
