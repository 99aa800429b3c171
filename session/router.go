package session

import (
	"encoding/json"
	"time"

	"github.com/c360/editorbridge/logstore"
	"github.com/c360/editorbridge/protocol"
)

// HandleMessage classifies one inbound frame and dispatches it. Malformed
// or unknown frames are dropped with a throttled warning; a bad frame
// never tears the connection down.
func (s *Session) HandleMessage(raw []byte) {
	msg, err := protocol.Parse(raw)
	if err != nil {
		s.warn("dropping malformed message", "error", err)
		if s.metrics != nil {
			s.metrics.recordDropped("malformed")
		}
		return
	}

	if s.metrics != nil {
		s.metrics.recordReceived(msg.Type)
	}

	switch msg.Type {
	case protocol.TypePong:
		s.handlePong()

	case protocol.TypeLog:
		s.handleLog(msg.Data)

	case protocol.TypeEditorState:
		s.handleState(msg.Data)

	case protocol.TypeCommandResult:
		var payload protocol.CommandResultPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			s.warn("dropping malformed commandResult", "error", err)
			if s.metrics != nil {
				s.metrics.recordDropped("malformed")
			}
			return
		}
		s.sink.ResolveExecute(payload)

	default:
		if resp, ok := protocol.DecodeResponse(msg); ok {
			s.sink.Resolve(resp)
			return
		}
		s.warn("dropping message of unknown type", "type", msg.Type)
		if s.metrics != nil {
			s.metrics.recordDropped("unknown_type")
		}
	}
}

// handlePong refreshes the liveness clock. A pong also restores the
// connected flag: a transient write failure flips it, and a peer that is
// still answering probes on the same transport must count as usable again.
func (s *Session) handlePong() {
	s.mu.Lock()
	s.lastPong = time.Now()
	restored := false
	if s.conn != nil && !s.connected {
		s.connected = true
		restored = true
	}
	s.mu.Unlock()

	if restored {
		s.logger.Info("peer liveness restored")
		if s.metrics != nil {
			s.metrics.recordLiveness(true)
		}
	}
}

// handleLog appends a peer console line to the log store. Fields the peer
// omitted get defaults in the store.
func (s *Session) handleLog(data json.RawMessage) {
	var payload protocol.LogPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.warn("dropping malformed log message", "error", err)
		if s.metrics != nil {
			s.metrics.recordDropped("malformed")
		}
		return
	}
	// An unparseable peer timestamp falls back to arrival time, which the
	// store stamps on zero.
	var ts time.Time
	if payload.Timestamp != "" {
		ts, _ = time.Parse(time.RFC3339, payload.Timestamp)
	}
	s.logs.Append(logstore.Entry{
		Message:   payload.Message,
		Stack:     payload.Stack,
		Level:     logstore.Level(payload.Level),
		Timestamp: ts,
	})
}

// handleState replaces the cached peer state wholesale.
func (s *Session) handleState(data json.RawMessage) {
	s.mu.Lock()
	s.state = data
	s.stateReceivedAt = time.Now()
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.recordStateUpdate()
	}
}

// State returns the most recent peer-pushed state and when it arrived. The
// raw message is nil until the peer has pushed at least once.
func (s *Session) State() (json.RawMessage, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.stateReceivedAt
}

// warn logs through the throttle so a misbehaving peer cannot flood us.
func (s *Session) warn(msg string, args ...any) {
	if s.warnLimit.Allow() {
		s.logger.Warn(msg, args...)
	}
}
