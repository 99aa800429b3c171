// Package correlator turns fire-and-forget sends into suspend-until-response
// calls. It owns the pending-request table; entries are removed exactly once,
// by whichever of response, timeout, reset, or cancellation gets there first.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/editorbridge/errors"
	"github.com/c360/editorbridge/protocol"
)

// Sender is the outbound half of the connection session. Epoch identifies
// the session generation a request was issued against so that requests
// pending when the peer is replaced fail with a reset, never resolve
// against the new peer.
type Sender interface {
	Send(msg protocol.Message) error
	Epoch() uint64
}

// outcome is the single resolution of a pending request.
type outcome struct {
	result json.RawMessage
	err    error
}

// pendingRequest tracks one in-flight correlated request. Removal from the
// pending table is the atomic gate: the removal paths (response, timeout,
// reset, cancel) are mutually exclusive, first one wins.
type pendingRequest struct {
	id        string
	operation string
	epoch     uint64
	createdAt time.Time
	timer     *time.Timer
	done      chan outcome // buffered, exactly one send
}

// Correlator assigns identifiers to outbound requests and matches inbound
// responses back to the waiting caller.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	exec    *pendingRequest // legacy single-slot execution, no request id on the wire

	sender         Sender
	logger         *slog.Logger
	metrics        *Metrics
	defaultTimeout time.Duration
}

// Option configures the correlator.
type Option func(*Correlator)

// WithMetrics enables prometheus metrics for the correlator.
func WithMetrics(m *Metrics) Option {
	return func(c *Correlator) { c.metrics = m }
}

// WithDefaultTimeout sets the deadline used when Issue is called with a
// non-positive timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Correlator) { c.defaultTimeout = d }
}

// New creates a correlator sending through the given sender.
func New(sender Sender, logger *slog.Logger, opts ...Option) *Correlator {
	c := &Correlator{
		pending:        make(map[string]*pendingRequest),
		sender:         sender,
		logger:         logger,
		defaultTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call is a handle to an in-flight request. Await blocks until resolution.
type Call struct {
	c   *Correlator
	req *pendingRequest
}

// Start registers a pending request, sends the correlated envelope, and
// returns a handle the caller can await. The send happens synchronously so
// batch dispatch preserves enqueue order; a send failure is logged and the
// request stays pending (the caller experiences it as a later timeout,
// keeping the API uniform).
func (c *Correlator) Start(operation string, payload map[string]any, timeout time.Duration) (*Call, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	req := &pendingRequest{
		id:        uuid.NewString(),
		operation: operation,
		epoch:     c.sender.Epoch(),
		createdAt: time.Now(),
		done:      make(chan outcome, 1),
	}

	msg, err := protocol.NewRequest(operation, req.id, payload)
	if err != nil {
		return nil, errors.WrapProtocol(err, "correlator", "Start", "encode request")
	}

	c.mu.Lock()
	c.pending[req.id] = req
	req.timer = time.AfterFunc(timeout, func() { c.expire(req.id) })
	pendingCount := len(c.pending)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.recordStart(operation, pendingCount)
	}

	if err := c.sender.Send(msg); err != nil {
		// The session has already flipped its liveness state; the pending
		// entry stays so the deadline produces a uniform timeout error.
		c.logger.Warn("request send failed, awaiting timeout",
			"operation", operation, "request_id", req.id, "error", err)
	}

	return &Call{c: c, req: req}, nil
}

// Await blocks until the request resolves. Context cancellation is a third
// race participant: it removes the table entry like a timeout would, and
// loses cleanly if a response got there first.
func (call *Call) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case out := <-call.req.done:
		return out.result, out.err
	case <-ctx.Done():
		if req := call.c.take(call.req.id); req != nil {
			req.deliver(outcome{err: errors.Wrap(ctx.Err(), "correlator", "Await", "wait for response")})
		}
		out := <-call.req.done
		return out.result, out.err
	}
}

// Issue is Start followed by Await.
func (c *Correlator) Issue(ctx context.Context, operation string, payload map[string]any,
	timeout time.Duration) (json.RawMessage, error) {
	call, err := c.Start(operation, payload, timeout)
	if err != nil {
		return nil, err
	}
	return call.Await(ctx)
}

// Resolve matches an inbound response to its pending request. Returns false
// when no request with that id is outstanding: a late response after a
// timeout, reset, or double delivery. That is a no-op by design.
func (c *Correlator) Resolve(resp protocol.Response) bool {
	req := c.take(resp.RequestID)
	if req == nil {
		if c.metrics != nil {
			c.metrics.recordLate()
		}
		c.logger.Debug("dropping response for unknown request", "request_id", resp.RequestID)
		return false
	}

	if c.metrics != nil {
		c.metrics.recordResolve(req.operation, resp.Error == "", time.Since(req.createdAt))
	}

	if resp.Error != "" {
		req.deliver(outcome{err: errors.WrapProtocol(
			fmt.Errorf("peer reported: %s", resp.Error),
			"correlator", req.operation, "execute operation")})
		return true
	}
	req.deliver(outcome{result: resp.Result})
	return true
}

// expire fails a request whose deadline elapsed. A no-op if a response won
// the race.
func (c *Correlator) expire(id string) {
	req := c.take(id)
	if req == nil {
		return
	}
	elapsed := time.Since(req.createdAt)
	if c.metrics != nil {
		c.metrics.recordTimeout(req.operation)
	}
	req.deliver(outcome{err: errors.WrapTimeout(
		errors.ErrRequestTimeout, "correlator", req.operation, elapsed)})
}

// AbortEpoch fails every pending request issued under an epoch at or below
// maxEpoch. The session calls this when a new peer replaces the old one;
// requests already issued against the new session survive.
func (c *Correlator) AbortEpoch(maxEpoch uint64, cause error) {
	c.mu.Lock()
	var victims []*pendingRequest
	for id, req := range c.pending {
		if req.epoch <= maxEpoch {
			delete(c.pending, id)
			req.timer.Stop()
			victims = append(victims, req)
		}
	}
	if c.exec != nil && c.exec.epoch <= maxEpoch {
		victims = append(victims, c.exec)
		c.exec.timer.Stop()
		c.exec = nil
	}
	c.mu.Unlock()

	for _, req := range victims {
		if c.metrics != nil {
			c.metrics.recordReset(req.operation)
		}
		req.deliver(outcome{err: errors.WrapReset(cause, "correlator", req.operation, "session replaced")})
	}
}

// Shutdown fails every outstanding request so no caller is left suspended.
func (c *Correlator) Shutdown() {
	c.mu.Lock()
	var victims []*pendingRequest
	for id, req := range c.pending {
		delete(c.pending, id)
		req.timer.Stop()
		victims = append(victims, req)
	}
	if c.exec != nil {
		c.exec.timer.Stop()
		victims = append(victims, c.exec)
		c.exec = nil
	}
	c.mu.Unlock()

	for _, req := range victims {
		req.deliver(outcome{err: errors.WrapUnavailable(
			errors.ErrShuttingDown, "correlator", req.operation, "resolve pending request")})
	}
}

// Pending returns the number of outstanding correlated requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// take removes and returns the pending request with the given id, or nil.
// This is the exactly-once gate shared by every resolution path.
func (c *Correlator) take(id string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	req.timer.Stop()
	return req
}

// deliver sends the outcome without blocking; the channel is buffered and
// written at most once because every path goes through a removal gate.
func (req *pendingRequest) deliver(out outcome) {
	select {
	case req.done <- out:
	default:
	}
}
