// Package admission buffers commands submitted while the peer is absent and
// dispatches them when it connects, so short editor restarts (domain reloads,
// play-mode transitions) are invisible to the calling client.
package admission

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/editorbridge/correlator"
	"github.com/c360/editorbridge/errors"
)

// Gate answers whether the peer is usably connected right now.
type Gate interface {
	Usable() bool
}

// Dispatcher issues correlated requests. The correlator implements it.
type Dispatcher interface {
	Start(operation string, payload map[string]any, timeout time.Duration) (*correlator.Call, error)
	Issue(ctx context.Context, operation string, payload map[string]any, timeout time.Duration) (json.RawMessage, error)
}

type outcome struct {
	result json.RawMessage
	err    error
}

// parkedCommand is one command waiting for the peer to come back.
type parkedCommand struct {
	operation  string
	args       map[string]any
	timeout    time.Duration // request timeout applied at dispatch
	deadline   time.Time     // parked past this fails with a buffer timeout
	enqueuedAt time.Time
	done       chan outcome // buffered, exactly one send
}

func (cmd *parkedCommand) deliver(out outcome) {
	select {
	case cmd.done <- out:
	default:
	}
}

// Queue admits commands for dispatch. With the peer usable, a command goes
// straight to the dispatcher; otherwise it parks until a connection
// arrives, its buffering deadline passes, or the queue shuts down.
type Queue struct {
	gate       Gate
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *Metrics

	bufferTimeout time.Duration
	sweepInterval time.Duration

	mu     sync.Mutex
	parked []*parkedCommand
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures the queue.
type Option func(*Queue)

// WithMetrics enables prometheus metrics for the queue.
func WithMetrics(m *Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// New creates a queue and starts its sweep loop. The sweep is a safety
// net; the expected dispatch path is the connect notification.
func New(gate Gate, dispatcher Dispatcher, bufferTimeout, sweepInterval time.Duration,
	logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		gate:          gate,
		dispatcher:    dispatcher,
		logger:        logger,
		bufferTimeout: bufferTimeout,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.run()
	return q
}

// Submit admits one command. It blocks until the command resolves: a
// response from the peer, a request or buffering timeout, a session reset,
// or shutdown. Cancelling ctx abandons a parked command cleanly.
func (q *Queue) Submit(ctx context.Context, operation string, args map[string]any,
	timeout time.Duration) (json.RawMessage, error) {
	if q.gate.Usable() {
		if q.metrics != nil {
			q.metrics.recordSubmit("direct")
		}
		return q.dispatcher.Issue(ctx, operation, args, timeout)
	}

	cmd := &parkedCommand{
		operation:  operation,
		args:       args,
		timeout:    timeout,
		deadline:   time.Now().Add(q.bufferTimeout),
		enqueuedAt: time.Now(),
		done:       make(chan outcome, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, errors.WrapUnavailable(
			errors.ErrShuttingDown, "admission", "Submit", "admit command")
	}
	q.parked = append(q.parked, cmd)
	depth := len(q.parked)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.recordSubmit("parked")
		q.metrics.recordDepth(depth)
	}
	q.logger.Debug("command parked awaiting peer",
		"operation", operation, "depth", depth, "deadline", cmd.deadline)

	select {
	case out := <-cmd.done:
		return out.result, out.err
	case <-ctx.Done():
		if q.remove(cmd) {
			return nil, errors.Wrap(ctx.Err(), "admission", "Submit", "wait for dispatch")
		}
		// Lost the race with a flush; the command is in flight. Take its
		// outcome if it is already in, otherwise release the cancelled
		// caller now and let the in-flight request resolve on its own.
		select {
		case out := <-cmd.done:
			return out.result, out.err
		default:
			return nil, errors.Wrap(ctx.Err(), "admission", "Submit", "wait for result")
		}
	}
}

// Flush dispatches every parked command in arrival order. The session
// calls this synchronously from its connect notification; the sweep also
// calls it when it finds the peer usable. Commands are removed from the
// queue before dispatch so no other flusher can double-send them.
func (q *Queue) Flush() {
	q.mu.Lock()
	batch := q.parked
	q.parked = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	q.logger.Info("flushing parked commands", "count", len(batch))
	if q.metrics != nil {
		q.metrics.recordDepth(0)
	}

	now := time.Now()
	for _, cmd := range batch {
		if now.After(cmd.deadline) {
			q.expireCommand(cmd)
			continue
		}
		if q.metrics != nil {
			q.metrics.recordFlush(time.Since(cmd.enqueuedAt))
		}
		// Start sends synchronously, so the batch hits the wire in
		// arrival order even though awaiting happens per command.
		call, err := q.dispatcher.Start(cmd.operation, cmd.args, cmd.timeout)
		if err != nil {
			cmd.deliver(outcome{err: err})
			continue
		}
		go func(cmd *parkedCommand, call *correlator.Call) {
			result, err := call.Await(context.Background())
			cmd.deliver(outcome{result: result, err: err})
		}(cmd, call)
	}
}

// run is the periodic sweep: expire overdue commands, and flush if a
// connect notification was somehow missed.
func (q *Queue) run() {
	ticker := time.NewTicker(q.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.expire()
			if q.gate.Usable() {
				q.Flush()
			}
		}
	}
}

// expire fails every parked command whose buffering deadline has passed.
// Expiry granularity is the sweep interval.
func (q *Queue) expire() {
	now := time.Now()

	q.mu.Lock()
	var overdue []*parkedCommand
	kept := q.parked[:0]
	for _, cmd := range q.parked {
		if now.After(cmd.deadline) {
			overdue = append(overdue, cmd)
		} else {
			kept = append(kept, cmd)
		}
	}
	q.parked = kept
	depth := len(q.parked)
	q.mu.Unlock()

	if len(overdue) == 0 {
		return
	}
	if q.metrics != nil {
		q.metrics.recordDepth(depth)
	}
	for _, cmd := range overdue {
		q.expireCommand(cmd)
	}
}

func (q *Queue) expireCommand(cmd *parkedCommand) {
	if q.metrics != nil {
		q.metrics.recordExpired()
	}
	q.logger.Warn("parked command expired before peer connected",
		"operation", cmd.operation, "waited", time.Since(cmd.enqueuedAt))
	cmd.deliver(outcome{err: errors.WrapTimeout(
		errors.ErrBufferTimeout, "admission", cmd.operation, time.Since(cmd.enqueuedAt))})
}

// remove takes cmd out of the queue. Returns false when a flush already
// claimed it.
func (q *Queue) remove(cmd *parkedCommand) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, parked := range q.parked {
		if parked == cmd {
			q.parked = append(q.parked[:i], q.parked[i+1:]...)
			return true
		}
	}
	return false
}

// Depth returns the number of parked commands.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.parked)
}

// Close stops the sweep and fails every parked command so no caller is
// left suspended.
func (q *Queue) Close() {
	q.stopOnce.Do(func() { close(q.stop) })

	q.mu.Lock()
	q.closed = true
	batch := q.parked
	q.parked = nil
	q.mu.Unlock()

	for _, cmd := range batch {
		cmd.deliver(outcome{err: errors.WrapUnavailable(
			errors.ErrShuttingDown, "admission", cmd.operation, "dispatch parked command")})
	}
}
