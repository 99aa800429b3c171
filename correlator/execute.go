package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/editorbridge/errors"
	"github.com/c360/editorbridge/protocol"
)

// Execute issues a legacy fire-and-forget execution request. The wire form
// carries no request id; the peer answers with a commandResult message, so
// at most one execution may be outstanding. A second concurrent call is
// rejected with a busy error - overwriting the first caller's continuation
// would resolve the wrong caller.
func (c *Correlator) Execute(ctx context.Context, code string, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	req := &pendingRequest{
		operation: protocol.TypeExecuteCommand,
		epoch:     c.sender.Epoch(),
		createdAt: time.Now(),
		done:      make(chan outcome, 1),
	}

	c.mu.Lock()
	if c.exec != nil {
		c.mu.Unlock()
		return nil, errors.WrapUnavailable(
			errors.ErrExecutionBusy, "correlator", "Execute", "claim execution slot")
	}
	c.exec = req
	req.timer = time.AfterFunc(timeout, func() { c.expireExec(req) })
	c.mu.Unlock()

	msg, err := protocol.New(protocol.TypeExecuteCommand, protocol.ExecutePayload{Code: code})
	if err != nil {
		c.releaseExec(req)
		return nil, errors.WrapProtocol(err, "correlator", "Execute", "encode request")
	}
	if err := c.sender.Send(msg); err != nil {
		c.logger.Warn("execute send failed, awaiting timeout", "error", err)
	}

	select {
	case out := <-req.done:
		return out.result, out.err
	case <-ctx.Done():
		if c.releaseExec(req) {
			req.deliver(outcome{err: errors.Wrap(ctx.Err(), "correlator", "Execute", "wait for result")})
		}
		out := <-req.done
		return out.result, out.err
	}
}

// ResolveExecute completes the outstanding execution slot with the peer's
// commandResult payload. A result with nothing outstanding is a no-op.
func (c *Correlator) ResolveExecute(payload protocol.CommandResultPayload) bool {
	c.mu.Lock()
	req := c.exec
	if req != nil {
		c.exec = nil
		req.timer.Stop()
	}
	c.mu.Unlock()

	if req == nil {
		if c.metrics != nil {
			c.metrics.recordLate()
		}
		c.logger.Debug("dropping commandResult with no outstanding execution")
		return false
	}

	if c.metrics != nil {
		c.metrics.recordResolve(req.operation, payload.Error == "", time.Since(req.createdAt))
	}

	if payload.Error != "" {
		req.deliver(outcome{err: errors.WrapProtocol(
			fmt.Errorf("peer reported: %s", payload.Error),
			"correlator", req.operation, "execute code")})
		return true
	}
	req.deliver(outcome{result: payload.Result})
	return true
}

// ExecutionBusy reports whether the legacy execution slot is occupied.
func (c *Correlator) ExecutionBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exec != nil
}

// expireExec fails the execution slot on deadline. A no-op if a result won.
func (c *Correlator) expireExec(req *pendingRequest) {
	if !c.releaseExec(req) {
		return
	}
	if c.metrics != nil {
		c.metrics.recordTimeout(req.operation)
	}
	req.deliver(outcome{err: errors.WrapTimeout(
		errors.ErrRequestTimeout, "correlator", req.operation, time.Since(req.createdAt))})
}

// releaseExec clears the slot if it still holds req. Returns true when this
// caller won the removal race.
func (c *Correlator) releaseExec(req *pendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exec != req {
		return false
	}
	c.exec = nil
	req.timer.Stop()
	return true
}
