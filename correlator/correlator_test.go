package correlator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/editorbridge/errors"
	"github.com/c360/editorbridge/protocol"
)

// fakeSender records sent messages and lets tests control the epoch and
// inject send failures.
type fakeSender struct {
	mu      sync.Mutex
	sent    []protocol.Message
	epoch   uint64
	sendErr error
}

func (f *fakeSender) Send(msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) Epoch() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch
}

func (f *fakeSender) lastRequestID(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	var data map[string]any
	require.NoError(t, json.Unmarshal(f.sent[len(f.sent)-1].Data, &data))
	id, _ := data["requestId"].(string)
	require.NotEmpty(t, id)
	return id
}

func newCorrelator(sender *fakeSender) *Correlator {
	return New(sender, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestIssueResolvesWithResponsePayload(t *testing.T) {
	sender := &fakeSender{}
	c := newCorrelator(sender)

	call, err := c.Start("getSceneInfo", map[string]any{"depth": 1}, time.Second)
	require.NoError(t, err)

	id := sender.lastRequestID(t)
	ok := c.Resolve(protocol.Response{RequestID: id, Result: json.RawMessage(`{"objects":7}`)})
	assert.True(t, ok)

	result, err := call.Await(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"objects":7}`, string(result))
	assert.Equal(t, 0, c.Pending())
}

func TestIssueTimesOutAndLateResponseIsNoOp(t *testing.T) {
	sender := &fakeSender{}
	c := newCorrelator(sender)

	call, err := c.Start("getSceneInfo", nil, 30*time.Millisecond)
	require.NoError(t, err)
	id := sender.lastRequestID(t)

	_, err = call.Await(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.Contains(t, err.Error(), "getSceneInfo")

	// A late response for the removed id must be a clean no-op.
	ok := c.Resolve(protocol.Response{RequestID: id, Result: json.RawMessage(`{}`)})
	assert.False(t, ok)
	assert.Equal(t, 0, c.Pending())
}

func TestResponseAndTimeoutRaceResolvesExactlyOnce(t *testing.T) {
	sender := &fakeSender{}
	c := newCorrelator(sender)

	for i := 0; i < 20; i++ {
		call, err := c.Start("race", nil, 5*time.Millisecond)
		require.NoError(t, err)
		id := sender.lastRequestID(t)

		go c.Resolve(protocol.Response{RequestID: id, Result: json.RawMessage(`"won"`)})

		result, err := call.Await(context.Background())
		if err != nil {
			assert.True(t, errors.IsTimeout(err))
		} else {
			assert.Equal(t, `"won"`, string(result))
		}
	}
	assert.Equal(t, 0, c.Pending())
}

func TestSendFailureSurfacesAsTimeout(t *testing.T) {
	sender := &fakeSender{sendErr: errors.ErrSendFailed}
	c := newCorrelator(sender)

	_, err := c.Issue(context.Background(), "ping", nil, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
}

func TestAbortEpochFailsOldRequestsOnly(t *testing.T) {
	sender := &fakeSender{epoch: 1}
	c := newCorrelator(sender)

	oldCall, err := c.Start("oldOp", nil, time.Second)
	require.NoError(t, err)

	sender.mu.Lock()
	sender.epoch = 2
	sender.mu.Unlock()

	newCall, err := c.Start("newOp", nil, time.Second)
	require.NoError(t, err)
	newID := sender.lastRequestID(t)

	c.AbortEpoch(1, errors.ErrSessionReset)

	_, err = oldCall.Await(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsReset(err), "old request must fail with reset, got %v", err)
	assert.False(t, errors.IsTimeout(err))

	// Request issued under the new epoch survives and resolves normally.
	require.True(t, c.Resolve(protocol.Response{RequestID: newID, Result: json.RawMessage(`1`)}))
	result, err := newCall.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `1`, string(result))
}

func TestPeerErrorResponseFailsRequest(t *testing.T) {
	sender := &fakeSender{}
	c := newCorrelator(sender)

	call, err := c.Start("modifyObject", nil, time.Second)
	require.NoError(t, err)
	id := sender.lastRequestID(t)

	require.True(t, c.Resolve(protocol.Response{RequestID: id, Error: "object not found"}))
	_, err = call.Await(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object not found")
}

func TestAwaitContextCancellation(t *testing.T) {
	sender := &fakeSender{}
	c := newCorrelator(sender)

	call, err := c.Start("slowOp", nil, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = call.Await(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Pending())
}

func TestShutdownFailsAllPending(t *testing.T) {
	sender := &fakeSender{}
	c := newCorrelator(sender)

	first, err := c.Start("a", nil, time.Minute)
	require.NoError(t, err)
	second, err := c.Start("b", nil, time.Minute)
	require.NoError(t, err)

	c.Shutdown()

	for _, call := range []*Call{first, second} {
		_, err := call.Await(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrShuttingDown)
	}
}

func TestExecuteSingleSlot(t *testing.T) {
	sender := &fakeSender{}
	c := newCorrelator(sender)

	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err := c.Execute(context.Background(), "return 42", time.Second)
		assert.NoError(t, err)
		assert.Equal(t, `42`, string(result))
	}()

	require.Eventually(t, c.ExecutionBusy, time.Second, 5*time.Millisecond)

	// A second concurrent execution must be rejected, not overwrite the
	// first caller's continuation.
	_, err := c.Execute(context.Background(), "return 0", time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExecutionBusy)

	require.True(t, c.ResolveExecute(protocol.CommandResultPayload{Result: json.RawMessage(`42`)}))
	<-done

	// Slot is free again.
	assert.False(t, c.ExecutionBusy())
	assert.False(t, c.ResolveExecute(protocol.CommandResultPayload{Result: json.RawMessage(`0`)}))
}

func TestExecuteTimeout(t *testing.T) {
	sender := &fakeSender{}
	c := newCorrelator(sender)

	_, err := c.Execute(context.Background(), "while true do end", 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.False(t, c.ExecutionBusy())
}
