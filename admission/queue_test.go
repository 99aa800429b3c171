package admission

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/editorbridge/correlator"
	"github.com/c360/editorbridge/errors"
	"github.com/c360/editorbridge/protocol"
)

type fakeGate struct {
	usable atomic.Bool
}

func (g *fakeGate) Usable() bool { return g.usable.Load() }

// fakeSender backs a real correlator so parked commands resolve through the
// genuine dispatch path.
type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (f *fakeSender) Send(msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) Epoch() uint64 { return 1 }

func (f *fakeSender) sentOps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, len(f.sent))
	for i, msg := range f.sent {
		ops[i] = msg.Type
	}
	return ops
}

func (f *fakeSender) requestID(t *testing.T, index int) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.sent), index)
	var data map[string]any
	require.NoError(t, json.Unmarshal(f.sent[index].Data, &data))
	id, _ := data["requestId"].(string)
	require.NotEmpty(t, id)
	return id
}

func newTestQueue(t *testing.T, gate Gate, bufferTimeout, sweepInterval time.Duration) (*Queue, *correlator.Correlator, *fakeSender) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &fakeSender{}
	corr := correlator.New(sender, logger)
	q := New(gate, corr, bufferTimeout, sweepInterval, logger)
	t.Cleanup(q.Close)
	return q, corr, sender
}

func TestSubmitDispatchesDirectlyWhenUsable(t *testing.T) {
	gate := &fakeGate{}
	gate.usable.Store(true)
	q, corr, sender := newTestQueue(t, gate, time.Minute, time.Minute)

	go func() {
		assert.Eventually(t, func() bool { return len(sender.sentOps()) == 1 }, time.Second, time.Millisecond)
		id := sender.requestID(t, 0)
		corr.Resolve(protocol.Response{RequestID: id, Result: json.RawMessage(`{"created":true}`)})
	}()

	result, err := q.Submit(context.Background(), "createObject", map[string]any{"name": "Cube"}, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"created":true}`, string(result))
	assert.Equal(t, 0, q.Depth())
}

func TestParkedCommandExpiresAtBufferingDeadline(t *testing.T) {
	gate := &fakeGate{} // never usable
	q, _, sender := newTestQueue(t, gate, 30*time.Millisecond, 10*time.Millisecond)

	start := time.Now()
	_, err := q.Submit(context.Background(), "createObject", nil, time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.ErrorIs(t, err, errors.ErrBufferTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// Nothing ever hit the wire.
	assert.Empty(t, sender.sentOps())
	assert.Equal(t, 0, q.Depth())
}

func TestConnectFlushDispatchesInArrivalOrder(t *testing.T) {
	gate := &fakeGate{}
	q, corr, sender := newTestQueue(t, gate, time.Minute, time.Hour)

	type submission struct {
		result json.RawMessage
		err    error
	}
	results := make([]chan submission, 3)
	ops := []string{"first", "second", "third"}
	for i, op := range ops {
		results[i] = make(chan submission, 1)
		go func(i int, op string) {
			result, err := q.Submit(context.Background(), op, nil, time.Second)
			results[i] <- submission{result, err}
		}(i, op)
		// Park one at a time so arrival order is deterministic.
		require.Eventually(t, func() bool { return q.Depth() == i+1 }, time.Second, time.Millisecond)
	}

	// Peer connects: the session notification flips the gate and flushes.
	gate.usable.Store(true)
	q.Flush()

	require.Equal(t, ops, sender.sentOps())

	for i := range ops {
		id := sender.requestID(t, i)
		require.True(t, corr.Resolve(protocol.Response{RequestID: id, Result: json.RawMessage(`"done"`)}))
		out := <-results[i]
		require.NoError(t, out.err)
		assert.Equal(t, `"done"`, string(out.result))
	}
	assert.Equal(t, 0, q.Depth())
}

func TestSweepFlushesWhenPeerBecomesUsable(t *testing.T) {
	gate := &fakeGate{}
	q, corr, sender := newTestQueue(t, gate, time.Minute, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := q.Submit(context.Background(), "getSceneInfo", nil, time.Second)
		done <- err
	}()
	require.Eventually(t, func() bool { return q.Depth() == 1 }, time.Second, time.Millisecond)

	// No explicit Flush call; the sweep picks it up.
	gate.usable.Store(true)
	require.Eventually(t, func() bool { return len(sender.sentOps()) == 1 }, time.Second, time.Millisecond)

	corr.Resolve(protocol.Response{RequestID: sender.requestID(t, 0), Result: json.RawMessage(`{}`)})
	require.NoError(t, <-done)
}

func TestSubmitContextCancellationAbandonsParkedCommand(t *testing.T) {
	gate := &fakeGate{}
	q, _, sender := newTestQueue(t, gate, time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Submit(ctx, "createObject", nil, time.Second)
		done <- err
	}()
	require.Eventually(t, func() bool { return q.Depth() == 1 }, time.Second, time.Millisecond)

	cancel()
	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, q.Depth())
	assert.Empty(t, sender.sentOps())
}

func TestCancelledCallerReleasedAfterFlushDispatch(t *testing.T) {
	gate := &fakeGate{}
	q, corr, sender := newTestQueue(t, gate, time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Submit(ctx, "createObject", nil, time.Minute)
		done <- err
	}()
	require.Eventually(t, func() bool { return q.Depth() == 1 }, time.Second, time.Millisecond)

	// The flush claims the command and puts it on the wire.
	gate.usable.Store(true)
	q.Flush()
	require.Eventually(t, func() bool { return len(sender.sentOps()) == 1 }, time.Second, time.Millisecond)

	// The caller gives up while the request is in flight. It must come
	// back promptly instead of waiting out the request timeout.
	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller still blocked on in-flight command")
	}

	// The in-flight request still resolves cleanly on its own.
	require.True(t, corr.Resolve(protocol.Response{
		RequestID: sender.requestID(t, 0), Result: json.RawMessage(`{}`)}))
}

func TestCloseFailsParkedCommands(t *testing.T) {
	gate := &fakeGate{}
	q, _, _ := newTestQueue(t, gate, time.Minute, time.Hour)

	done := make(chan error, 1)
	go func() {
		_, err := q.Submit(context.Background(), "createObject", nil, time.Second)
		done <- err
	}()
	require.Eventually(t, func() bool { return q.Depth() == 1 }, time.Second, time.Millisecond)

	q.Close()

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrShuttingDown)

	// Further submissions while the peer is absent are rejected outright.
	_, err = q.Submit(context.Background(), "createObject", nil, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}
