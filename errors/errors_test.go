package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindUnavailable, "unavailable"},
		{KindTimeout, "timeout"},
		{KindProtocol, "protocol"},
		{KindReset, "reset"},
		{KindFatal, "fatal"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestWrapFormat(t *testing.T) {
	base := fmt.Errorf("boom")
	err := Wrap(base, "session", "Send", "write message")
	require.Error(t, err)
	assert.Equal(t, "session.Send: write message failed: boom", err.Error())
	assert.ErrorIs(t, err, base)

	assert.Nil(t, Wrap(nil, "session", "Send", "write message"))
}

func TestWrapTimeoutCarriesOperationAndElapsed(t *testing.T) {
	err := WrapTimeout(ErrRequestTimeout, "correlator", "getSceneInfo", 1500*time.Millisecond)
	require.Error(t, err)

	var be *BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, KindTimeout, be.Kind)
	assert.Equal(t, "getSceneInfo", be.Operation)
	assert.Equal(t, 1500*time.Millisecond, be.Elapsed)
	assert.Contains(t, err.Error(), "getSceneInfo")
	assert.Contains(t, err.Error(), "1.5s")

	assert.True(t, IsTimeout(err))
	assert.False(t, IsReset(err))
}

func TestResetDistinctFromTimeout(t *testing.T) {
	reset := WrapReset(ErrSessionReset, "correlator", "Issue", "session replaced")
	timeout := WrapTimeout(ErrRequestTimeout, "correlator", "ping", time.Second)

	assert.True(t, IsReset(reset))
	assert.False(t, IsTimeout(reset))
	assert.True(t, IsTimeout(timeout))
	assert.False(t, IsReset(timeout))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"wrapped unavailable", WrapUnavailable(ErrPeerUnavailable, "admission", "Submit", "dispatch"), KindUnavailable},
		{"wrapped protocol", WrapProtocol(ErrUnknownType, "session", "HandleMessage", "classify"), KindProtocol},
		{"wrapped fatal", WrapFatal(fmt.Errorf("bind"), "bridge", "Start", "listen"), KindFatal},
		{"sentinel reset", ErrSessionReset, KindReset},
		{"sentinel buffer timeout", ErrBufferTimeout, KindTimeout},
		{"context deadline", context.DeadlineExceeded, KindTimeout},
		{"bind failure text", fmt.Errorf("listen tcp :8787: bind: address already in use"), KindFatal},
		{"unknown", fmt.Errorf("something else"), KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestUnwrapPreservesSentinel(t *testing.T) {
	err := WrapReset(ErrSessionReset, "correlator", "abort", "fail pending")
	assert.ErrorIs(t, err, ErrSessionReset)

	err = WrapUnavailable(ErrShuttingDown, "admission", "Close", "fail queued")
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.True(t, IsUnavailable(err))
}
