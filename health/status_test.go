package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPredicates(t *testing.T) {
	assert.True(t, NewHealthy("session", "ok").IsHealthy())
	assert.True(t, NewUnhealthy("session", "peer gone").IsUnhealthy())
	assert.True(t, NewDegraded("admission", "queue filling").IsDegraded())
	assert.False(t, NewDegraded("admission", "queue filling").IsHealthy())
}

func TestAggregateRules(t *testing.T) {
	healthy := NewHealthy("a", "ok")
	degraded := NewDegraded("b", "slow")
	unhealthy := NewUnhealthy("c", "down")

	assert.True(t, Aggregate("engine", []Status{healthy, healthy}).IsHealthy())
	assert.True(t, Aggregate("engine", []Status{healthy, degraded}).IsDegraded())
	assert.True(t, Aggregate("engine", []Status{degraded, unhealthy}).IsUnhealthy())
	assert.True(t, Aggregate("engine", nil).IsHealthy())

	agg := Aggregate("engine", []Status{healthy, degraded})
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "a", agg.SubStatuses[0].Component)
}

func TestWithSubStatusDoesNotShareBackingArray(t *testing.T) {
	base := NewHealthy("engine", "ok")
	first := base.WithSubStatus(NewHealthy("a", "ok"))
	second := first.WithSubStatus(NewHealthy("b", "ok"))
	third := first.WithSubStatus(NewHealthy("c", "ok"))

	require.Len(t, second.SubStatuses, 2)
	require.Len(t, third.SubStatuses, 2)
	assert.Equal(t, "b", second.SubStatuses[1].Component)
	assert.Equal(t, "c", third.SubStatuses[1].Component)
}

func TestSanitizeMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
		absent   string
	}{
		{"websocket url", "dial ws://127.0.0.1:8787/bridge failed", "[URL]", "8787"},
		{"http url", "fetch https://internal.example.com/admin failed", "[URL]", "example.com"},
		{"unix path", "open /etc/editorbridge/config.yaml failed", "[PATH]", "/etc"},
		{"ip and port", "connect 192.168.1.10:9090 refused", "[IP]", "192.168.1.10"},
		{"credential", "auth failed: token=abc123", "[REDACTED]", "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeMessage(tt.input)
			assert.Contains(t, got, tt.contains)
			assert.NotContains(t, got, tt.absent)
		})
	}
}

func TestConstructorsSanitizeMessages(t *testing.T) {
	s := NewUnhealthy("session", "dial ws://127.0.0.1:8787/bridge failed")
	assert.Contains(t, s.Message, "[URL]")
	assert.NotContains(t, s.Message, "8787")

	d := NewDegraded("config", "reload of /etc/editorbridge/config.yaml pending")
	assert.Contains(t, d.Message, "[PATH]")
	assert.NotContains(t, d.Message, "/etc")
}

func TestSanitizeMessageEmpty(t *testing.T) {
	assert.Equal(t, "", SanitizeMessage(""))
}
