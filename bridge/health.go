package bridge

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/c360/editorbridge/health"
)

// Health reports the engine's aggregated health. A missing peer degrades
// the engine rather than failing it; the whole point of the bridge is to
// stay up while the peer restarts.
func (b *Bridge) Health() health.Status {
	var subs []health.Status

	if b.sess.Usable() {
		sessStatus := health.NewHealthy("session", "peer connected")
		sessStatus.Metrics = &health.Metrics{
			Uptime:       time.Since(b.sess.EstablishedAt()),
			LastActivity: b.sess.EstablishedAt(),
		}
		subs = append(subs, sessStatus)
	} else {
		subs = append(subs, health.NewDegraded("session", "peer absent or unresponsive"))
	}

	corrStatus := health.NewHealthy("correlator", "resolving requests")
	corrStatus.Metrics = &health.Metrics{PendingRequests: b.corr.Pending()}
	subs = append(subs, corrStatus)

	queueStatus := health.NewHealthy("admission", "admitting commands")
	queueStatus.Metrics = &health.Metrics{QueueDepth: b.queue.Depth()}
	subs = append(subs, queueStatus)

	logStatus := health.NewHealthy("logstore", "buffering peer logs")
	logStatus.Metrics = &health.Metrics{BufferedLogs: b.logs.Size()}
	subs = append(subs, logStatus)

	status := health.Aggregate("engine", subs)

	b.mu.Lock()
	startedAt := b.startedAt
	b.mu.Unlock()
	if !startedAt.IsZero() {
		status.Metrics = &health.Metrics{Uptime: time.Since(startedAt)}
	}
	return status
}

// healthHandler serves the aggregated status as JSON. Degraded still
// answers 200: the engine itself is serving; only unhealthy returns 503.
func (b *Bridge) healthHandler(w http.ResponseWriter, r *http.Request) {
	b.registry.Metrics.RecordPeerConnected(b.sess.Usable())

	status := b.Health()

	w.Header().Set("Content-Type", "application/json")
	if status.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		b.logger.Warn("encode health response", "error", err)
	}
}
