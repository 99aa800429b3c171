// Package bridge assembles the engine: the websocket server the peer
// connects to, the correlator that matches responses to requests, the
// admission queue that rides out peer absences, and the peer log history.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/editorbridge/admission"
	"github.com/c360/editorbridge/config"
	"github.com/c360/editorbridge/correlator"
	"github.com/c360/editorbridge/errors"
	"github.com/c360/editorbridge/logstore"
	"github.com/c360/editorbridge/metric"
	"github.com/c360/editorbridge/protocol"
	"github.com/c360/editorbridge/session"
)

const (
	// EngineName identifies this engine in the handshake.
	EngineName = "editorbridge"
	// Version is announced to the peer in the handshake.
	Version = "1.0.0"
)

// Bridge is the engine. Lifecycle is Initialize, Start, Stop; the public
// command API is valid between Start and Stop.
type Bridge struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *metric.MetricsRegistry
	logs     *logstore.Store
	sess     *session.Session
	corr     *correlator.Correlator
	queue    *admission.Queue

	httpServer *http.Server
	listener   net.Listener
	group      *errgroup.Group

	mu          sync.Mutex
	initialized bool
	started     bool
	startedAt   time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates an engine from validated configuration.
func New(cfg *config.Config, logger *slog.Logger) *Bridge {
	return &Bridge{
		cfg:    cfg,
		logger: logger.With("component", "bridge"),
		stopCh: make(chan struct{}),
	}
}

// Initialize builds and wires the engine's components. No network activity
// happens until Start.
func (b *Bridge) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "bridge", "Initialize", "initialize engine")
	}

	b.registry = metric.NewMetricsRegistry()

	logs, err := logstore.New(b.cfg.Bridge.LogCapacity, b.registry)
	if err != nil {
		return errors.Wrap(err, "bridge", "Initialize", "create log store")
	}
	b.logs = logs

	sessMetrics, err := session.NewMetrics(b.registry)
	if err != nil {
		return errors.Wrap(err, "bridge", "Initialize", "register session metrics")
	}
	b.sess = session.New(session.Config{
		ProbeInterval:   b.cfg.Bridge.ProbeInterval(),
		LivenessTimeout: b.cfg.Bridge.LivenessTimeout(),
		Hello: protocol.Hello{
			Engine:           EngineName,
			Version:          Version,
			ProbeIntervalSec: b.cfg.Bridge.ProbeIntervalSec,
		},
	}, logs, b.logger.With("component", "session"), session.WithMetrics(sessMetrics))

	corrMetrics, err := correlator.NewMetrics(b.registry)
	if err != nil {
		return errors.Wrap(err, "bridge", "Initialize", "register correlator metrics")
	}
	b.corr = correlator.New(b.sess, b.logger.With("component", "correlator"),
		correlator.WithMetrics(corrMetrics),
		correlator.WithDefaultTimeout(b.cfg.Bridge.RequestTimeout()))
	b.sess.Bind(b.corr)

	queueMetrics, err := admission.NewMetrics(b.registry)
	if err != nil {
		return errors.Wrap(err, "bridge", "Initialize", "register admission metrics")
	}
	b.queue = admission.New(b.sess, b.corr,
		b.cfg.Bridge.BufferTimeout(), b.cfg.Bridge.SweepInterval(),
		b.logger.With("component", "admission"),
		admission.WithMetrics(queueMetrics))

	// The connect notification flushes parked commands synchronously, so
	// work buffered during an editor restart hits the wire before anything
	// submitted after the reconnect.
	b.sess.OnConnect(b.queue.Flush)

	b.initialized = true
	return nil
}

// Start binds the listener and serves the websocket, health, and metrics
// endpoints until ctx is cancelled or Stop is called. A bind failure is
// fatal and reported synchronously.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if !b.initialized {
		b.mu.Unlock()
		return errors.WrapFatal(errors.ErrNotStarted, "bridge", "Start", "start uninitialized engine")
	}
	if b.started {
		b.mu.Unlock()
		return errors.WrapFatal(errors.ErrAlreadyStarted, "bridge", "Start", "start engine")
	}

	addr := fmt.Sprintf(":%d", b.cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		b.mu.Unlock()
		return errors.WrapFatal(err, "bridge", "Start", "bind listener")
	}
	b.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(b.cfg.Server.Path, b.sess.Handler())
	mux.HandleFunc("/healthz", b.healthHandler)
	mux.Handle("/metrics", b.registry.Handler())

	b.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)
	b.group = group
	b.started = true
	b.startedAt = time.Now()
	b.mu.Unlock()

	group.Go(func() error {
		b.logger.Info("engine listening",
			"addr", listener.Addr().String(), "ws_path", b.cfg.Server.Path)
		if err := b.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			return errors.WrapFatal(err, "bridge", "Start", "serve http")
		}
		return nil
	})

	group.Go(func() error {
		select {
		case <-gctx.Done():
			b.shutdown(10 * time.Second)
		case <-b.stopCh:
			// Stop already ran the shutdown sequence.
		}
		return nil
	})

	return nil
}

// Wait blocks until the serving goroutines exit and returns their error.
func (b *Bridge) Wait() error {
	b.mu.Lock()
	group := b.group
	b.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop shuts the engine down: the HTTP server drains, the peer connection
// closes, and every suspended caller is failed rather than left hanging.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.shutdown(timeout)
	return b.Wait()
}

func (b *Bridge) shutdown(timeout time.Duration) {
	b.stopOnce.Do(func() {
		b.logger.Info("engine stopping")
		close(b.stopCh)

		// Fail suspended callers before tearing transports down so they
		// see shutdown errors, not connection noise.
		if b.queue != nil {
			b.queue.Close()
		}
		if b.corr != nil {
			b.corr.Shutdown()
		}
		if b.sess != nil {
			b.sess.Close()
		}

		if b.httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := b.httpServer.Shutdown(shutdownCtx); err != nil {
				b.logger.Warn("http server shutdown", "error", err)
			}
		}
		if b.logs != nil {
			_ = b.logs.Close()
		}

		b.mu.Lock()
		b.started = false
		b.mu.Unlock()
	})
}

// Addr returns the bound listener address, for clients discovering an
// ephemeral port.
func (b *Bridge) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Submit admits one named command for the peer. With the peer connected it
// dispatches immediately; with the peer absent it waits, up to the
// buffering deadline, for the peer to come back.
func (b *Bridge) Submit(ctx context.Context, operation string, args map[string]any) (json.RawMessage, error) {
	return b.queue.Submit(ctx, operation, args, b.cfg.Bridge.RequestTimeout())
}

// ExecuteCode runs a raw code snippet in the peer. This legacy path admits
// one execution at a time and requires the peer to be present.
func (b *Bridge) ExecuteCode(ctx context.Context, code string) (json.RawMessage, error) {
	if !b.sess.Usable() {
		return nil, errors.WrapUnavailable(
			errors.ErrPeerUnavailable, "bridge", "ExecuteCode", "dispatch code execution")
	}
	return b.corr.Execute(ctx, code, b.cfg.Bridge.RequestTimeout())
}

// State returns the most recent peer-pushed state and its receipt time.
// The state may be stale; callers decide whether staleness matters.
func (b *Bridge) State() (json.RawMessage, time.Time) {
	return b.sess.State()
}

// QueryLogs answers a filtered query over the peer log history, projected
// to the filter's requested fields.
func (b *Bridge) QueryLogs(f logstore.Filter) []map[string]any {
	return logstore.Project(b.logs.Query(f), f.Fields)
}

// Connected reports whether the peer is usably connected right now.
func (b *Bridge) Connected() bool {
	return b.sess.Usable()
}
