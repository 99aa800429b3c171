// Package editorbridge bridges a tool-calling client to a single editor
// process over a persistent websocket.
//
// The editor peer is intermittently available: domain reloads, play-mode
// transitions, and restarts drop the connection for seconds at a time. The
// engine's job is to make that flakiness invisible to the client.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            Bridge Engine            │  Lifecycle, HTTP server,
//	│   (ws endpoint, health, metrics)    │  public command API
//	└─────────────────────────────────────┘
//	           ↓ admits through
//	┌─────────────────────────────────────┐
//	│          Admission Queue            │  Parks commands while the
//	│    (buffer, flush, deadlines)       │  peer is absent
//	└─────────────────────────────────────┘
//	           ↓ dispatches via
//	┌─────────────────────────────────────┐
//	│           Correlator                │  Request ids, exactly-once
//	│  (pending table, timeouts, resets)  │  resolution
//	└─────────────────────────────────────┘
//	           ↓ sends through
//	┌─────────────────────────────────────┐
//	│            Session                  │  One live connection,
//	│ (handshake, liveness, classify)     │  epoch on replacement
//	└─────────────────────────────────────┘
//
// Inbound traffic the peer pushes on its own (console logs, state
// snapshots) is cached: logs land in a bounded FIFO the client can query
// with filters, state replaces the previous snapshot wholesale.
//
// Every suspended caller is guaranteed exactly one resolution: a peer
// response, a deadline timeout, a session reset, or shutdown - whichever
// wins the removal race.
package editorbridge
