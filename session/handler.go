package session

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The peer runs on the same host; the engine binds loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades an HTTP request to a websocket and attaches it as the
// peer connection, replacing any existing one.
func (s *Session) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		s.logger.Debug("websocket upgraded", "remote", r.RemoteAddr)
		s.Attach(conn)
	}
}
