package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/wagoo/bridge/internal/errors"
	"github.com/wagoo/bridge/internal/netutil"
	"github.com/wagoo/bridge/internal/registry"
)

// createMux creates the HTTP mux with all endpoints. Control routes added
// through Handle are wrapped so they only answer loopback callers.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.mu.RLock()
	for pattern, h := range s.routes {
		mux.Handle(pattern, loopbackOnly(h))
		s.log.Debug().Str("route", pattern).Msg("control endpoint registered")
	}
	s.mu.RUnlock()

	return mux
}

// Handle registers a loopback-only control endpoint. It must be called
// before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mu.Lock()
	s.routes[pattern] = h
	s.mu.Unlock()
}

func loopbackOnly(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackRequest(r) {
			writeJSONError(w, http.StatusForbidden, "forbidden", "endpoint is only available from localhost")
			return
		}
		h.ServeHTTP(w, r)
	})
}

// isLoopbackRequest reports whether the request came from 127.0.0.0/8 or ::1.
// Unparseable addresses are treated as remote.
func isLoopbackRequest(r *http.Request) bool {
	ip := netutil.RemoteIP(r.RemoteAddr)
	return ip != nil && ip.IsLoopback()
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

// handleWebSocket admits a pairing connection. Policy rejections happen
// before the upgrade; capacity rejections happen after it so the client
// sees a 1008 close instead of an HTTP error.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	remote := ""
	if ip := netutil.RemoteIP(r.RemoteAddr); ip != nil {
		remote = ip.String()
	}

	if s.opts.LocalhostOnly && !isLoopbackRequest(r) {
		s.log.Warn().Str("code", apperrors.CodeServerNotLoopback).Str("remote", r.RemoteAddr).Msg("rejected non-loopback pairing connection")
		s.record(ConnectionEvent{RemoteIP: remote, Kind: EventRejected, Reason: "not loopback"})
		http.Error(w, "Forbidden: pairing is local-only", http.StatusForbidden)
		return
	}

	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	now := s.now()
	c := &Client{
		id:          uuid.NewString(),
		ip:          remote,
		connectedAt: now,
		conn:        conn,
		server:      s,
		send:        make(chan []byte, sendBufferSize),
		inbound:     make(chan connEvent, 16),
		quit:        make(chan struct{}),
		exited:      make(chan struct{}),
		counter:     newWindowCounter(s.opts.RateLimitWindow, s.opts.RateLimitMax, now),
	}

	entry := registry.Entry{ID: c.id, IP: remote, ConnectedSince: now}
	if !s.registry.TryAdd(entry, s.opts.MaxConnections) {
		s.log.Warn().Str("code", apperrors.CodeServerCapacity).Str("remote", remote).Int("max", s.opts.MaxConnections).Msg("rejected pairing connection: server full")
		s.record(ConnectionEvent{ConnectionID: c.id, RemoteIP: remote, Kind: EventRejected, Reason: "server full"})
		closeConn(conn, ClosePolicyViolation, "server full", s.opts.ConnectionTimeout)
		return
	}

	// The welcome is queued before the client becomes visible to
	// Broadcast so it is always the first frame.
	welcome, err := json.Marshal(NewConnectedMessage(c.id, s.opts.Version, now))
	if err == nil {
		c.send <- welcome
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.registry.Remove(c.id)
		closeConn(conn, CloseServerShutdown, "server shutdown", s.opts.ConnectionTimeout)
		return
	}
	s.clients[c.id] = c
	s.wg.Add(1)
	s.mu.Unlock()

	c.setState(StateOpen)
	s.log.Info().Str("id", c.id).Str("remote", remote).Int("clients", s.registry.Len()).Msg("client connected")
	s.record(ConnectionEvent{ConnectionID: c.id, RemoteIP: remote, Kind: EventConnected})

	go c.readPump()
	go c.run()
}

// closeConn sends a close frame and closes the connection.
func closeConn(conn *websocket.Conn, code int, reason string, timeout time.Duration) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(timeout))
	conn.Close()
}
