package server

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/wagoo/bridge/internal/errors"
)

// Start binds the listener and begins serving in the background. When the
// configured port is taken it tries port+1 once. Port 0 picks an ephemeral
// port and never falls back.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ln, err := s.listen()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.createMux(),
		ReadHeaderTimeout: s.opts.ConnectionTimeout,
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = srv
	s.mu.Unlock()
	s.port.Store(int32(ln.Addr().(*net.TCPAddr).Port))

	s.log.Info().Str("addr", ln.Addr().String()).Msg("pairing server listening")
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("pairing server error")
		}
	}()
	return nil
}

func (s *Server) listen() (net.Listener, error) {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err == nil {
		return ln, nil
	}
	if s.opts.Port == 0 {
		return nil, apperrors.BindFailed(addr, err)
	}

	fallback := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port+1))
	s.log.Warn().Err(err).Str("addr", addr).Str("fallback", fallback).Msg("pairing port in use, trying next port")
	ln, err2 := net.Listen("tcp", fallback)
	if err2 != nil {
		return nil, apperrors.BindFailed(fallback, fmt.Errorf("%v; %w", err, err2))
	}
	return ln, nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln != nil {
		return ln.Addr().String()
	}
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// Running reports whether the server is bound and not stopped.
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.httpServer != nil && !s.stopped
}

// Stop closes every connection with 1001 and stops accepting new ones. It
// waits up to ConnectionTimeout for connection goroutines to finish. Calling
// Stop more than once, or before Start, is safe.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for _, c := range s.clients {
		c.closeWith(CloseServerShutdown, "server shutdown")
	}
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		// Close only shuts listeners and idle conns; hijacked websocket
		// conns are closed by their run loops.
		err = srv.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.opts.ConnectionTimeout):
		s.log.Warn().Msg("timed out waiting for pairing connections to close")
	}

	s.log.Info().Msg("pairing server stopped")
	return err
}
