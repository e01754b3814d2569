package server

// SetEmitter sets the surface sink for ws:message and qr:scanned events.
func (s *Server) SetEmitter(e Emitter) {
	s.mu.Lock()
	s.emitter = e
	s.mu.Unlock()
}

// SetNotifier sets where desktop notifications go.
func (s *Server) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// SetDeepLinkHandler sets the receiver for scanned payloads that use the
// application scheme. The handler runs on its own goroutine.
func (s *Server) SetDeepLinkHandler(h DeepLinkHandler) {
	s.mu.Lock()
	s.onLink = h
	s.mu.Unlock()
}

// SetEventRecorder sets the pairing event log hook.
func (s *Server) SetEventRecorder(r EventRecorder) {
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

func (s *Server) emit(channel string, payload interface{}) {
	s.mu.RLock()
	e := s.emitter
	s.mu.RUnlock()
	if e != nil {
		e.Emit(channel, payload)
	}
}

// notify fires the notifier on its own goroutine; slow notification
// daemons must not stall the connection.
func (s *Server) notify(title, body string) {
	s.mu.RLock()
	n := s.notifier
	s.mu.RUnlock()
	if n == nil {
		return
	}
	go func() {
		if err := n.Notify(title, body); err != nil {
			s.log.Debug().Err(err).Msg("notification failed")
		}
	}()
}

func (s *Server) record(ev ConnectionEvent) {
	s.mu.RLock()
	r := s.recorder
	s.mu.RUnlock()
	if r == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	r(ev)
}
