package server

import (
	"encoding/json"

	apperrors "github.com/wagoo/bridge/internal/errors"
)

// Broadcast sends msg to every open client and returns how many were
// reached. It never blocks: a client whose queue is full misses the
// message.
func (s *Server) Broadcast(msg interface{}) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeServerInvalidMessage, "broadcast payload is not serializable", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return 0, nil
	}

	sent := 0
	for _, c := range s.clients {
		if c.State() != StateOpen {
			continue
		}
		select {
		case c.send <- data:
			sent++
		default:
			s.log.Warn().Str("id", c.id).Msg("client send buffer full, dropping message")
		}
	}
	return sent, nil
}
