package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wagoo/bridge/internal/registry"
)

// StatusResponse is the pairing server's part of the host status.
type StatusResponse struct {
	ListeningAddress string           `json:"listeningAddress"`
	Port             int              `json:"port"`
	Running          bool             `json:"running"`
	Connected        bool             `json:"connected"`
	ConnectedClients int              `json:"connectedClients"`
	Clients          []registry.Entry `json:"clients"`
	Version          string           `json:"version"`
}

// Status returns a snapshot of the server's state.
func (s *Server) Status() StatusResponse {
	clients := s.registry.Snapshot()
	return StatusResponse{
		ListeningAddress: s.Addr(),
		Port:             s.Port(),
		Running:          s.Running(),
		Connected:        len(clients) > 0,
		ConnectedClients: len(clients),
		Clients:          clients,
		Version:          s.opts.Version,
	}
}

// StatusHandler serves GET requests with the JSON produced by Source.
// Register it through Server.Handle so it is loopback-only.
type StatusHandler struct {
	source    func() interface{}
	startTime time.Time
}

// NewStatusHandler creates a StatusHandler. A nil source reports only the
// uptime.
func NewStatusHandler(source func() interface{}) *StatusHandler {
	return &StatusHandler{source: source, startTime: time.Now()}
}

// Uptime is how long ago the handler was created.
func (h *StatusHandler) Uptime() time.Duration {
	return time.Since(h.startTime)
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}

	var body interface{} = map[string]int64{"uptimeSeconds": int64(h.Uptime().Seconds())}
	if h.source != nil {
		body = h.source()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
