package bridge

import (
	"encoding/json"
	"io"
	"net/http"

	apperrors "github.com/wagoo/bridge/internal/errors"
	"github.com/wagoo/bridge/internal/server"
)

// maxControlBody bounds control request bodies.
const maxControlBody = 64 * 1024

// Control endpoint paths. All are loopback-only.
const (
	PathStatus    = "/status"
	PathDiscovery = "/discovery"
	PathDeepLink  = "/deeplink"
	PathBroadcast = "/broadcast"
)

func (s *Service) registerControlRoutes() {
	s.server.Handle(PathStatus, server.NewStatusHandler(func() interface{} { return s.Status() }))
	s.server.Handle(PathDiscovery, http.HandlerFunc(s.handleDiscovery))
	s.server.Handle(PathDeepLink, http.HandlerFunc(s.handleDeepLink))
	s.server.Handle(PathBroadcast, http.HandlerFunc(s.handleBroadcast))
}

// DeepLinkRequest is the body of POST /deeplink.
type DeepLinkRequest struct {
	URL string `json:"url"`
}

// ErrorBody is the error part of control responses.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DeepLinkResponse reports what the router did with a posted link.
type DeepLinkResponse struct {
	Action string     `json:"action"`
	Target string     `json:"target,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// BroadcastResponse reports how many clients a broadcast reached.
type BroadcastResponse struct {
	Sent int `json:"sent"`
}

func (s *Service) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.Descriptor())
}

func (s *Service) handleDeepLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}
	var req DeepLinkRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be {\"url\": \"...\"}")
		return
	}

	res := s.HandleDeepLink(req.URL)
	resp := DeepLinkResponse{Action: string(res.Action), Target: res.Target}
	if res.Err != nil {
		code, msg := apperrors.ToCodeAndMessage(res.Err)
		resp.Error = &ErrorBody{Code: code, Message: msg}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read body")
		return
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Type == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be a JSON object with a type")
		return
	}

	sent, err := s.server.Broadcast(json.RawMessage(body))
	if err != nil {
		code, msg := apperrors.ToCodeAndMessage(err)
		writeError(w, http.StatusBadRequest, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, BroadcastResponse{Sent: sent})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
