// Package surface defines the navigable surface the pairing layer drives
// and a headless implementation of it for running without a window.
package surface

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	apperrors "github.com/wagoo/bridge/internal/errors"
)

// Emitter receives events for the surface's UI.
type Emitter interface {
	Emit(channel string, payload interface{})
}

// Navigator loads a target and brings the surface to the front.
type Navigator interface {
	Navigate(target string) error
	Focus()
}

// OfflineScreen is the URL shown when a target cannot be reached.
const OfflineScreen = "about:offline"

// maxEvents is how many emitted events Headless keeps.
const maxEvents = 50

// Event is one emitted surface event.
type Event struct {
	Channel string      `json:"channel"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

// Headless is a windowless surface. It records navigations and events,
// and checks that http(s) targets answer before accepting them.
type Headless struct {
	log    zerolog.Logger
	client *retryablehttp.Client

	// checkTimeout bounds a reachability check including retries.
	checkTimeout time.Duration

	mu      sync.RWMutex
	current string
	offline bool
	focused int
	events  []Event
}

// NewHeadless creates a headless surface. A nil client disables the
// reachability check.
func NewHeadless(client *retryablehttp.Client, log zerolog.Logger) *Headless {
	return &Headless{
		log:          log,
		client:       client,
		checkTimeout: 10 * time.Second,
	}
}

// Navigate loads target. If an http(s) target does not answer, the surface
// switches to OfflineScreen and a surface.unreachable error is returned.
func (h *Headless) Navigate(target string) error {
	if err := h.check(target); err != nil {
		h.mu.Lock()
		h.current = OfflineScreen
		h.offline = true
		h.mu.Unlock()
		h.log.Warn().Err(err).Str("target", target).Msg("target unreachable, showing offline screen")
		return apperrors.Unreachable(target, err)
	}

	h.mu.Lock()
	h.current = target
	h.offline = false
	h.mu.Unlock()
	h.log.Info().Str("target", target).Msg("navigated")
	return nil
}

// check issues a HEAD request. Any HTTP response counts as reachable.
func (h *Headless) check(target string) error {
	if h.client == nil {
		return nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return err
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.checkTimeout)
	defer cancel()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Focus brings the surface to the front.
func (h *Headless) Focus() {
	h.mu.Lock()
	h.focused++
	h.mu.Unlock()
	h.log.Debug().Msg("surface focused")
}

// Emit records an event, keeping the most recent ones.
func (h *Headless) Emit(channel string, payload interface{}) {
	h.mu.Lock()
	h.events = append(h.events, Event{Channel: channel, Payload: payload, At: time.Now()})
	if over := len(h.events) - maxEvents; over > 0 {
		h.events = append(h.events[:0:0], h.events[over:]...)
	}
	h.mu.Unlock()
	h.log.Debug().Str("channel", channel).Msg("surface event")
}

// CurrentURL is the last loaded target, or OfflineScreen.
func (h *Headless) CurrentURL() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Offline reports whether the offline screen is showing.
func (h *Headless) Offline() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.offline
}

// FocusCount is how many times Focus was called.
func (h *Headless) FocusCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.focused
}

// Events returns a copy of the recorded events, oldest first.
func (h *Headless) Events() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}
