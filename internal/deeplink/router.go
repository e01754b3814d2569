package deeplink

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	apperrors "github.com/wagoo/bridge/internal/errors"
)

// Navigator is the window side of routing: something that can load a URL
// and bring itself to the front.
type Navigator interface {
	Navigate(target string) error
	Focus()
}

// Action describes what the Router did with a link.
type Action string

const (
	ActionNone      Action = "none"      // Nothing to do (no pending link on surface ready)
	ActionNavigated Action = "navigated" // Target loaded on the surface
	ActionDeferred  Action = "deferred"  // Stored until a surface is ready
	ActionDropped   Action = "dropped"   // Wrong scheme or rejected target
	ActionFailed    Action = "failed"    // Surface could not load the target
)

// Result is the outcome of routing one link.
type Result struct {
	Action Action `json:"action"`
	Target string `json:"target,omitempty"`
	Err    error  `json:"-"`
}

// Router is the single entry point for raw deep links.
//
// Without a surface, the most recent link is kept as the pending link
// (at most one). SurfaceReady consumes it exactly once. With a surface,
// links are resolved immediately.
type Router struct {
	scheme     string
	translator *Translator
	sanitizer  *Sanitizer
	log        zerolog.Logger

	mu         sync.Mutex
	surface    Navigator
	pending    string
	hasPending bool
}

// NewRouter creates a Router for links using scheme.
func NewRouter(scheme string, t *Translator, s *Sanitizer, log zerolog.Logger) *Router {
	return &Router{
		scheme:     strings.ToLower(scheme),
		translator: t,
		sanitizer:  s,
		log:        log,
	}
}

// IsDeepLink reports whether raw uses the application scheme.
func (r *Router) IsDeepLink(raw string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), r.scheme+"://")
}

// Handle routes a raw link from any origin.
func (r *Router) Handle(raw string) Result {
	raw = strings.TrimSpace(raw)
	if !r.IsDeepLink(raw) {
		r.log.Debug().Str("link", raw).Msg("ignoring link without application scheme")
		return Result{
			Action: ActionDropped,
			Err:    apperrors.New(apperrors.CodeDeepLinkInvalidScheme, "link does not use the "+r.scheme+" scheme"),
		}
	}

	r.mu.Lock()
	surface := r.surface
	if surface == nil {
		if r.hasPending {
			r.log.Debug().Str("replaced", r.pending).Msg("replacing pending deep link")
		}
		r.pending = raw
		r.hasPending = true
		r.mu.Unlock()
		r.log.Info().Str("link", raw).Msg("no surface yet, deferring deep link")
		return Result{Action: ActionDeferred}
	}
	r.mu.Unlock()

	return r.resolve(surface, raw)
}

// SurfaceReady attaches the navigable surface and flushes the pending link,
// if any. The returned Result describes the flushed link (ActionNone when
// nothing was pending).
func (r *Router) SurfaceReady(n Navigator) Result {
	r.mu.Lock()
	r.surface = n
	raw, ok := r.pending, r.hasPending
	r.pending, r.hasPending = "", false
	r.mu.Unlock()

	if !ok || n == nil {
		return Result{Action: ActionNone}
	}
	r.log.Info().Str("link", raw).Msg("surface ready, consuming pending deep link")
	return r.resolve(n, raw)
}

// SurfaceGone detaches the surface; later links are deferred again.
func (r *Router) SurfaceGone() {
	r.mu.Lock()
	r.surface = nil
	r.mu.Unlock()
}

// Pending returns the stored link, if any.
func (r *Router) Pending() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending, r.hasPending
}

func (r *Router) resolve(n Navigator, raw string) Result {
	translated := r.translator.Translate(raw)
	target, ok := r.sanitizer.Sanitize(translated)
	if !ok {
		r.log.Warn().Str("link", raw).Str("target", translated).Msg("deep link target rejected")
		return Result{Action: ActionDropped, Target: translated, Err: apperrors.Rejected(translated)}
	}

	r.log.Info().Str("link", raw).Str("target", target).Msg("navigating to deep link target")
	err := n.Navigate(target)
	n.Focus()
	if err != nil {
		r.log.Warn().Err(err).Str("target", target).Msg("navigation failed")
		return Result{Action: ActionFailed, Target: target, Err: err}
	}
	return Result{Action: ActionNavigated, Target: target}
}
