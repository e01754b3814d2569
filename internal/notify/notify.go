// Package notify sends desktop notifications through beeep.
package notify

import (
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

const (
	maxTitleLen = 64
	maxBodyLen  = 256
)

// Desktop shows local notifications. A disabled Desktop drops them silently.
type Desktop struct {
	log     zerolog.Logger
	mu      sync.RWMutex
	enabled bool

	// send is swappable in tests.
	send func(title, body string) error
}

// NewDesktop creates a notifier.
func NewDesktop(enabled bool, log zerolog.Logger) *Desktop {
	return &Desktop{
		log:     log,
		enabled: enabled,
		send: func(title, body string) error {
			return beeep.Notify(title, body, "")
		},
	}
}

// SetEnabled enables or disables notifications.
func (d *Desktop) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (d *Desktop) IsEnabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// Notify shows title and body. Long text is truncated. Failures are
// logged and returned.
func (d *Desktop) Notify(title, body string) error {
	if !d.IsEnabled() {
		return nil
	}
	title, body = truncate(title, maxTitleLen), truncate(body, maxBodyLen)
	if err := d.send(title, body); err != nil {
		d.log.Warn().Err(err).Str("title", title).Msg("failed to send notification")
		return err
	}
	d.log.Debug().Str("title", title).Msg("notification sent")
	return nil
}

// truncate shortens s to at most maxLen runes, ending in "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
