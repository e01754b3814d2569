package bridge

import (
	"github.com/rs/zerolog"

	"github.com/wagoo/bridge/internal/server"
	"github.com/wagoo/bridge/internal/storage"
)

// newEventRecorder adapts server connection events to the SQLite log.
// Write failures are logged and never reach the connection.
func newEventRecorder(store *storage.SQLiteStore, log zerolog.Logger) server.EventRecorder {
	return func(ev server.ConnectionEvent) {
		row := &storage.PairingEvent{
			ConnectionID: ev.ConnectionID,
			RemoteIP:     ev.RemoteIP,
			Kind:         string(ev.Kind),
			Reason:       ev.Reason,
			At:           ev.At,
		}
		if err := store.SaveAndPrunePairingEvent(row, storage.DefaultMaxEvents); err != nil {
			log.Warn().Err(err).Str("kind", row.Kind).Msg("pairing event write failed")
			return
		}
		log.Debug().Str("kind", row.Kind).Str("id", row.ConnectionID).Msg("pairing event recorded")
	}
}
