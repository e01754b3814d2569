package storage

import (
	"fmt"
	"time"

	apperrors "github.com/wagoo/bridge/internal/errors"
)

// PairingEvent is one row of the pairing log.
type PairingEvent struct {
	ID           int64     `json:"id"`
	ConnectionID string    `json:"connectionId,omitempty"`
	RemoteIP     string    `json:"remoteIp"`
	Kind         string    `json:"kind"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// SaveAndPrunePairingEvent inserts ev and drops the oldest rows beyond
// maxRows in one transaction. maxRows <= 0 keeps everything. The new row's
// ID is written back to ev.
func (s *SQLiteStore) SaveAndPrunePairingEvent(ev *PairingEvent, maxRows int) error {
	if ev == nil {
		return apperrors.New(apperrors.CodeStorageQueryFailed, "pairing event cannot be nil")
	}
	if ev.Kind == "" {
		return apperrors.New(apperrors.CodeStorageQueryFailed, "pairing event kind is required")
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageQueryFailed, "begin transaction", err)
	}
	defer tx.Rollback()

	const insertQuery = `
		INSERT INTO pairing_events (connection_id, remote_ip, kind, reason, at)
		VALUES (?, ?, ?, ?, ?)
	`
	res, err := tx.Exec(insertQuery,
		ev.ConnectionID,
		ev.RemoteIP,
		ev.Kind,
		ev.Reason,
		ev.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageQueryFailed, "insert pairing event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageQueryFailed, "last insert id", err)
	}

	if maxRows > 0 {
		const pruneQuery = `
			DELETE FROM pairing_events
			WHERE id NOT IN (SELECT id FROM pairing_events ORDER BY id DESC LIMIT ?)
		`
		if _, err := tx.Exec(pruneQuery, maxRows); err != nil {
			return apperrors.Wrap(apperrors.CodeStorageQueryFailed, "prune pairing events", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageQueryFailed, "commit pairing event", err)
	}
	ev.ID = id
	return nil
}

// ListPairingEvents returns events newest first. limit <= 0 returns all.
func (s *SQLiteStore) ListPairingEvents(limit int) ([]*PairingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, connection_id, remote_ip, kind, reason, at
		FROM pairing_events
		ORDER BY id DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "query pairing events", err)
	}
	defer rows.Close()

	var events []*PairingEvent
	for rows.Next() {
		var (
			ev    PairingEvent
			atStr string
		)
		if err := rows.Scan(&ev.ID, &ev.ConnectionID, &ev.RemoteIP, &ev.Kind, &ev.Reason, &atStr); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "scan pairing event", err)
		}
		at, err := time.Parse(time.RFC3339Nano, atStr)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, fmt.Sprintf("parse event time %q", atStr), err)
		}
		ev.At = at
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "iterate pairing events", err)
	}
	return events, nil
}

// CountPairingEvents returns the number of stored events.
func (s *SQLiteStore) CountPairingEvents() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pairing_events").Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "count pairing events", err)
	}
	return n, nil
}
