package repository

import (
	"context"
	"database/sql"
	"time"

	libdb "packmon/backend/libs/db"
)

// Link log entry kinds.
const (
	KindCommand      = "command"
	KindSessionStart = "session_start"
	KindSessionEnd   = "session_end"
)

// LinkLogEntry is one row of the device link audit log.
type LinkLogEntry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Kind      string    `json:"kind"`
	Endpoint  string    `json:"endpoint"`
	Payload   string    `json:"payload,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LinkLogRepository stores outbound commands and session events. Inbound
// telemetry is never written here.
type LinkLogRepository struct {
	db *sql.DB
}

// NewLinkLogRepository ctor.
func NewLinkLogRepository(db *sql.DB) *LinkLogRepository {
	return &LinkLogRepository{db: db}
}

// EnsureSchema creates the log table and its lookup index.
func (r *LinkLogRepository) EnsureSchema(ctx context.Context) error {
	return libdb.Migrate(ctx, r.db,
		`CREATE TABLE IF NOT EXISTS link_log (
			id         BIGSERIAL PRIMARY KEY,
			device_id  TEXT        NOT NULL,
			kind       TEXT        NOT NULL,
			endpoint   TEXT        NOT NULL DEFAULT '',
			payload    TEXT        NOT NULL DEFAULT '',
			error      TEXT        NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS link_log_device_id_idx ON link_log (device_id, id DESC)`,
	)
}

// Save stores log entry.
func (r *LinkLogRepository) Save(ctx context.Context, entry LinkLogEntry) error {
	const query = `
		INSERT INTO link_log (device_id, kind, endpoint, payload, error)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, entry.DeviceID, entry.Kind, entry.Endpoint, entry.Payload, entry.Error)
	return err
}

// Recent returns the newest entries for a device, newest first.
func (r *LinkLogRepository) Recent(ctx context.Context, deviceID string, limit int) ([]LinkLogEntry, error) {
	const query = `
		SELECT id, device_id, kind, endpoint, payload, error, created_at
		FROM link_log
		WHERE device_id = $1
		ORDER BY id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LinkLogEntry
	for rows.Next() {
		var e LinkLogEntry
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Kind, &e.Endpoint, &e.Payload, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
