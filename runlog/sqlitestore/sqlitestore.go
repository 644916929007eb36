// Package sqlitestore persists the runlog execution trace to a local
// SQLite file using the pure-Go modernc.org/sqlite driver, with schema
// managed by golang-migrate so the on-disk layout can evolve across
// releases without a hand-rolled CREATE TABLE IF NOT EXISTS ladder.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure-Go driver, registered as "sqlite"

	"github.com/codayhq/coday/runlog"
	"github.com/codayhq/coday/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists run_log records to a single SQLite file and implements
// both runloop.Recorder (the write side a RunLoop calls directly) and
// runlog.Reader (the query side a debugging/audit surface calls).
type Store struct {
	db     *sql.DB
	logger telemetry.Logger
}

// Open opens (creating if absent) the SQLite database at path and applies
// every pending migration. A single shared connection is kept open - per
// the single-writer rule for durable state, and matching the
// reused corpus's own SQLite stores - so concurrent Record calls serialize
// through one connection instead of racing on SQLITE_BUSY.
func Open(path string, logger telemetry.Logger) (*Store, error) {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlitestore: load embedded migrations: %w", err)
	}
	target, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("sqlitestore: bind migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", target)
	if err != nil {
		return fmt.Errorf("sqlitestore: build migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("sqlitestore: apply migrations: %w", err)
	}
	return nil
}

// Record implements runloop.Recorder. payload is marshaled to JSON before
// storage; a payload that fails to marshal is recorded as a string
// describing the failure rather than silently dropped.
func (s *Store) Record(ctx context.Context, sessionID, turnID, kind string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		body, _ = json.Marshal(fmt.Sprintf("runlog: payload marshal failed: %v", err))
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_log (session_id, turn_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, turnID, kind, string(body), time.Now().UnixNano(),
	)
	if err != nil {
		s.logger.Warn(ctx, "sqlitestore: record failed", "sessionId", sessionID, "turnId", turnID, "kind", kind, "error", err)
		return fmt.Errorf("sqlitestore: record %s/%s: %w", sessionID, kind, err)
	}
	return nil
}

// ListSince implements runlog.Reader. cursor is this store's own encoding
// of the last-seen row id; callers must treat it as opaque.
func (s *Store) ListSince(ctx context.Context, sessionID, cursor string, limit int) ([]runlog.Record, string, error) {
	if limit <= 0 {
		limit = 100
	}
	afterID, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", fmt.Errorf("sqlitestore: invalid cursor: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, turn_id, kind, payload, created_at FROM run_log
		 WHERE session_id = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		sessionID, afterID, limit,
	)
	if err != nil {
		return nil, "", fmt.Errorf("sqlitestore: list since %q: %w", cursor, err)
	}
	defer rows.Close()

	var out []runlog.Record
	lastCursor := cursor
	for rows.Next() {
		var id int64
		var turnID, kind, payload string
		var createdAtNanos int64
		if err := rows.Scan(&id, &turnID, &kind, &payload, &createdAtNanos); err != nil {
			return nil, "", fmt.Errorf("sqlitestore: scan run_log row: %w", err)
		}
		rowCursor := encodeCursor(id)
		out = append(out, runlog.Record{
			Cursor:    rowCursor,
			SessionID: sessionID,
			TurnID:    turnID,
			Kind:      kind,
			Payload:   json.RawMessage(payload),
			CreatedAt: time.Unix(0, createdAtNanos),
		})
		lastCursor = rowCursor
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("sqlitestore: iterate run_log: %w", err)
	}
	return out, lastCursor, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeCursor(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

func decodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}
