package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/zhaobenny/cptop/internal/model"
	"github.com/zhaobenny/cptop/internal/parser"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
	log *zap.Logger
}

// FileState is the scan bookkeeping for one log file
type FileState struct {
	File        string
	Cursor      parser.Cursor
	Fingerprint string
	Size        int64
	ScanID      string
	ScannedAt   time.Time
	Events      int
	Failures    int
}

// Scan records one ingestion run
type Scan struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Files      int
	NewEvents  int64
	Failures   int
	Errors     int
}

// Counts summarizes the cache contents
type Counts struct {
	Events   int64
	Files    int64
	Sessions int64
	First    time.Time
	Last     time.Time
}

// Open opens a SQLite database connection
func Open(dbPath string, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode so report commands can read while a scan writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to avoid "database is locked" errors when the service scans
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// A single writer keeps CommitScan transactions serialized
	db.SetMaxOpenConns(1)

	log.Debug("database opened", zap.String("path", dbPath))
	return &DB{DB: db, log: log}, nil
}

// schemaVersion is bumped whenever the event layout changes. The cache is
// rebuilt from the logs, so older layouts are dropped rather than converted.
const schemaVersion = 2

// Migrate creates the database schema
func (db *DB) Migrate() error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version < schemaVersion {
		if _, err := db.Exec(`
			DROP TABLE IF EXISTS usage_events;
			DROP TABLE IF EXISTS session_markers;
			DROP TABLE IF EXISTS scan_cursors;
		`); err != nil {
			return fmt.Errorf("drop old cache: %w", err)
		}
		if version > 0 {
			db.log.Info("event cache layout changed, logs will be rescanned",
				zap.Int("from", version), zap.Int("to", schemaVersion))
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS usage_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_file TEXT NOT NULL,
		source_offset INTEGER NOT NULL,
		source_line INTEGER NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		model TEXT NOT NULL,
		multiplier REAL,
		is_premium INTEGER,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		cached_tokens INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		session_id TEXT NOT NULL DEFAULT '',
		initiator TEXT NOT NULL DEFAULT '',
		scan_id TEXT NOT NULL DEFAULT '',
		UNIQUE(source_file, source_offset)
	);

	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON usage_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_session ON usage_events(session_id);

	CREATE TABLE IF NOT EXISTS session_markers (
		source_file TEXT NOT NULL,
		source_offset INTEGER NOT NULL,
		kind TEXT NOT NULL,
		session_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		UNIQUE(source_file, source_offset)
	);

	CREATE INDEX IF NOT EXISTS idx_markers_session ON session_markers(session_id);

	CREATE TABLE IF NOT EXISTS scan_cursors (
		file TEXT PRIMARY KEY,
		byte_offset INTEGER NOT NULL,
		line INTEGER NOT NULL,
		state TEXT NOT NULL DEFAULT '{}',
		fingerprint TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		scan_id TEXT NOT NULL DEFAULT '',
		scanned_at TIMESTAMP NOT NULL,
		events INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		files INTEGER NOT NULL,
		new_events INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		errors INTEGER NOT NULL
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return err
	}
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

// CommitScan stores new events and session markers and advances the file
// cursor in one transaction. Rows already stored under the same source
// location are ignored. Markers without a session id are dropped. Returns the
// number of events inserted.
func (db *DB) CommitScan(state FileState, events []model.UsageEvent, hints []model.SessionHint) (int64, error) {
	stateJSON, err := json.Marshal(state.Cursor.State)
	if err != nil {
		return 0, fmt.Errorf("encode cursor state: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO usage_events
		(source_file, source_offset, source_line, timestamp, model,
		 multiplier, is_premium,
		 prompt_tokens, completion_tokens, cached_tokens, duration_ms,
		 session_id, initiator, scan_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int64
	for _, e := range events {
		var (
			mult    sql.NullFloat64
			premium sql.NullBool
		)
		if b := e.Billing; b != nil {
			if b.Multiplier != nil {
				mult = sql.NullFloat64{Float64: *b.Multiplier, Valid: true}
			}
			if b.IsPremium != nil {
				premium = sql.NullBool{Bool: *b.IsPremium, Valid: true}
			}
		}
		result, err := stmt.Exec(
			e.Source.File, e.Source.Offset, e.Source.Line, e.Timestamp.UTC(), e.Model,
			mult, premium,
			e.Usage.PromptTokens, e.Usage.CompletionTokens, e.Usage.CachedTokens, e.DurationMS,
			e.SessionID, e.Initiator, state.ScanID,
		)
		if err != nil {
			return 0, fmt.Errorf("insert event %s:%d: %w", e.Source.File, e.Source.Line, err)
		}
		n, _ := result.RowsAffected()
		inserted += n
	}

	for _, h := range hints {
		if h.SessionID == "" {
			continue
		}
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO session_markers
			(source_file, source_offset, kind, session_id, timestamp)
			VALUES (?, ?, ?, ?, ?)
		`, h.Source.File, h.Source.Offset, string(h.Kind), h.SessionID, h.Timestamp.UTC())
		if err != nil {
			return 0, fmt.Errorf("insert marker %s:%d: %w", h.Source.File, h.Source.Line, err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO scan_cursors
		(file, byte_offset, line, state, fingerprint, size, scan_id, scanned_at, events, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file) DO UPDATE SET
			byte_offset = excluded.byte_offset,
			line = excluded.line,
			state = excluded.state,
			fingerprint = excluded.fingerprint,
			size = excluded.size,
			scan_id = excluded.scan_id,
			scanned_at = excluded.scanned_at,
			events = scan_cursors.events + excluded.events,
			failures = scan_cursors.failures + excluded.failures
	`,
		state.File, state.Cursor.Offset, state.Cursor.Line, string(stateJSON),
		state.Fingerprint, state.Size, state.ScanID, state.ScannedAt.UTC(),
		inserted, state.Failures,
	)
	if err != nil {
		return 0, fmt.Errorf("update cursor for %s: %w", state.File, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	db.log.Debug("scan committed",
		zap.String("file", state.File),
		zap.Int64("offset", state.Cursor.Offset),
		zap.Int64("inserted", inserted),
	)
	return inserted, nil
}

// FileState retrieves the bookkeeping for a file, nil if never scanned
func (db *DB) FileState(file string) (*FileState, error) {
	fs := &FileState{File: file}
	var stateJSON string
	err := db.QueryRow(
		`SELECT byte_offset, line, state, fingerprint, size, scan_id, scanned_at, events, failures
		 FROM scan_cursors WHERE file = ?`,
		file,
	).Scan(&fs.Cursor.Offset, &fs.Cursor.Line, &stateJSON, &fs.Fingerprint, &fs.Size,
		&fs.ScanID, &fs.ScannedAt, &fs.Events, &fs.Failures)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stateJSON), &fs.Cursor.State); err != nil {
		return nil, fmt.Errorf("decode cursor state for %s: %w", file, err)
	}
	return fs, nil
}

// FileStates returns the bookkeeping for all scanned files
func (db *DB) FileStates() ([]FileState, error) {
	rows, err := db.Query(`SELECT file FROM scan_cursors ORDER BY file`)
	if err != nil {
		return nil, err
	}
	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return nil, err
		}
		files = append(files, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	states := make([]FileState, 0, len(files))
	for _, f := range files {
		fs, err := db.FileState(f)
		if err != nil {
			return nil, err
		}
		if fs != nil {
			states = append(states, *fs)
		}
	}
	return states, nil
}

// ResetFile forgets a file's events and cursor, used when a log was rotated
func (db *DB) ResetFile(file string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM usage_events WHERE source_file = ?`, file); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM session_markers WHERE source_file = ?`, file); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM scan_cursors WHERE file = ?`, file); err != nil {
		return err
	}
	return tx.Commit()
}

// Events returns cached events in global chronological order. Zero bounds
// are open; both bounds are inclusive.
func (db *DB) Events(since, until time.Time) ([]model.UsageEvent, error) {
	query := `
		SELECT source_file, source_offset, source_line, timestamp, model,
		       multiplier, is_premium,
		       prompt_tokens, completion_tokens, cached_tokens, duration_ms,
		       session_id, initiator
		FROM usage_events
		WHERE 1 = 1
	`
	var args []interface{}
	if !since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, since.UTC())
	}
	if !until.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, until.UTC())
	}
	query += ` ORDER BY timestamp, source_file, source_offset`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.UsageEvent
	for rows.Next() {
		var (
			e       model.UsageEvent
			mult    sql.NullFloat64
			premium sql.NullBool
		)
		if err := rows.Scan(
			&e.Source.File, &e.Source.Offset, &e.Source.Line, &e.Timestamp, &e.Model,
			&mult, &premium,
			&e.Usage.PromptTokens, &e.Usage.CompletionTokens, &e.Usage.CachedTokens, &e.DurationMS,
			&e.SessionID, &e.Initiator,
		); err != nil {
			return nil, err
		}
		if mult.Valid || premium.Valid {
			e.Billing = &model.Billing{}
			if mult.Valid {
				e.Billing.Multiplier = &mult.Float64
			}
			if premium.Valid {
				e.Billing.IsPremium = &premium.Bool
			}
		}
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// SessionMarkers counts the logged lifecycle markers of every session
func (db *DB) SessionMarkers() (map[string]model.SessionMarkers, error) {
	rows, err := db.Query(`
		SELECT session_id,
		       SUM(kind = ?), SUM(kind = ?)
		FROM session_markers
		GROUP BY session_id
	`, string(model.HintSessionStart), string(model.HintTurnEnd))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	markers := make(map[string]model.SessionMarkers)
	for rows.Next() {
		var (
			id string
			m  model.SessionMarkers
		)
		if err := rows.Scan(&id, &m.Starts, &m.TurnEnds); err != nil {
			return nil, err
		}
		markers[id] = m
	}
	return markers, rows.Err()
}

// RecordScan stores the outcome of an ingestion run
func (db *DB) RecordScan(s Scan) error {
	_, err := db.Exec(
		`INSERT INTO scans (id, started_at, finished_at, files, new_events, failures, errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.StartedAt.UTC(), s.FinishedAt.UTC(), s.Files, s.NewEvents, s.Failures, s.Errors,
	)
	return err
}

// LastScan returns the most recent ingestion run, nil if there was none
func (db *DB) LastScan() (*Scan, error) {
	s := &Scan{}
	err := db.QueryRow(
		`SELECT id, started_at, finished_at, files, new_events, failures, errors
		 FROM scans ORDER BY finished_at DESC LIMIT 1`,
	).Scan(&s.ID, &s.StartedAt, &s.FinishedAt, &s.Files, &s.NewEvents, &s.Failures, &s.Errors)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Counts returns summary counts over the cache
func (db *DB) Counts() (Counts, error) {
	var (
		c           Counts
		first, last sql.NullString
	)
	err := db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT source_file),
		       COUNT(DISTINCT NULLIF(session_id, '')),
		       MIN(timestamp), MAX(timestamp)
		FROM usage_events
	`).Scan(&c.Events, &c.Files, &c.Sessions, &first, &last)
	if err != nil {
		return Counts{}, err
	}
	if first.Valid {
		c.First, _ = parseTimestamp(first.String)
	}
	if last.Valid {
		c.Last, _ = parseTimestamp(last.String)
	}
	return c, nil
}

// Clear removes every cached event, cursor and scan record
func (db *DB) Clear() error {
	_, err := db.Exec(`
		DELETE FROM usage_events;
		DELETE FROM session_markers;
		DELETE FROM scan_cursors;
		DELETE FROM scans;
	`)
	return err
}

// parseTimestamp reads a timestamp produced by an aggregate, which sqlite
// returns as text rather than through the column type.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
