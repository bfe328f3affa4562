// Package history records every transcription in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/golisten/internal/logging"
)

// ErrNotFound is returned by Get and Latest when there is no matching entry.
var ErrNotFound = errors.New("history entry not found")

// Entry is one transcription.
type Entry struct {
	ID        int64
	Timestamp time.Time
	Duration  time.Duration
	Text      string
	Processed string // cleaned-up text, empty until processed
	AudioPath string
	Backend   string
	Metadata  map[string]string
}

// Store is the history database.
type Store struct {
	db  *sql.DB
	fts bool
}

// Schema version for migrations
const currentSchemaVersion = 2

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	s.fts = s.ensureFTS()

	L_debug("history: store opened", "path", path, "fts", s.fts)
	return s, nil
}

// Migrate runs database migrations
func (s *Store) Migrate() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		// Table doesn't exist, start from scratch
		version = 0
	}

	if version >= currentSchemaVersion {
		return nil
	}

	L_info("history: migrating schema", "from", version, "to", currentSchemaVersion)

	migrations := []func(*sql.DB) error{
		migrateV1,
		migrateV2,
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d failed: %w", i+1, err)
		}
		L_debug("history: applied migration", "version", i+1)
	}
	return nil
}

// migrateV1 creates the initial schema
func migrateV1(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transcriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		text TEXT NOT NULL,
		processed_text TEXT,
		audio_path TEXT,
		backend TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transcriptions_timestamp ON transcriptions(timestamp);

	INSERT INTO schema_version (version, applied_at) VALUES (1, ?);
	`, time.Now().Unix())
	return err
}

// migrateV2 adds free-form metadata (session id, word count, template).
func migrateV2(db *sql.DB) error {
	_, err := db.Exec(`
	ALTER TABLE transcriptions ADD COLUMN metadata TEXT;

	INSERT INTO schema_version (version, applied_at) VALUES (2, ?);
	`, time.Now().Unix())
	return err
}

// ensureFTS creates the full-text index when the sqlite build has FTS5.
// Without it Search falls back to LIKE.
func (s *Store) ensureFTS() bool {
	var existing int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'transcriptions_fts'`).Scan(&existing)

	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS transcriptions_fts USING fts5(
			text,
			processed_text,
			content='transcriptions',
			content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS transcriptions_ai AFTER INSERT ON transcriptions BEGIN
			INSERT INTO transcriptions_fts(rowid, text, processed_text)
			VALUES (NEW.id, NEW.text, COALESCE(NEW.processed_text, ''));
		END`,
		`CREATE TRIGGER IF NOT EXISTS transcriptions_ad AFTER DELETE ON transcriptions BEGIN
			INSERT INTO transcriptions_fts(transcriptions_fts, rowid, text, processed_text)
			VALUES ('delete', OLD.id, OLD.text, COALESCE(OLD.processed_text, ''));
		END`,
		`CREATE TRIGGER IF NOT EXISTS transcriptions_au AFTER UPDATE ON transcriptions BEGIN
			INSERT INTO transcriptions_fts(transcriptions_fts, rowid, text, processed_text)
			VALUES ('delete', OLD.id, OLD.text, COALESCE(OLD.processed_text, ''));
			INSERT INTO transcriptions_fts(rowid, text, processed_text)
			VALUES (NEW.id, NEW.text, COALESCE(NEW.processed_text, ''));
		END`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			L_debug("history: full-text index unavailable, using LIKE search", "error", err)
			return false
		}
	}
	if existing == 0 {
		// Index rows saved before the index existed.
		if _, err := s.db.Exec(`INSERT INTO transcriptions_fts(transcriptions_fts) VALUES ('rebuild')`); err != nil {
			L_warn("history: rebuilding full-text index failed", "error", err)
		}
	}
	return true
}

// FullText reports whether Search uses the FTS5 index.
func (s *Store) FullText() bool { return s.fts }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts e and returns its id. A zero Timestamp means now.
func (s *Store) Save(ctx context.Context, e Entry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	meta, err := encodeMetadata(e.Metadata)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transcriptions (timestamp, duration_ms, text, processed_text, audio_path, backend, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixMilli(), e.Duration.Milliseconds(), e.Text,
		nullString(e.Processed), nullString(e.AudioPath), nullString(e.Backend), meta)
	if err != nil {
		return 0, fmt.Errorf("history: save: %w", err)
	}
	return res.LastInsertId()
}

// UpdateProcessed stores the cleaned-up text for entry id.
func (s *Store) UpdateProcessed(ctx context.Context, id int64, text string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE transcriptions SET processed_text = ? WHERE id = ?`, text, id)
	if err != nil {
		return fmt.Errorf("history: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `SELECT t.id, t.timestamp, t.duration_ms, t.text, t.processed_text, t.audio_path, t.backend, t.metadata FROM transcriptions t`

// Get returns entry id.
func (s *Store) Get(ctx context.Context, id int64) (Entry, error) {
	return s.one(ctx, selectColumns+` WHERE t.id = ?`, id)
}

// Latest returns the most recent entry.
func (s *Store) Latest(ctx context.Context) (Entry, error) {
	return s.one(ctx, selectColumns+` ORDER BY t.id DESC LIMIT 1`)
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.many(ctx, selectColumns+` ORDER BY t.id DESC LIMIT ?`, limit)
}

// Search returns up to limit entries matching query, newest first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.Recent(ctx, limit)
	}
	if s.fts {
		return s.many(ctx, selectColumns+`
			JOIN transcriptions_fts f ON f.rowid = t.id
			WHERE transcriptions_fts MATCH ?
			ORDER BY t.id DESC LIMIT ?`, ftsQuery(query), limit)
	}
	like := "%" + query + "%"
	return s.many(ctx, selectColumns+`
		WHERE t.text LIKE ? OR t.processed_text LIKE ?
		ORDER BY t.id DESC LIMIT ?`, like, like, limit)
}

// ftsQuery quotes each word so user input is never parsed as FTS syntax.
func ftsQuery(q string) string {
	words := strings.Fields(q)
	for i, w := range words {
		words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(words, " ")
}

func (s *Store) one(ctx context.Context, query string, args ...interface{}) (Entry, error) {
	entries, err := s.many(ctx, query, args...)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, ErrNotFound
	}
	return entries[0], nil
}

func (s *Store) many(ctx context.Context, query string, args ...interface{}) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                               Entry
			ts, durMS                       int64
			processed, audio, backend, meta sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &durMS, &e.Text, &processed, &audio, &backend, &meta); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Duration = time.Duration(durMS) * time.Millisecond
		e.Processed = processed.String
		e.AudioPath = audio.String
		e.Backend = backend.String
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				L_debug("history: bad metadata", "id", e.ID, "error", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func encodeMetadata(m map[string]string) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("history: metadata: %w", err)
	}
	return string(data), nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
