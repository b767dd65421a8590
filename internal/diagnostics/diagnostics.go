// Package diagnostics provides SQLite-based persistence for failed chat
// exchanges, the developer-facing side of assistant errors. It never stores
// message content. The database is opened lazily and created on first use.
// If opening the DB or executing queries fails, the store falls back to
// memory.
package diagnostics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/citizen-assistant/internal/assistant"
	"github.com/comigor/citizen-assistant/internal/logger"
)

// Entry is one recorded failure.
type Entry struct {
	ID           int64               `json:"id"`
	SessionToken string              `json:"session_token"`
	MessageID    uint64              `json:"message_id"`
	Kind         assistant.ErrorKind `json:"kind"`
	StatusCode   int                 `json:"status_code"`
	Excerpt      string              `json:"excerpt"`
	Attempt      int                 `json:"attempt"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Store implements assistant.DiagnosticsSink.
type Store struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	entries []Entry // in-memory fallback
	nextID  int64

	dbOnce  sync.Once
	db      *sql.DB
	initErr error
}

// New returns a store backed by the SQLite file at path.
func New(path string) *Store {
	return &Store{path: path, log: logger.L.With("component", "diagnostics")}
}

// initDB lazily opens the SQLite database and creates the table if it doesn't exist.
func (s *Store) initDB() {
	db, err := sql.Open("sqlite", "file:"+s.path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		s.initErr = err
		s.log.Warn("sqlite open failed; using in-memory diagnostics", "error", err)
		return
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS chat_failures (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_token TEXT NOT NULL,
        message_id INTEGER NOT NULL,
        kind TEXT NOT NULL,
        status_code INTEGER NOT NULL,
        excerpt TEXT NOT NULL,
        attempt INTEGER NOT NULL,
        created_at INTEGER NOT NULL
    );`); err != nil {
		s.initErr = err
		db.Close()
		s.log.Warn("sqlite table creation failed; using in-memory diagnostics", "error", err)
		return
	}
	s.db = db
	s.log.Info("sqlite diagnostics DB initialized", "path", s.path)
}

func (s *Store) ready() bool {
	s.dbOnce.Do(s.initDB)
	return s.initErr == nil && s.db != nil
}

// Record persists a diagnostic when the DB is available and always keeps an
// in-memory copy.
func (s *Store) Record(ctx context.Context, d assistant.Diagnostic) {
	at := d.At
	if at.IsZero() {
		at = time.Now()
	}
	if s.ready() {
		_, err := s.db.ExecContext(ctx, `INSERT INTO chat_failures
            (session_token, message_id, kind, status_code, excerpt, attempt, created_at)
            VALUES (?,?,?,?,?,?,?);`,
			d.SessionToken, int64(d.MessageID), string(d.Kind), d.StatusCode, d.Excerpt, d.Attempt, at.UnixNano())
		if err != nil {
			s.log.Error("failed to store diagnostic in sqlite; keeping it in memory", "error", err)
		}
	}

	s.mu.Lock()
	s.nextID++
	s.entries = append(s.entries, Entry{
		ID:           s.nextID,
		SessionToken: d.SessionToken,
		MessageID:    d.MessageID,
		Kind:         d.Kind,
		StatusCode:   d.StatusCode,
		Excerpt:      d.Excerpt,
		Attempt:      d.Attempt,
		CreatedAt:    at,
	})
	s.mu.Unlock()
}

// List returns the failures recorded for a session token, oldest first.
func (s *Store) List(ctx context.Context, sessionToken string) []Entry {
	var out []Entry
	if s.ready() {
		rows, err := s.db.QueryContext(ctx, `SELECT id, session_token, message_id, kind, status_code, excerpt, attempt, created_at
            FROM chat_failures WHERE session_token = ? ORDER BY id ASC;`, sessionToken)
		if err == nil {
			defer rows.Close()
			for rows.Next() {
				var (
					e     Entry
					msgID int64
					kind  string
					at    int64
				)
				if err := rows.Scan(&e.ID, &e.SessionToken, &msgID, &kind, &e.StatusCode, &e.Excerpt, &e.Attempt, &at); err == nil {
					e.MessageID = uint64(msgID)
					e.Kind = assistant.ErrorKind(kind)
					e.CreatedAt = time.Unix(0, at)
					out = append(out, e)
				}
			}
			return out
		}
		s.log.Warn("sqlite query failed; reading in-memory diagnostics", "error", err)
	}

	s.mu.Lock()
	for _, e := range s.entries {
		if e.SessionToken == sessionToken {
			out = append(out, e)
		}
	}
	s.mu.Unlock()
	return out
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
