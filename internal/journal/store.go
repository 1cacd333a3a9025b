// Package journal records one row per recognition task in SQLite. It never
// stores transcript text.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"speechpad/internal/config"
	"speechpad/internal/domain"
	"speechpad/internal/ports"
)

// Store is a SQLite-backed session journal. It implements
// ports.SessionObserver.
type Store struct {
	db     *sql.DB
	cfg    config.JournalConfig
	logger *log.Logger
}

// Open creates the journal database at cfg.Path if needed and prunes it.
func Open(ctx context.Context, cfg config.JournalConfig, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(2000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	if err := s.Prune(ctx); err != nil {
		logger.Warn("journal prune on open failed", "err", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    provider TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER,
    outcome TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    audio_bytes INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SessionStarted records a task that is in flight.
func (s *Store) SessionStarted(ctx context.Context, record ports.SessionRecord) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, provider, started_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		record.ID, record.Provider, record.StartedAt.UnixMilli())
	if err != nil {
		s.logger.Warn("journal insert failed", "session", record.ID, "err", err)
	}
}

// SessionEnded records how a task ended and applies retention.
func (s *Store) SessionEnded(ctx context.Context, record ports.SessionRecord) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, provider, started_at, ended_at, outcome, error, audio_bytes)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   ended_at=excluded.ended_at,
		   outcome=excluded.outcome,
		   error=excluded.error,
		   audio_bytes=excluded.audio_bytes`,
		record.ID, record.Provider, record.StartedAt.UnixMilli(), record.EndedAt.UnixMilli(),
		string(record.Outcome), record.Error, record.AudioBytes)
	if err != nil {
		s.logger.Warn("journal update failed", "session", record.ID, "err", err)
		return
	}
	if err := s.Prune(ctx); err != nil {
		s.logger.Warn("journal prune failed", "err", err)
	}
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]ports.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, provider, started_at, ended_at, outcome, error, audio_bytes
		 FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ports.SessionRecord
	for rows.Next() {
		var (
			rec     ports.SessionRecord
			started int64
			ended   sql.NullInt64
			outcome string
		)
		if err := rows.Scan(&rec.ID, &rec.Provider, &started, &ended, &outcome, &rec.Error, &rec.AudioBytes); err != nil {
			return nil, err
		}
		rec.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			rec.EndedAt = time.UnixMilli(ended.Int64)
		}
		rec.Outcome = domain.SessionOutcome(outcome)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune keeps the newest MaxSessions rows. Zero keeps everything.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.MaxSessions <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
	return err
}
