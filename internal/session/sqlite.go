package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions in a single SQLite database file so a
// deployment can restart without dropping in-flight conversations.
// Answers and history are stored as JSON columns; answer values come
// back with JSON's scalar types (numbers as float64), which is the
// same shape extraction produces.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	answers          TEXT NOT NULL DEFAULT '{}',
	history          TEXT NOT NULL DEFAULT '[]',
	current_question TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
);
`

// NewSQLiteStore opens (creating if needed) the session database at
// path. Pass ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("session db path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating session db directory: %w", err)
		}
	}

	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}
	// modernc sqlite supports one writer; a single connection avoids
	// database-locked errors under concurrent sessions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing session schema: %w", err)
	}

	return &SQLiteStore{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, answers, history, current_question, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)

	var (
		sess                 Session
		answersJSON, history string
	)
	err := row.Scan(&sess.ID, &answersJSON, &history, &sess.CurrentQuestionID,
		&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(answersJSON), &sess.Answers); err != nil {
		return nil, fmt.Errorf("decoding answers for session %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(history), &sess.History); err != nil {
		return nil, fmt.Errorf("decoding history for session %s: %w", id, err)
	}
	if sess.Answers == nil {
		sess.Answers = make(map[string]any)
	}
	return &sess, nil
}

func (s *SQLiteStore) Put(ctx context.Context, sess *Session) error {
	answersJSON, err := json.Marshal(sess.Answers)
	if err != nil {
		return fmt.Errorf("encoding answers for session %s: %w", sess.ID, err)
	}
	historyJSON, err := json.Marshal(sess.History)
	if err != nil {
		return fmt.Errorf("encoding history for session %s: %w", sess.ID, err)
	}

	created := sess.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := sess.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, answers, history, current_question, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			answers = excluded.answers,
			history = excluded.history,
			current_question = excluded.current_question,
			updated_at = excluded.updated_at`,
		sess.ID, string(answersJSON), string(historyJSON), sess.CurrentQuestionID,
		created, updated)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) WithLock(ctx context.Context, id string, fn func() error) error {
	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) sessionLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}
