// Package session defines the conversation session model and the
// SessionStore capability the flow engine depends on. Two stores ship:
// an in-memory map for ephemeral deployments and tests, and a SQLite
// store for deployments that need sessions to survive a restart. Both
// honor the same contract, including per-session mutual exclusion via
// WithLock.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no session exists for the given id.
var ErrNotFound = errors.New("session not found")

// HistoryEntry is one asked turn: the question that was on screen and
// the answer given to it. History is append-only; editing an answer
// later never rewrites it.
type HistoryEntry struct {
	QuestionID string `json:"question_id"`
	Answer     any    `json:"answer"`
}

// Session is the mutable per-conversation state.
type Session struct {
	ID                string         `json:"id"`
	Answers           map[string]any `json:"answers"`
	History           []HistoryEntry `json:"history"`
	CurrentQuestionID string         `json:"current_question_id"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Clone returns a deep copy. Stores hand out clones so callers can
// only change persisted state through Put.
func (s *Session) Clone() *Session {
	out := &Session{
		ID:                s.ID,
		Answers:           make(map[string]any, len(s.Answers)),
		History:           make([]HistoryEntry, len(s.History)),
		CurrentQuestionID: s.CurrentQuestionID,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	for k, v := range s.Answers {
		out.Answers[k] = v
	}
	copy(out.History, s.History)
	return out
}

// Store is the session persistence capability.
//
// WithLock serializes work against one session id: the flow engine runs
// every Submit/Edit inside it so concurrent calls against the same
// session cannot interleave. Calls for different ids are independent.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	WithLock(ctx context.Context, id string, fn func() error) error
	Close() error
}
