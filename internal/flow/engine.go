// Package flow drives the guided questionnaire: one session per
// conversation, one question at a time, with routing between questions
// resolved from the catalog's rules over the accumulated answers.
//
// Routing is fail-safe by design: a rule that references a question the
// catalog does not know, or a conditional expression that cannot be
// evaluated, finishes the flow instead of failing the request. The flow
// must always make forward progress; those incidents are logged and
// nothing more.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solterra/agroform/internal/catalog"
	"github.com/solterra/agroform/internal/condition"
	"github.com/solterra/agroform/internal/logger"
	"github.com/solterra/agroform/internal/session"
)

// Session errors reported to the caller as rejected operations.
var (
	ErrDuplicateSession = errors.New("session already active")
	ErrUnknownSession   = errors.New("unknown session")
	ErrTerminalSession  = errors.New("session already finished")
	ErrInvalidAnswer    = errors.New("answer is required")
	ErrUnknownField     = errors.New("unknown field")
)

// Question is the caller-facing view of a catalog entry.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Input   string   `json:"type"`
	Options []string `json:"options,omitempty"`
}

// TurnResult is the outcome of a Submit: either the next question or,
// when the flow terminated, the full answer set.
type TurnResult struct {
	Done     bool
	Question *Question
	Answers  map[string]any
}

// EditResult is the outcome of an Edit.
type EditResult struct {
	// Reflowed is true when the edited key was a known question and
	// routing was re-resolved from it with the new value.
	Reflowed bool
	Done     bool
	Question *Question
}

// Engine resolves routing per session on top of a SessionStore.
type Engine struct {
	catalog *catalog.Catalog
	store   session.Store
	log     *logger.Logger
}

// NewEngine creates a flow engine over the given catalog and store.
func NewEngine(cat *catalog.Catalog, store session.Store, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{catalog: cat, store: store, log: log}
}

// Start creates a session and returns the first question. seedAnswers
// pre-populates the answer map (typically with extraction output); it
// may be nil.
func (e *Engine) Start(ctx context.Context, sessionID string, seedAnswers map[string]any) (*Question, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	var first *Question
	err := e.store.WithLock(ctx, sessionID, func() error {
		if _, err := e.store.Get(ctx, sessionID); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateSession, sessionID)
		} else if !errors.Is(err, session.ErrNotFound) {
			return err
		}

		answers := make(map[string]any, len(seedAnswers))
		for k, v := range seedAnswers {
			answers[k] = v
		}
		now := time.Now().UTC()
		sess := &session.Session{
			ID:                sessionID,
			Answers:           answers,
			CurrentQuestionID: e.catalog.FirstID(),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := e.store.Put(ctx, sess); err != nil {
			return err
		}
		first = viewOf(e.catalog.First())
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Debug("flow: session started", "session_id", sessionID, "first_question", first.ID)
	return first, nil
}

// Submit records the answer for the current question, appends it to the
// audit history, and advances the session along its routing rule.
func (e *Engine) Submit(ctx context.Context, sessionID string, answer any) (*TurnResult, error) {
	if answer == nil {
		return nil, ErrInvalidAnswer
	}

	var result *TurnResult
	err := e.store.WithLock(ctx, sessionID, func() error {
		sess, err := e.store.Get(ctx, sessionID)
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
		if err != nil {
			return err
		}
		if catalog.Terminal(sess.CurrentQuestionID) {
			return fmt.Errorf("%w: %s", ErrTerminalSession, sessionID)
		}

		current, ok := e.catalog.Get(sess.CurrentQuestionID)
		if !ok {
			// The stored position no longer exists in the catalog
			// (catalog changed under a live session). Finish the flow.
			e.log.Warn("flow: current question missing from catalog, terminating",
				"session_id", sessionID, "question_id", sess.CurrentQuestionID)
			sess.CurrentQuestionID = catalog.TerminalID
			sess.UpdatedAt = time.Now().UTC()
			if err := e.store.Put(ctx, sess); err != nil {
				return err
			}
			result = &TurnResult{Done: true, Answers: sess.Answers}
			return nil
		}

		if sess.Answers == nil {
			sess.Answers = make(map[string]any)
		}
		sess.Answers[current.ID] = answer
		sess.History = append(sess.History, session.HistoryEntry{QuestionID: current.ID, Answer: answer})

		nextID := e.ResolveNext(current, answer, sess.Answers)
		sess.CurrentQuestionID = nextID
		sess.UpdatedAt = time.Now().UTC()
		if err := e.store.Put(ctx, sess); err != nil {
			return err
		}

		if catalog.Terminal(nextID) {
			result = &TurnResult{Done: true, Answers: sess.Answers}
			return nil
		}
		next, _ := e.catalog.Get(nextID)
		result = &TurnResult{Question: viewOf(next)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Edit overwrites a single answer in place. History is never rewritten
// or pruned: the audit trail keeps the original answers, only the live
// answer map changes. When the edited key is a known question, routing
// re-resolves from it with the new value and the session moves there.
func (e *Engine) Edit(ctx context.Context, sessionID, key string, value any) (*EditResult, error) {
	if value == nil {
		return nil, ErrInvalidAnswer
	}

	var result *EditResult
	err := e.store.WithLock(ctx, sessionID, func() error {
		sess, err := e.store.Get(ctx, sessionID)
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
		if err != nil {
			return err
		}

		question, isQuestion := e.catalog.Get(key)
		if _, answered := sess.Answers[key]; !answered && !isQuestion {
			return fmt.Errorf("%w: %s", ErrUnknownField, key)
		}

		if sess.Answers == nil {
			sess.Answers = make(map[string]any)
		}
		sess.Answers[key] = value
		sess.UpdatedAt = time.Now().UTC()

		result = &EditResult{}
		if isQuestion {
			nextID := e.ResolveNext(question, value, sess.Answers)
			sess.CurrentQuestionID = nextID
			result.Reflowed = true
			if catalog.Terminal(nextID) {
				result.Done = true
			} else {
				next, _ := e.catalog.Get(nextID)
				result.Question = viewOf(next)
			}
		}
		return e.store.Put(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Answers returns a copy of the session's current answer map.
func (e *Engine) Answers(ctx context.Context, sessionID string) (map[string]any, error) {
	sess, err := e.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return sess.Answers, nil
}

// History returns the session's append-only turn history.
func (e *Engine) History(ctx context.Context, sessionID string) ([]session.HistoryEntry, error) {
	sess, err := e.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return sess.History, nil
}

// Delete destroys a session. Sessions are only removed by explicit
// caller action; there is no automatic expiry.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	err := e.store.Delete(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return err
}

// ResolveNext applies a question's routing rule to an answer and
// returns the next question id, or the terminal sentinel when the flow
// is done. It never fails: dangling targets and condition evaluation
// errors resolve to terminal and are logged as warnings.
func (e *Engine) ResolveNext(q catalog.QuestionDefinition, answer any, answers map[string]any) string {
	switch q.Routing.Kind {
	case catalog.RuleNone:
		return catalog.TerminalID

	case catalog.RuleDirect:
		return e.checked(q.ID, q.Routing.Next)

	case catalog.RuleSelection:
		target, ok := q.Routing.Select[condition.Stringify(answer)]
		if !ok {
			return catalog.TerminalID
		}
		return e.checked(q.ID, target)

	case catalog.RuleConditional:
		cond := q.Routing.Condition
		match, err := condition.Evaluate(cond.Expr, answer)
		if err != nil {
			e.log.Warn("flow: condition evaluation failed, terminating branch",
				"question_id", q.ID, "expr", cond.Expr, "error", err)
			return catalog.TerminalID
		}
		if match {
			return e.checked(q.ID, cond.IfTrue)
		}
		return e.checked(q.ID, cond.IfFalse)

	default:
		return catalog.TerminalID
	}
}

// checked validates a routing target against the catalog. Unknown ids
// route to terminal rather than crashing the session.
func (e *Engine) checked(fromID, target string) string {
	if catalog.Terminal(target) {
		return catalog.TerminalID
	}
	if _, ok := e.catalog.Get(target); !ok {
		e.log.Warn("flow: routing rule references unknown question, terminating",
			"question_id", fromID, "target", target)
		return catalog.TerminalID
	}
	return target
}

func viewOf(q catalog.QuestionDefinition) *Question {
	return &Question{
		ID:      q.ID,
		Text:    q.Text,
		Input:   string(q.Input),
		Options: q.Options,
	}
}
