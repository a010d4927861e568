package flow

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/solterra/agroform/internal/catalog"
	"github.com/solterra/agroform/internal/logger"
	"github.com/solterra/agroform/internal/session"
)

func testCatalog(t *testing.T, yaml string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parsing test catalog: %v", err)
	}
	return c
}

func newEngine(t *testing.T, yaml string) *Engine {
	t.Helper()
	return NewEngine(testCatalog(t, yaml), session.NewMemoryStore(), logger.NewNop())
}

const branchingYAML = `
first_question: q1
questions:
  - id: q1
    text: "¿Desea continuar?"
    input: select
    options: ["yes", "no"]
    routing:
      select:
        "yes": q2
        "no": end
  - id: q2
    text: "Comentario final"
`

func TestStartSubmitScenario(t *testing.T) {
	// Catalog: Q1 selection {"yes": Q2, "no": end}, Q2 terminal.
	// Start -> Q1; Submit("yes") -> Q2; Submit("anything") -> done.
	e := newEngine(t, branchingYAML)
	ctx := context.Background()

	first, err := e.Start(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if first.ID != "q1" {
		t.Fatalf("first question = %q, want q1", first.ID)
	}

	turn, err := e.Submit(ctx, "s1", "yes")
	if err != nil {
		t.Fatalf("Submit(yes): %v", err)
	}
	if turn.Done || turn.Question == nil || turn.Question.ID != "q2" {
		t.Fatalf("expected q2 after yes, got %+v", turn)
	}

	turn, err = e.Submit(ctx, "s1", "anything")
	if err != nil {
		t.Fatalf("Submit(anything): %v", err)
	}
	if !turn.Done {
		t.Fatal("expected termination after q2")
	}
	want := map[string]any{"q1": "yes", "q2": "anything"}
	if !reflect.DeepEqual(turn.Answers, want) {
		t.Errorf("final answers = %v, want %v", turn.Answers, want)
	}
}

func TestSelectionAbsentKeyTerminates(t *testing.T) {
	e := newEngine(t, branchingYAML)
	ctx := context.Background()

	if _, err := e.Start(ctx, "s1", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	turn, err := e.Submit(ctx, "s1", "maybe")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !turn.Done {
		t.Error("answer outside the selection table must terminate")
	}
}

func TestDirectRoutingIgnoresAnswer(t *testing.T) {
	const yaml = `
first_question: q1
questions:
  - id: q1
    text: a
    routing:
      next: q2
  - id: q2
    text: b
`
	e := newEngine(t, yaml)
	ctx := context.Background()

	for i, answer := range []any{"yes", "no", 42.0, "cualquier cosa"} {
		sid := string(rune('a' + i))
		if _, err := e.Start(ctx, sid, nil); err != nil {
			t.Fatalf("Start: %v", err)
		}
		turn, err := e.Submit(ctx, sid, answer)
		if err != nil {
			t.Fatalf("Submit(%v): %v", answer, err)
		}
		if turn.Done || turn.Question.ID != "q2" {
			t.Errorf("direct rule with answer %v routed to %+v, want q2", answer, turn)
		}
	}
}

func TestConditionalRouting(t *testing.T) {
	const yaml = `
first_question: area
questions:
  - id: area
    text: "¿Cuántas hectáreas?"
    input: number
    routing:
      condition:
        expr: "answer_num >= 10"
        if_true: big
        if_false: small
  - id: big
    text: grande
  - id: small
    text: pequeño
`
	e := newEngine(t, yaml)
	ctx := context.Background()

	cases := []struct {
		answer any
		want   string
	}{
		{"25", "big"},
		{"3", "small"},
		{10.0, "big"},
	}
	for i, tc := range cases {
		sid := string(rune('a' + i))
		if _, err := e.Start(ctx, sid, nil); err != nil {
			t.Fatalf("Start: %v", err)
		}
		turn, err := e.Submit(ctx, sid, tc.answer)
		if err != nil {
			t.Fatalf("Submit(%v): %v", tc.answer, err)
		}
		if turn.Done || turn.Question.ID != tc.want {
			t.Errorf("answer %v routed to %+v, want %s", tc.answer, turn, tc.want)
		}
	}
}

func TestConditionalEvaluationFailureIsFailSafe(t *testing.T) {
	// answer_num on a non-numeric answer is an evaluation error; the
	// flow terminates instead of surfacing it to the caller.
	const yaml = `
first_question: area
questions:
  - id: area
    text: a
    routing:
      condition:
        expr: "answer_num >= 10"
        if_true: big
        if_false: big
  - id: big
    text: b
`
	e := newEngine(t, yaml)
	ctx := context.Background()

	if _, err := e.Start(ctx, "s1", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	turn, err := e.Submit(ctx, "s1", "no lo sé")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !turn.Done {
		t.Error("evaluation failure must resolve to terminal, not error")
	}
}

func TestDanglingRoutingTargetTerminates(t *testing.T) {
	const yaml = `
first_question: q1
questions:
  - id: q1
    text: a
    routing:
      next: ghost
`
	e := newEngine(t, yaml)
	ctx := context.Background()

	if _, err := e.Start(ctx, "s1", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	turn, err := e.Submit(ctx, "s1", "x")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !turn.Done {
		t.Error("dangling routing target must terminate, not crash")
	}
}

func TestDuplicateSession(t *testing.T) {
	e := newEngine(t, branchingYAML)
	ctx := context.Background()

	if _, err := e.Start(ctx, "dup", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.Start(ctx, "dup", nil); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("expected ErrDuplicateSession, got %v", err)
	}
}

func TestSubmitSessionErrors(t *testing.T) {
	e := newEngine(t, branchingYAML)
	ctx := context.Background()

	if _, err := e.Submit(ctx, "ghost", "x"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}

	if _, err := e.Start(ctx, "s1", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.Submit(ctx, "s1", nil); !errors.Is(err, ErrInvalidAnswer) {
		t.Errorf("expected ErrInvalidAnswer, got %v", err)
	}

	if _, err := e.Submit(ctx, "s1", "no"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := e.Submit(ctx, "s1", "again"); !errors.Is(err, ErrTerminalSession) {
		t.Errorf("expected ErrTerminalSession, got %v", err)
	}
}

func TestSubmitIsDeterministic(t *testing.T) {
	// Two sessions fed the same answer sequence produce identical
	// history and identical termination data.
	e := newEngine(t, branchingYAML)
	ctx := context.Background()
	answers := []any{"yes", "final comment"}

	run := func(sid string) (map[string]any, []session.HistoryEntry) {
		if _, err := e.Start(ctx, sid, map[string]any{"seed": "v"}); err != nil {
			t.Fatalf("Start(%s): %v", sid, err)
		}
		var last *TurnResult
		for _, a := range answers {
			turn, err := e.Submit(ctx, sid, a)
			if err != nil {
				t.Fatalf("Submit(%s, %v): %v", sid, a, err)
			}
			last = turn
		}
		if !last.Done {
			t.Fatalf("session %s did not terminate", sid)
		}
		hist, err := e.History(ctx, sid)
		if err != nil {
			t.Fatalf("History(%s): %v", sid, err)
		}
		return last.Answers, hist
	}

	answersA, histA := run("a")
	answersB, histB := run("b")

	if !reflect.DeepEqual(answersA, answersB) {
		t.Errorf("answer maps differ: %v vs %v", answersA, answersB)
	}
	if !reflect.DeepEqual(histA, histB) {
		t.Errorf("histories differ: %v vs %v", histA, histB)
	}
}

func TestStartSeedsAnswers(t *testing.T) {
	e := newEngine(t, branchingYAML)
	ctx := context.Background()

	seed := map[string]any{"Destino": "Almería", "Referencia": "R-42"}
	if _, err := e.Start(ctx, "s1", seed); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got, err := e.Answers(ctx, "s1")
	if err != nil {
		t.Fatalf("Answers: %v", err)
	}
	for k, v := range seed {
		if got[k] != v {
			t.Errorf("seeded answer %s = %v, want %v", k, got[k], v)
		}
	}
}

func TestEditOverwritesWithoutRewritingHistory(t *testing.T) {
	e := newEngine(t, branchingYAML)
	ctx := context.Background()

	if _, err := e.Start(ctx, "s1", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.Submit(ctx, "s1", "yes"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	res, err := e.Edit(ctx, "s1", "q1", "no")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if !res.Reflowed {
		t.Error("editing a known question must reflow")
	}
	if !res.Done {
		t.Error("q1=no routes to end, edit should report termination")
	}

	answers, _ := e.Answers(ctx, "s1")
	if answers["q1"] != "no" {
		t.Errorf("live answer = %v, want no", answers["q1"])
	}

	hist, _ := e.History(ctx, "s1")
	if len(hist) != 1 || hist[0].Answer != "yes" {
		t.Errorf("history must keep the original answer, got %+v", hist)
	}
}

func TestEditReflowsToNewBranch(t *testing.T) {
	e := newEngine(t, branchingYAML)
	ctx := context.Background()

	if _, err := e.Start(ctx, "s1", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.Submit(ctx, "s1", "no"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Session is terminal; editing q1 back to "yes" reopens it at q2.
	res, err := e.Edit(ctx, "s1", "q1", "yes")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if !res.Reflowed || res.Done || res.Question == nil || res.Question.ID != "q2" {
		t.Fatalf("expected reflow to q2, got %+v", res)
	}

	turn, err := e.Submit(ctx, "s1", "done")
	if err != nil {
		t.Fatalf("Submit after reflow: %v", err)
	}
	if !turn.Done {
		t.Error("expected termination after reopened q2")
	}
}

func TestEditNonQuestionField(t *testing.T) {
	e := newEngine(t, branchingYAML)
	ctx := context.Background()

	if _, err := e.Start(ctx, "s1", map[string]any{"Destino": "Murcia"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	res, err := e.Edit(ctx, "s1", "Destino", "Almería")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if res.Reflowed {
		t.Error("editing a free-form field must not reflow")
	}
	answers, _ := e.Answers(ctx, "s1")
	if answers["Destino"] != "Almería" {
		t.Errorf("Destino = %v", answers["Destino"])
	}

	if _, err := e.Edit(ctx, "s1", "NoExiste", "x"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
	if _, err := e.Edit(ctx, "ghost", "Destino", "x"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	e := newEngine(t, branchingYAML)
	ctx := context.Background()

	if _, err := e.Start(ctx, "s1", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.Submit(ctx, "s1", "x"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession after delete, got %v", err)
	}
	if err := e.Delete(ctx, "s1"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession deleting twice, got %v", err)
	}
}
