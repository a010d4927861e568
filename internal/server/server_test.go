package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/solterra/agroform/internal/catalog"
	"github.com/solterra/agroform/internal/enrich"
	"github.com/solterra/agroform/internal/extract"
	"github.com/solterra/agroform/internal/flow"
	"github.com/solterra/agroform/internal/llm"
	"github.com/solterra/agroform/internal/session"
)

const testCatalog = `
first_question: cultivo
questions:
  - id: cultivo
    text: "¿Qué cultivo vas a plantar?"
    input: text
    routing:
      next: riego
  - id: riego
    text: "¿La parcela tiene riego?"
    input: select
    options: ["sí", "no"]
    routing:
      select:
        "sí": superficie
        "no": end
  - id: superficie
    text: "¿Cuántas hectáreas?"
    input: number
  - id: aviso
    text: "Recuerda revisar la normativa local."
    input: info
`

type stubOracle struct {
	response string
	err      error
}

func (s *stubOracle) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	return s.response, s.err
}

func (s *stubOracle) Name() string { return "stub" }

func newTestRouter(t *testing.T, oracle llm.Provider) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cat, err := catalog.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parsing catalog: %v", err)
	}
	if oracle == nil {
		oracle = &stubOracle{response: "{}"}
	}
	return NewRouter(RouterConfig{
		Catalog:  cat,
		Engine:   flow.NewEngine(cat, session.NewMemoryStore(), nil),
		Pipeline: extract.NewPipeline(oracle, nil),
		Enricher: enrich.New(oracle, nil),
	})
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var parsed map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("decoding response %q: %v", w.Body.String(), err)
		}
	}
	return w, parsed
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, nil)
	w, body := doJSON(t, router, "GET", "/health", nil)
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", w.Code, body)
	}
}

func TestFlowRoundTrip(t *testing.T) {
	router := newTestRouter(t, nil)

	w, body := doJSON(t, router, "POST", "/start", map[string]any{})
	if w.Code != http.StatusCreated {
		t.Fatalf("start = %d %v", w.Code, body)
	}
	sid, _ := body["session_id"].(string)
	if sid == "" {
		t.Fatal("missing generated session_id")
	}
	question := body["question"].(map[string]any)
	if question["id"] != "cultivo" {
		t.Fatalf("first question = %v", question)
	}

	w, body = doJSON(t, router, "POST", "/answer", map[string]any{"session_id": sid, "answer": "tomate"})
	if w.Code != http.StatusOK {
		t.Fatalf("answer 1 = %d %v", w.Code, body)
	}
	if body["question"].(map[string]any)["id"] != "riego" {
		t.Fatalf("next question = %v", body)
	}

	w, body = doJSON(t, router, "POST", "/answer", map[string]any{"session_id": sid, "answer": "no"})
	if w.Code != http.StatusOK {
		t.Fatalf("answer 2 = %d %v", w.Code, body)
	}
	if body["end"] != true {
		t.Fatalf("expected end marker: %v", body)
	}
	answers := body["answers"].(map[string]any)
	if answers["cultivo"] != "tomate" || answers["riego"] != "no" {
		t.Errorf("answers = %v", answers)
	}

	// The finished session rejects further answers.
	w, _ = doJSON(t, router, "POST", "/answer", map[string]any{"session_id": sid, "answer": "x"})
	if w.Code != http.StatusConflict {
		t.Errorf("answer after end = %d", w.Code)
	}
}

func TestStartWithSeedAndDuplicate(t *testing.T) {
	router := newTestRouter(t, nil)

	w, _ := doJSON(t, router, "POST", "/start", map[string]any{
		"session_id":       "s1",
		"existing_answers": map[string]any{"cultivo": "olivo"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("start = %d", w.Code)
	}

	w, _ = doJSON(t, router, "POST", "/start", map[string]any{"session_id": "s1"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate start = %d", w.Code)
	}

	w, body := doJSON(t, router, "GET", "/sessions/s1/answers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("answers = %d", w.Code)
	}
	if body["answers"].(map[string]any)["cultivo"] != "olivo" {
		t.Errorf("seed lost: %v", body)
	}
}

func TestAnswerErrors(t *testing.T) {
	router := newTestRouter(t, nil)

	w, _ := doJSON(t, router, "POST", "/answer", map[string]any{"session_id": "ghost", "answer": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session = %d", w.Code)
	}

	doJSON(t, router, "POST", "/start", map[string]any{"session_id": "s1"})
	w, _ = doJSON(t, router, "POST", "/answer", map[string]any{"session_id": "s1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing answer = %d", w.Code)
	}
}

func TestEdit(t *testing.T) {
	router := newTestRouter(t, nil)
	doJSON(t, router, "POST", "/start", map[string]any{"session_id": "s1"})
	doJSON(t, router, "POST", "/answer", map[string]any{"session_id": "s1", "answer": "tomate"})

	w, body := doJSON(t, router, "POST", "/edit", map[string]any{
		"session_id": "s1", "field": "cultivo", "value": "pimiento",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("edit = %d %v", w.Code, body)
	}
	if body["reflowed"] != true {
		t.Errorf("expected reflow: %v", body)
	}

	w, _ = doJSON(t, router, "POST", "/edit", map[string]any{
		"session_id": "s1", "field": "inventado", "value": "x",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown field = %d", w.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	router := newTestRouter(t, nil)
	doJSON(t, router, "POST", "/start", map[string]any{"session_id": "s1"})

	req := httptest.NewRequest("DELETE", "/sessions/s1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}

	w2, _ := doJSON(t, router, "GET", "/sessions/s1/answers", nil)
	if w2.Code != http.StatusNotFound {
		t.Errorf("answers after delete = %d", w2.Code)
	}
}

func TestGenerateQuestion(t *testing.T) {
	router := newTestRouter(t, &stubOracle{response: "¿Cuál es el destino del producto?"})

	w, body := doJSON(t, router, "POST", "/generate_question", map[string]any{"input": "destino"})
	if w.Code != http.StatusOK || body["question"] != "¿Cuál es el destino del producto?" {
		t.Errorf("generate_question = %d %v", w.Code, body)
	}

	w, _ = doJSON(t, router, "POST", "/generate_question", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing input = %d", w.Code)
	}
}

func TestExtractProjectData(t *testing.T) {
	router := newTestRouter(t, &stubOracle{response: `{"cultivo": "tomate", "superficie": 5}`})

	w, body := doJSON(t, router, "POST", "/extract_project_data", map[string]any{
		"description": "cinco hectáreas de tomate",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("extract = %d %v", w.Code, body)
	}
	data := body["data"].(map[string]any)
	if data["cultivo"] != "tomate" || data["superficie"] != float64(5) {
		t.Errorf("data = %v", data)
	}
	auto := body["auto_completed_fields"].([]any)
	if len(auto) != 2 {
		t.Errorf("auto_completed_fields = %v", auto)
	}

	w, _ = doJSON(t, router, "POST", "/extract_project_data", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing description = %d", w.Code)
	}
}
