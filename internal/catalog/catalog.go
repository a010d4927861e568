// Package catalog holds the immutable question catalog that drives the
// guided form flow. The catalog is loaded once from a YAML file at
// startup and is read-only afterwards; all routing between questions is
// declared here, not in code.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TerminalID is the reserved question id that marks the end of a flow.
// Routing rules may point at it explicitly; resolving to it (or to any
// unknown id) finishes the session.
const TerminalID = "end"

// InputKind describes how a question expects to be answered.
type InputKind string

const (
	InputText    InputKind = "text"    // free text
	InputNumber  InputKind = "number"  // numeric value
	InputSelect  InputKind = "select"  // single choice from Options
	InputOptions InputKind = "options" // enumerated option set
	InputInfo    InputKind = "info"    // informational step, answer is an acknowledgement
)

// RuleKind identifies the routing rule attached to a question.
type RuleKind string

const (
	RuleNone        RuleKind = "none"
	RuleDirect      RuleKind = "direct"
	RuleSelection   RuleKind = "selection"
	RuleConditional RuleKind = "conditional"
)

// RoutingRule determines the next question id given an answer.
// Exactly one of Next, Select, Condition is populated, matching Kind.
type RoutingRule struct {
	Kind      RuleKind
	Next      string            // direct
	Select    map[string]string // stringified answer -> next id
	Condition *Condition        // conditional
}

// Condition is a boolean expression with a branch per outcome.
type Condition struct {
	Expr    string
	IfTrue  string
	IfFalse string
}

// QuestionDefinition is a single immutable catalog entry.
type QuestionDefinition struct {
	ID      string
	Text    string
	Input   InputKind
	Options []string
	Routing RoutingRule
}

// Terminal reports whether id means "no further question".
func Terminal(id string) bool {
	return id == "" || id == TerminalID
}

// Catalog is the loaded, validated question set.
type Catalog struct {
	firstID   string
	questions map[string]QuestionDefinition
	order     []string
}

// yaml wire format

type fileCatalog struct {
	FirstQuestion string         `yaml:"first_question"`
	Questions     []fileQuestion `yaml:"questions"`
}

type fileQuestion struct {
	ID      string       `yaml:"id"`
	Text    string       `yaml:"text"`
	Input   string       `yaml:"input"`
	Options []string     `yaml:"options"`
	Routing *fileRouting `yaml:"routing"`
}

type fileRouting struct {
	Next      string            `yaml:"next"`
	Select    map[string]string `yaml:"select"`
	Condition *fileCondition    `yaml:"condition"`
}

type fileCondition struct {
	Expr    string `yaml:"expr"`
	IfTrue  string `yaml:"if_true"`
	IfFalse string `yaml:"if_false"`
}

// Load reads and validates a catalog file. It fails when the file is
// missing or malformed, when the question list is empty, or when
// first_question does not name a known question.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return Parse(b)
}

// Parse builds a catalog from raw YAML bytes.
func Parse(b []byte) (*Catalog, error) {
	var fc fileCatalog
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(fc.Questions) == 0 {
		return nil, fmt.Errorf("catalog has no questions")
	}

	c := &Catalog{questions: make(map[string]QuestionDefinition, len(fc.Questions))}
	for _, q := range fc.Questions {
		id := strings.TrimSpace(q.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog question with empty id")
		}
		if id == TerminalID {
			return nil, fmt.Errorf("catalog question uses reserved id %q", TerminalID)
		}
		if _, dup := c.questions[id]; dup {
			return nil, fmt.Errorf("duplicate question id %q", id)
		}
		def, err := buildQuestion(id, q)
		if err != nil {
			return nil, err
		}
		c.questions[id] = def
		c.order = append(c.order, id)
	}

	first := strings.TrimSpace(fc.FirstQuestion)
	if first == "" {
		first = c.order[0]
	}
	if _, ok := c.questions[first]; !ok {
		return nil, fmt.Errorf("first_question %q is not in the catalog", first)
	}
	c.firstID = first
	return c, nil
}

func buildQuestion(id string, q fileQuestion) (QuestionDefinition, error) {
	kind := InputKind(strings.TrimSpace(strings.ToLower(q.Input)))
	if kind == "" {
		kind = InputText
	}
	switch kind {
	case InputText, InputNumber, InputSelect, InputOptions, InputInfo:
	default:
		return QuestionDefinition{}, fmt.Errorf("question %q: unknown input kind %q", id, q.Input)
	}

	rule, err := buildRouting(id, q.Routing)
	if err != nil {
		return QuestionDefinition{}, err
	}

	return QuestionDefinition{
		ID:      id,
		Text:    strings.TrimSpace(q.Text),
		Input:   kind,
		Options: q.Options,
		Routing: rule,
	}, nil
}

func buildRouting(id string, r *fileRouting) (RoutingRule, error) {
	if r == nil {
		return RoutingRule{Kind: RuleNone}, nil
	}

	populated := 0
	if strings.TrimSpace(r.Next) != "" {
		populated++
	}
	if len(r.Select) > 0 {
		populated++
	}
	if r.Condition != nil {
		populated++
	}
	if populated > 1 {
		return RoutingRule{}, fmt.Errorf("question %q: routing must be one of next/select/condition", id)
	}

	switch {
	case strings.TrimSpace(r.Next) != "":
		return RoutingRule{Kind: RuleDirect, Next: strings.TrimSpace(r.Next)}, nil
	case len(r.Select) > 0:
		return RoutingRule{Kind: RuleSelection, Select: r.Select}, nil
	case r.Condition != nil:
		cond := r.Condition
		if strings.TrimSpace(cond.Expr) == "" {
			return RoutingRule{}, fmt.Errorf("question %q: conditional routing with empty expression", id)
		}
		return RoutingRule{Kind: RuleConditional, Condition: &Condition{
			Expr:    cond.Expr,
			IfTrue:  strings.TrimSpace(cond.IfTrue),
			IfFalse: strings.TrimSpace(cond.IfFalse),
		}}, nil
	default:
		return RoutingRule{Kind: RuleNone}, nil
	}
}

// Get returns a question definition by id.
func (c *Catalog) Get(id string) (QuestionDefinition, bool) {
	q, ok := c.questions[id]
	return q, ok
}

// First returns the designated first question of the flow.
func (c *Catalog) First() QuestionDefinition {
	return c.questions[c.firstID]
}

// FirstID returns the id of the designated first question.
func (c *Catalog) FirstID() string {
	return c.firstID
}

// Len returns the number of questions in the catalog.
func (c *Catalog) Len() int {
	return len(c.order)
}

// IDs returns question ids in declaration order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Validate reports dangling routing references: rule targets that name
// no catalog question and are not the terminal sentinel. These are not
// load errors — at resolve time they route to terminal — but a
// deployment will want to know about them.
func (c *Catalog) Validate() []string {
	var warnings []string
	check := func(from, target string) {
		if Terminal(target) {
			return
		}
		if _, ok := c.questions[target]; !ok {
			warnings = append(warnings, fmt.Sprintf("question %q routes to unknown id %q", from, target))
		}
	}

	for _, id := range c.order {
		q := c.questions[id]
		switch q.Routing.Kind {
		case RuleDirect:
			check(id, q.Routing.Next)
		case RuleSelection:
			for _, target := range q.Routing.Select {
				check(id, target)
			}
		case RuleConditional:
			check(id, q.Routing.Condition.IfTrue)
			check(id, q.Routing.Condition.IfFalse)
		}
	}
	return warnings
}
