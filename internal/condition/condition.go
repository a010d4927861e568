// Package condition evaluates the boolean routing expressions attached
// to catalog questions.
//
// The grammar is deliberately tiny and closed: arithmetic, relational
// and equality operators, logical and/or/not, parentheses, numeric and
// string literals, and exactly two bound names — `answer` (the raw
// submitted value as a string) and `answer_num` (the value parsed as a
// number, absent from scope when parsing fails). Expressions come from
// configuration files, so there is no identifier resolution beyond
// those two names and no function calls of any kind.
package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// EvalError describes a failed expression evaluation. Routing treats
// any EvalError as "resolve to terminal"; it never aborts a session.
type EvalError struct {
	Expr   string
	Reason string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluating %q: %s", e.Expr, e.Reason)
}

// Evaluate runs expr against the submitted answer and returns the
// boolean outcome. Malformed expressions, unsupported operators,
// unknown identifiers, references to answer_num for a non-numeric
// answer, and non-boolean results all fail with *EvalError.
func Evaluate(expr string, answer any) (bool, error) {
	fail := func(format string, args ...any) (bool, error) {
		return false, &EvalError{Expr: expr, Reason: fmt.Sprintf(format, args...)}
	}

	tokens, err := lex(expr)
	if err != nil {
		return fail("%v", err)
	}

	p := &parser{tokens: tokens}
	node, err := p.parseExpr()
	if err != nil {
		return fail("%v", err)
	}
	if !p.atEOF() {
		return fail("unexpected token %q", p.peek().text)
	}

	scope := map[string]any{"answer": Stringify(answer)}
	if n, ok := asNumber(answer); ok {
		scope["answer_num"] = n
	}

	out, err := node.eval(scope)
	if err != nil {
		return fail("%v", err)
	}
	b, ok := out.(bool)
	if !ok {
		return fail("expression is not boolean (got %T)", out)
	}
	return b, nil
}

// Stringify renders an answer the way selection tables and the answer
// binding see it: numbers without a trailing ".0", booleans as
// "true"/"false", nil as the empty string.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// asNumber parses an answer as a float64. String answers tolerate a
// decimal comma ("5,5"), which Spanish-speaking users type routinely.
func asNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		s = strings.ReplaceAll(s, ",", ".")
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// --- lexer ---

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkNumber
	tkString
	tkIdent
	tkOp     // + - * / == != < <= > >= && || !
	tkLParen
	tkRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tkLParen, text: "("})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tkRParen, text: ")"})
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(src) && src[j] != quote {
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{kind: tkString, text: src[i+1 : j]})
			i = j + 1
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			n, err := strconv.ParseFloat(src[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", src[i:j])
			}
			tokens = append(tokens, token{kind: tkNumber, text: src[i:j], num: n})
			i = j
		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := src[i:j]
			switch word {
			case "and", "or", "not":
				tokens = append(tokens, token{kind: tkOp, text: word})
			case "true", "false":
				tokens = append(tokens, token{kind: tkIdent, text: word})
			default:
				tokens = append(tokens, token{kind: tkIdent, text: word})
			}
			i = j
		default:
			op, width, err := lexOperator(src[i:])
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tkOp, text: op})
			i += width
		}
	}
	tokens = append(tokens, token{kind: tkEOF})
	return tokens, nil
}

func lexOperator(s string) (string, int, error) {
	two := ""
	if len(s) >= 2 {
		two = s[:2]
	}
	switch two {
	case "==", "!=", "<=", ">=":
		return two, 2, nil
	case "&&":
		return "and", 2, nil
	case "||":
		return "or", 2, nil
	}
	switch s[0] {
	case '<', '>', '+', '-', '*', '/':
		return string(s[0]), 1, nil
	case '!':
		return "not", 1, nil
	case '=':
		return "", 0, fmt.Errorf("single '=' is not an operator, use '=='")
	}
	return "", 0, fmt.Errorf("unsupported character %q", string(s[0]))
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

// --- parser ---

type node interface {
	eval(scope map[string]any) (any, error)
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }
func (p *parser) next() token { t := p.tokens[p.pos]; p.pos++; return t }
func (p *parser) atEOF() bool { return p.peek().kind == tkEOF }

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tkOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

// expr     := orExpr
// orExpr   := andExpr ("or" andExpr)*
// andExpr  := notExpr ("and" notExpr)*
// notExpr  := "not" notExpr | cmpExpr
// cmpExpr  := sum (("=="|"!="|"<"|"<="|">"|">=") sum)?
// sum      := term (("+"|"-") term)*
// term     := unary (("*"|"/") unary)*
// unary    := "-" unary | primary
// primary  := NUMBER | STRING | IDENT | "(" expr ")"

func (p *parser) parseExpr() (node, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("or"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicNode{op: "or", left: left, right: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("and"); !ok {
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &logicNode{op: "and", left: left, right: right}
	}
}

func (p *parser) parseNot() (node, error) {
	if _, ok := p.acceptOp("not"); ok {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("==", "!=", "<", "<=", ">", ">=")
	if !ok {
		return left, nil
	}
	right, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	return &cmpNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseSum() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &arithNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &arithNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if _, ok := p.acceptOp("-"); ok {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tkNumber:
		return litNode{value: t.num}, nil
	case tkString:
		return litNode{value: t.text}, nil
	case tkIdent:
		switch t.text {
		case "true":
			return litNode{value: true}, nil
		case "false":
			return litNode{value: false}, nil
		}
		return identNode{name: t.text}, nil
	case tkLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tkRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	case tkEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

// --- evaluation ---

type litNode struct{ value any }

func (n litNode) eval(map[string]any) (any, error) { return n.value, nil }

type identNode struct{ name string }

func (n identNode) eval(scope map[string]any) (any, error) {
	v, ok := scope[n.name]
	if !ok {
		if n.name == "answer_num" {
			return nil, fmt.Errorf("answer_num is not defined: answer is not numeric")
		}
		return nil, fmt.Errorf("unknown identifier %q", n.name)
	}
	return v, nil
}

type negNode struct{ inner node }

func (n *negNode) eval(scope map[string]any) (any, error) {
	v, err := n.inner.eval(scope)
	if err != nil {
		return nil, err
	}
	num, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("cannot negate %T", v)
	}
	return -num, nil
}

type notNode struct{ inner node }

func (n *notNode) eval(scope map[string]any) (any, error) {
	v, err := n.inner.eval(scope)
	if err != nil {
		return nil, err
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("'not' requires a boolean operand, got %T", v)
	}
	return !b, nil
}

type logicNode struct {
	op          string
	left, right node
}

func (n *logicNode) eval(scope map[string]any) (any, error) {
	lv, err := n.left.eval(scope)
	if err != nil {
		return nil, err
	}
	lb, ok := lv.(bool)
	if !ok {
		return nil, fmt.Errorf("%q requires boolean operands, got %T", n.op, lv)
	}
	// No short-circuit: the right side must be well-formed regardless,
	// so configuration mistakes surface on the first evaluation.
	rv, err := n.right.eval(scope)
	if err != nil {
		return nil, err
	}
	rb, ok := rv.(bool)
	if !ok {
		return nil, fmt.Errorf("%q requires boolean operands, got %T", n.op, rv)
	}
	if n.op == "and" {
		return lb && rb, nil
	}
	return lb || rb, nil
}

type arithNode struct {
	op          string
	left, right node
}

func (n *arithNode) eval(scope map[string]any) (any, error) {
	lv, err := n.left.eval(scope)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(scope)
	if err != nil {
		return nil, err
	}
	ln, lok := lv.(float64)
	rn, rok := rv.(float64)
	if !lok || !rok {
		return nil, fmt.Errorf("arithmetic %q requires numbers, got %T and %T", n.op, lv, rv)
	}
	switch n.op {
	case "+":
		return ln + rn, nil
	case "-":
		return ln - rn, nil
	case "*":
		return ln * rn, nil
	case "/":
		if rn == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return ln / rn, nil
	}
	return nil, fmt.Errorf("unsupported arithmetic operator %q", n.op)
}

type cmpNode struct {
	op          string
	left, right node
}

func (n *cmpNode) eval(scope map[string]any) (any, error) {
	lv, err := n.left.eval(scope)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(scope)
	if err != nil {
		return nil, err
	}

	if ln, ok := lv.(float64); ok {
		rn, ok := rv.(float64)
		if !ok {
			return nil, fmt.Errorf("cannot compare number with %T", rv)
		}
		return compareNumbers(n.op, ln, rn), nil
	}
	if ls, ok := lv.(string); ok {
		rs, ok := rv.(string)
		if !ok {
			return nil, fmt.Errorf("cannot compare string with %T", rv)
		}
		return compareStrings(n.op, ls, rs), nil
	}
	if lb, ok := lv.(bool); ok {
		rb, ok := rv.(bool)
		if !ok {
			return nil, fmt.Errorf("cannot compare boolean with %T", rv)
		}
		switch n.op {
		case "==":
			return lb == rb, nil
		case "!=":
			return lb != rb, nil
		}
		return nil, fmt.Errorf("booleans only support == and !=")
	}
	return nil, fmt.Errorf("cannot compare %T values", lv)
}

func compareNumbers(op string, l, r float64) bool {
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	default:
		return l >= r
	}
}

func compareStrings(op string, l, r string) bool {
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	default:
		return l >= r
	}
}
