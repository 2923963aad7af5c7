// Package rules compiles and evaluates threat rules against batches of
// stored events. Expression rules are boolean predicates over event fields;
// frequency rules count identified sightings per person inside a window.
package rules

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Resolver supplies field values for a dot-separated path during evaluation.
type Resolver interface {
	Resolve(path []string) (interface{}, bool)
}

// Expr is a parsed predicate node.
type Expr interface {
	Eval(r Resolver) (bool, error)
}

type logicExpr struct {
	op    string // "AND" | "OR"
	left  Expr
	right Expr
}

func (e *logicExpr) Eval(r Resolver) (bool, error) {
	left, err := e.left.Eval(r)
	if err != nil {
		return false, err
	}
	if e.op == "AND" && !left {
		return false, nil
	}
	if e.op == "OR" && left {
		return true, nil
	}
	return e.right.Eval(r)
}

type notExpr struct {
	inner Expr
}

func (e *notExpr) Eval(r Resolver) (bool, error) {
	v, err := e.inner.Eval(r)
	if err != nil {
		return false, err
	}
	return !v, nil
}

type compareExpr struct {
	left  operand
	op    string
	right operand
}

func (e *compareExpr) Eval(r Resolver) (bool, error) {
	left, err := e.left.value(r)
	if err != nil {
		return false, err
	}
	right, err := e.right.value(r)
	if err != nil {
		return false, err
	}
	return compare(e.op, left, right)
}

type operand struct {
	literal interface{}
	path    []string // set when the operand is a field reference
}

func (o operand) value(r Resolver) (interface{}, error) {
	if o.path == nil {
		return o.literal, nil
	}
	v, ok := r.Resolve(o.path)
	if !ok {
		return nil, fmt.Errorf("unknown field %q", strings.Join(o.path, "."))
	}
	return v, nil
}

func compare(op string, left, right interface{}) (bool, error) {
	switch op {
	case "==":
		return valuesEqual(left, right), nil
	case "!=":
		return !valuesEqual(left, right), nil
	case ">", ">=", "<", "<=":
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if !lok || !rok {
			return false, fmt.Errorf("operator %s needs numeric operands, got %T and %T", op, left, right)
		}
		switch op {
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		case "<":
			return lf < rf, nil
		default:
			return lf <= rf, nil
		}
	case "contains":
		ls, ok := left.(string)
		if !ok {
			return false, fmt.Errorf("contains needs a string left operand, got %T", left)
		}
		return strings.Contains(ls, fmt.Sprintf("%v", right)), nil
	case "matches":
		ls, ok := left.(string)
		if !ok {
			return false, fmt.Errorf("matches needs a string left operand, got %T", left)
		}
		pattern, ok := right.(string)
		if !ok {
			return false, fmt.Errorf("matches needs a string pattern, got %T", right)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		return re.MatchString(ls), nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func valuesEqual(left, right interface{}) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// -------------------------------------------------------------------------
// Scanner
// -------------------------------------------------------------------------

type tokenKind int

const (
	tokField tokenKind = iota
	tokOp
	tokString
	tokNumber
	tokBool
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
}

func scan(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		ch := input[i]
		if unicode.IsSpace(rune(ch)) {
			i++
			continue
		}
		switch ch {
		case '(':
			tokens = append(tokens, token{tokLParen, "("})
			i++
			continue
		case ')':
			tokens = append(tokens, token{tokRParen, ")"})
			i++
			continue
		case '=', '!', '<', '>':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{tokOp, input[i : i+2]})
				i += 2
			} else {
				tokens = append(tokens, token{tokOp, string(ch)})
				i++
			}
			continue
		case '"', '\'':
			quote := ch
			j := i + 1
			for j < len(input) && input[j] != quote {
				if input[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(input) {
				return nil, fmt.Errorf("unterminated string at position %d", i)
			}
			inner := strings.NewReplacer(`\"`, `"`, `\'`, `'`, `\\`, `\`).Replace(input[i+1 : j])
			tokens = append(tokens, token{tokString, inner})
			i = j + 1
			continue
		}
		if unicode.IsDigit(rune(ch)) || (ch == '-' && i+1 < len(input) && unicode.IsDigit(rune(input[i+1]))) {
			j := i + 1
			for j < len(input) && (unicode.IsDigit(rune(input[j])) || input[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, input[i:j]})
			i = j
			continue
		}
		if unicode.IsLetter(rune(ch)) || ch == '_' {
			j := i
			for j < len(input) && (unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j])) || input[j] == '_' || input[j] == '.') {
				j++
			}
			word := input[i:j]
			if lw := strings.ToLower(word); lw == "true" || lw == "false" {
				tokens = append(tokens, token{tokBool, lw})
			} else {
				tokens = append(tokens, token{tokField, word})
			}
			i = j
			continue
		}
		return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
	}
	return append(tokens, token{tokEOF, ""}), nil
}

// -------------------------------------------------------------------------
// Recursive-descent parser, precedence NOT > AND > OR
// -------------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) peekKeyword(kw string) bool {
	t := p.peek()
	return t.kind == tokField && strings.EqualFold(t.val, kw)
}

// Parse compiles an expression string into an evaluable predicate.
func Parse(input string) (Expr, error) {
	tokens, err := scan(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q after expression", p.peek().val)
	}
	return node, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicExpr{op: "OR", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("AND") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &logicExpr{op: "AND", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.peekKeyword("NOT") {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected ) but got %q", p.peek().val)
		}
		p.next()
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	t := p.peek()
	var op string
	switch {
	case t.kind == tokOp:
		op = t.val
		p.next()
	case t.kind == tokField && strings.EqualFold(t.val, "contains"):
		op = "contains"
		p.next()
	case t.kind == tokField && strings.EqualFold(t.val, "matches"):
		op = "matches"
		p.next()
	default:
		return nil, fmt.Errorf("expected comparison operator, got %q", t.val)
	}

	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &compareExpr{left: left, op: op, right: right}, nil
}

func (p *parser) parseOperand() (operand, error) {
	t := p.peek()
	switch t.kind {
	case tokString:
		p.next()
		return operand{literal: t.val}, nil
	case tokNumber:
		p.next()
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return operand{}, fmt.Errorf("invalid number %q", t.val)
		}
		return operand{literal: f}, nil
	case tokBool:
		p.next()
		return operand{literal: t.val == "true"}, nil
	case tokField:
		p.next()
		return operand{path: strings.Split(t.val, ".")}, nil
	default:
		return operand{}, fmt.Errorf("expected operand, got %q", t.val)
	}
}
