package engine

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Eval вычисляет выражение над контекстом.
//
// Поддерживаются литералы (числа, строки в одинарных или двойных
// кавычках, true/false/null), ссылки "{{path}}" и голые пути,
// операторы || && == != < <= > >= + - * / % и унарные ! -.
// Сравнение и арифметика работают на числах, "+" дополнительно
// склеивает строки. && и || вычисляются лениво.
func (c *ExecutionContext) Eval(expr string) (any, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrExpression, expr, err)
	}
	p := &exprParser{tokens: tokens}
	node, err := p.parseBinary(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrExpression, expr, err)
	}
	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("%w: %q: unexpected %q", ErrExpression, expr, p.peek().text)
	}
	v, err := node.eval(c)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// EvalCondition вычисляет условие и приводит результат к bool.
//
// Допустимые формы результата: bool, null (false), число (не ноль),
// строки "true"/"false". Остальное — ErrNotBoolean.
func (c *ExecutionContext) EvalCondition(expr string) (bool, error) {
	v, err := c.Eval(expr)
	if err != nil {
		return false, err
	}
	b, err := truthy(v)
	if err != nil {
		return false, fmt.Errorf("%w: condition %q evaluated to %T", ErrNotBoolean, expr, v)
	}
	return b, nil
}

// truthy приводит значение к bool.
func truthy(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case nil:
		return false, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			return true, nil
		case "false", "":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean string")
	default:
		if f, ok := toFloat(v); ok {
			return f != 0, nil
		}
		return false, fmt.Errorf("not a boolean value")
	}
}

// --- токены ---

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenString
	tokenBool
	tokenNull
	tokenRef
	tokenOp
	tokenLParen
	tokenRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

// tokenize разбивает выражение на токены.
// Ссылки "{{path}}" и голые пути становятся токенами tokenRef.
func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '{' && i+1 < len(expr) && expr[i+1] == '{':
			end := strings.Index(expr[i:], "}}")
			if end < 0 {
				return nil, fmt.Errorf("unterminated reference")
			}
			inner := strings.TrimSpace(expr[i+2 : i+end])
			tokens = append(tokens, token{kind: tokenRef, text: inner})
			i += end + 2
		case ch == '\'' || ch == '"':
			s, next, err := scanString(expr, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenString, text: s})
			i = next
		case ch >= '0' && ch <= '9' || ch == '.' && i+1 < len(expr) && expr[i+1] >= '0' && expr[i+1] <= '9':
			j := i
			for j < len(expr) && (expr[j] >= '0' && expr[j] <= '9' || expr[j] == '.') {
				j++
			}
			f, err := strconv.ParseFloat(expr[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", expr[i:j])
			}
			tokens = append(tokens, token{kind: tokenNumber, num: f})
			i = j
		case isIdentStart(ch):
			j := i
			for j < len(expr) && isIdentPart(expr[j]) {
				j++
			}
			word := expr[i:j]
			switch word {
			case "true":
				tokens = append(tokens, token{kind: tokenBool, text: word})
			case "false":
				tokens = append(tokens, token{kind: tokenBool, text: word})
			case "null", "nil":
				tokens = append(tokens, token{kind: tokenNull})
			default:
				tokens = append(tokens, token{kind: tokenRef, text: word})
			}
			i = j
		case ch == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "("})
			i++
		case ch == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")"})
			i++
		default:
			op, next, err := scanOperator(expr, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenOp, text: op})
			i = next
		}
	}
	tokens = append(tokens, token{kind: tokenEOF})
	return tokens, nil
}

func isIdentStart(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || ch >= '0' && ch <= '9' || ch == '.' || ch == '[' || ch == ']'
}

// scanString читает строковый литерал с экранированием \\ и \<кавычка>.
func scanString(expr string, start int) (string, int, error) {
	quote := expr[start]
	var b strings.Builder
	i := start + 1
	for i < len(expr) {
		ch := expr[i]
		if ch == '\\' && i+1 < len(expr) {
			b.WriteByte(expr[i+1])
			i += 2
			continue
		}
		if ch == quote {
			return b.String(), i + 1, nil
		}
		b.WriteByte(ch)
		i++
	}
	return "", 0, fmt.Errorf("unterminated string")
}

// scanOperator читает оператор, предпочитая двухсимвольные формы.
func scanOperator(expr string, i int) (string, int, error) {
	two := ""
	if i+1 < len(expr) {
		two = expr[i : i+2]
	}
	switch two {
	case "==", "!=", "<=", ">=", "&&", "||":
		return two, i + 2, nil
	}
	switch expr[i] {
	case '<', '>', '+', '-', '*', '/', '%', '!':
		return string(expr[i]), i + 1, nil
	}
	return "", 0, fmt.Errorf("unexpected character %q", string(expr[i]))
}

// --- разбор ---

// binPrec — приоритеты бинарных операторов (больше — сильнее).
var binPrec = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3,
	"<": 4, "<=": 4, ">": 4, ">=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

type exprParser struct {
	tokens []token
	pos    int
}

func (p *exprParser) peek() token { return p.tokens[p.pos] }
func (p *exprParser) next() token { t := p.tokens[p.pos]; p.pos++; return t }

// parseBinary — восходящий разбор по приоритетам.
func (p *exprParser) parseBinary(minPrec int) (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokenOp {
			return left, nil
		}
		prec, ok := binPrec[t.text]
		if !ok || prec < minPrec {
			return left, nil
		}
		p.next()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: t.text, left: left, right: right}
	}
}

func (p *exprParser) parseUnary() (exprNode, error) {
	t := p.peek()
	if t.kind == tokenOp && (t.text == "!" || t.text == "-") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: t.text, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	t := p.next()
	switch t.kind {
	case tokenNumber:
		return &litNode{v: t.num}, nil
	case tokenString:
		return &litNode{v: t.text}, nil
	case tokenBool:
		return &litNode{v: t.text == "true"}, nil
	case tokenNull:
		return &litNode{v: nil}, nil
	case tokenRef:
		return &refNode{path: t.text}, nil
	case tokenLParen:
		inner, err := p.parseBinary(0)
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokenRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

// --- вычисление ---

type exprNode interface {
	eval(c *ExecutionContext) (any, error)
}

type litNode struct{ v any }

func (n *litNode) eval(*ExecutionContext) (any, error) { return n.v, nil }

type refNode struct{ path string }

func (n *refNode) eval(c *ExecutionContext) (any, error) { return c.Resolve(n.path) }

type unaryNode struct {
	op      string
	operand exprNode
}

func (n *unaryNode) eval(c *ExecutionContext) (any, error) {
	v, err := n.operand.eval(c)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "!":
		b, err := truthy(v)
		if err != nil {
			return nil, fmt.Errorf("%w: operand of ! is %T", ErrNotBoolean, v)
		}
		return !b, nil
	case "-":
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: operand of unary - is %T", ErrExpression, v)
		}
		return -f, nil
	}
	return nil, fmt.Errorf("%w: unknown unary operator %q", ErrExpression, n.op)
}

type binaryNode struct {
	op          string
	left, right exprNode
}

func (n *binaryNode) eval(c *ExecutionContext) (any, error) {
	// 1. Ленивые && и ||.
	if n.op == "&&" || n.op == "||" {
		lv, err := n.left.eval(c)
		if err != nil {
			return nil, err
		}
		lb, err := truthy(lv)
		if err != nil {
			return nil, fmt.Errorf("%w: left operand of %s is %T", ErrNotBoolean, n.op, lv)
		}
		if n.op == "&&" && !lb {
			return false, nil
		}
		if n.op == "||" && lb {
			return true, nil
		}
		rv, err := n.right.eval(c)
		if err != nil {
			return nil, err
		}
		rb, err := truthy(rv)
		if err != nil {
			return nil, fmt.Errorf("%w: right operand of %s is %T", ErrNotBoolean, n.op, rv)
		}
		return rb, nil
	}

	lv, err := n.left.eval(c)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(c)
	if err != nil {
		return nil, err
	}

	// 2. Равенство работает на любых типах.
	switch n.op {
	case "==":
		return equalValues(lv, rv), nil
	case "!=":
		return !equalValues(lv, rv), nil
	}

	// 3. "+" склеивает строки, если хотя бы один операнд строковый.
	if n.op == "+" {
		if _, ls := lv.(string); ls {
			return lv.(string) + rawText(rv), nil
		}
		if _, rs := rv.(string); rs {
			return rawText(lv) + rv.(string), nil
		}
	}

	// 4. Остальные операторы числовые.
	lf, lok := toFloat(lv)
	rf, rok := toFloat(rv)
	if !lok || !rok {
		// строковые сравнения по порядку байт
		ls, lsok := lv.(string)
		rs, rsok := rv.(string)
		if lsok && rsok {
			switch n.op {
			case "<":
				return ls < rs, nil
			case "<=":
				return ls <= rs, nil
			case ">":
				return ls > rs, nil
			case ">=":
				return ls >= rs, nil
			}
		}
		return nil, fmt.Errorf("%w: operator %s needs numeric operands, got %T and %T", ErrExpression, n.op, lv, rv)
	}
	switch n.op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrExpression)
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrExpression)
		}
		return math.Mod(lf, rf), nil
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return nil, fmt.Errorf("%w: unknown operator %q", ErrExpression, n.op)
}

// equalValues сравнивает значения: числа численно (в том числе
// числовые строки), остальное — глубоким сравнением форм JSON.
func equalValues(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	af, aok := numericValue(a)
	bf, bok := numericValue(b)
	if aok && bok {
		return af == bf
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	return reflect.DeepEqual(Normalize(a), Normalize(b))
}

// numericValue приводит число или числовую строку к float64.
func numericValue(v any) (float64, bool) {
	if f, ok := toFloat(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
