// parser.go: Pratt parser producing compact S-expressions.
//
// The AST is a tree of S-expressions: []any whose first element is a string
// tag. Leaves hold only string, int64, float64 and bool payloads, so a tree
// can be written to and read back from the artifact container without any
// type registry. This list is the reference for every consumer (checker,
// interpreter, artifact codec):
//
//	("block", stmt...)
//	("pos", line int64, col int64, stmt)      // wraps every statement
//
// Literals & names:
//
//	("int", int64) ("num", float64) ("str", string) ("bool", bool) ("null")
//	("id", name)
//	("list", e...)
//	("map", ("pair", ("str", key), value)...)
//
// Expressions:
//
//	("unop", "-"|"not", x)
//	("binop", op, lhs, rhs)                   // + - * / % == != < <= > >= in
//	("and", lhs, rhs) ("or", lhs, rhs)        // short-circuit
//	("call", callee, arg...)
//	("get", obj, name)                        // obj.name
//	("idx", obj, key)                         // obj[key]
//	("fun", name, ("params", p...), body)     // name "" when anonymous
//
// Statements:
//
//	("assign", target, value)                 // target: id | get | idx
//	("def", name, fun)
//	("import", dottedPath, alias)
//	("if", ("arm", cond, block)..., ("else", block)?)
//	("while", cond, block)
//	("for", name, iterable, block)
//	("return", value) ("break") ("continue")
package script

import (
	"fmt"
	"strings"
)

// S is an AST node.
type S = []any

// L builds a node from a tag and its parts.
func L(tag string, parts ...any) S { return append(S{tag}, parts...) }

// Parse parses a complete source string and returns its AST.
func Parse(src string) (S, error) {
	toks, err := NewLexer(src).Scan()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.program()
}

////////////////////////////////////////////////////////////////////////////////
//                             PRIVATE IMPLEMENTATION
////////////////////////////////////////////////////////////////////////////////

// maxDepth bounds parser recursion and the height of the finished tree,
// pos wrappers included. It sits well below the limit the artifact decoder
// enforces, so every tree that parses can be stored and loaded again.
const maxDepth = 2000

type parser struct {
	toks  []Token
	i     int
	depth int
}

// descend guards one level of recursion; callers pair it with ascend.
func (p *parser) descend() error {
	p.depth++
	if p.depth > maxDepth {
		tok := p.peek()
		return &Error{Kind: DiagParse, Line: tok.Line, Col: tok.Col, Msg: fmt.Sprintf("nesting deeper than %d levels", maxDepth)}
	}
	return nil
}

func (p *parser) ascend() { p.depth-- }

func (p *parser) peek() Token {
	if p.i >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i]
}

func (p *parser) prev() Token { return p.toks[p.i-1] }

func (p *parser) atEnd() bool { return p.peek().Type == EOF }

func (p *parser) check(tt ...TokenType) bool {
	cur := p.peek().Type
	for _, t := range tt {
		if cur == t {
			return true
		}
	}
	return false
}

func (p *parser) match(tt ...TokenType) bool {
	if p.check(tt...) {
		p.i++
		return true
	}
	return false
}

func (p *parser) errAt(tok Token, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if tok.Type == EOF {
		msg += " (found end of input)"
	} else {
		msg += fmt.Sprintf(" (found %s)", describe(tok))
	}
	return &Error{Kind: DiagParse, Line: tok.Line, Col: tok.Col, Msg: msg, Incomplete: tok.Type == EOF}
}

func (p *parser) need(t TokenType, format string, args ...any) (Token, error) {
	if p.match(t) {
		return p.prev(), nil
	}
	return Token{}, p.errAt(p.peek(), format, args...)
}

func describe(tok Token) string {
	switch tok.Type {
	case ID:
		return fmt.Sprintf("identifier %q", tok.Lexeme)
	case STRING, INTEGER, NUMBER:
		return tok.Lexeme
	}
	return tok.Type.String()
}

// ───────────────────────────── precedence ─────────────────────────────

func lbp(t TokenType) (int, bool) {
	switch t {
	case OR:
		return 20, true
	case AND:
		return 30, true
	case EQ, NEQ:
		return 40, true
	case LESS, LESS_EQ, GREATER, GREATER_EQ, IN:
		return 50, true
	case PLUS, MINUS:
		return 60, true
	case MULT, DIV, MOD:
		return 70, true
	}
	return 0, false
}

const (
	bpNot   = 35
	bpUnary = 75
)

var binopNames = map[TokenType]string{
	PLUS: "+", MINUS: "-", MULT: "*", DIV: "/", MOD: "%",
	EQ: "==", NEQ: "!=", LESS: "<", LESS_EQ: "<=", GREATER: ">", GREATER_EQ: ">=",
	IN: "in",
}

// ───────────────────────────── statements ─────────────────────────────

func (p *parser) program() (S, error) {
	stmts, err := p.statements()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, p.errAt(p.peek(), "unexpected token")
	}
	root := L("block", stmts...)
	if line, col, deep := tooDeep(root, maxDepth, 1, 1); deep {
		return nil, &Error{Kind: DiagParse, Line: int(line), Col: int(col), Msg: fmt.Sprintf("expression nested deeper than %d levels", maxDepth)}
	}
	return root, nil
}

// tooDeep reports whether n is more than room levels tall. Operator and
// postfix chains grow the tree without recursing in the parser, so the
// height is measured once the tree is built. The position is that of the
// innermost statement on the offending path.
func tooDeep(n S, room int, line, col int64) (int64, int64, bool) {
	if room == 0 {
		return line, col, true
	}
	if len(n) == 4 && n[0] == "pos" {
		line, _ = n[1].(int64)
		col, _ = n[2].(int64)
	}
	for _, c := range n[1:] {
		if c, ok := c.(S); ok {
			if l, cl, deep := tooDeep(c, room-1, line, col); deep {
				return l, cl, true
			}
		}
	}
	return 0, 0, false
}

// statements parses until EOF or a block terminator; the terminator is left
// for the caller.
func (p *parser) statements() ([]any, error) {
	if err := p.descend(); err != nil {
		return nil, err
	}
	defer p.ascend()
	var out []any
	for !p.atEnd() && !p.check(END, ELSE, ELIF) {
		st, err := p.statement()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// body parses a block closed by 'end'.
func (p *parser) body(opener Token, what string) (S, error) {
	stmts, err := p.statements()
	if err != nil {
		return nil, err
	}
	if _, err := p.need(END, "expected 'end' to close %s opened at %d:%d", what, opener.Line, opener.Col); err != nil {
		return nil, err
	}
	return L("block", stmts...), nil
}

func (p *parser) statement() (any, error) {
	tok := p.peek()
	var (
		node S
		err  error
	)
	switch tok.Type {
	case IMPORT:
		node, err = p.importStmt()
	case DEF:
		if next := p.toks[p.i+1]; next.Type == ID {
			node, err = p.defStmt()
		} else {
			node, err = p.exprStmt()
		}
	case IF:
		node, err = p.ifStmt()
	case WHILE:
		node, err = p.whileStmt()
	case FOR:
		node, err = p.forStmt()
	case RETURN:
		node, err = p.returnStmt()
	case BREAK:
		p.i++
		node = L("break")
	case CONTINUE:
		p.i++
		node = L("continue")
	default:
		node, err = p.exprStmt()
	}
	if err != nil {
		return nil, err
	}
	return L("pos", int64(tok.Line), int64(tok.Col), node), nil
}

func (p *parser) importStmt() (S, error) {
	p.i++ // 'import'
	first, err := p.need(ID, "expected module name after 'import'")
	if err != nil {
		return nil, err
	}
	parts := []string{first.Lexeme}
	for p.match(PERIOD) {
		seg, err := p.need(ID, "expected module name segment after '.'")
		if err != nil {
			return nil, err
		}
		parts = append(parts, seg.Lexeme)
	}
	alias := parts[len(parts)-1]
	if p.match(AS) {
		a, err := p.need(ID, "expected alias after 'as'")
		if err != nil {
			return nil, err
		}
		alias = a.Lexeme
	}
	return L("import", strings.Join(parts, "."), alias), nil
}

func (p *parser) defStmt() (S, error) {
	p.i++ // 'def'
	name := p.toks[p.i].Lexeme
	p.i++
	fn, err := p.function(name)
	if err != nil {
		return nil, err
	}
	return L("def", name, fn), nil
}

// function parses "(params) do block end" after 'def' (and the name).
func (p *parser) function(name string) (S, error) {
	if !p.match(LROUND, CLROUND) {
		return nil, p.errAt(p.peek(), "expected '(' to open parameter list")
	}
	params := L("params")
	if !p.check(RROUND) {
		for {
			id, err := p.need(ID, "expected parameter name")
			if err != nil {
				return nil, err
			}
			params = append(params, id.Lexeme)
			if !p.match(COMMA) {
				break
			}
		}
	}
	if _, err := p.need(RROUND, "expected ')' to close parameter list"); err != nil {
		return nil, err
	}
	do, err := p.need(DO, "expected 'do' before function body")
	if err != nil {
		return nil, err
	}
	body, err := p.body(do, "function body")
	if err != nil {
		return nil, err
	}
	return L("fun", name, params, body), nil
}

func (p *parser) ifStmt() (S, error) {
	opener := p.peek()
	p.i++ // 'if'
	node := L("if")
	for {
		cond, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.need(THEN, "expected 'then' after condition"); err != nil {
			return nil, err
		}
		stmts, err := p.statements()
		if err != nil {
			return nil, err
		}
		node = append(node, L("arm", cond, L("block", stmts...)))
		if !p.match(ELIF) {
			break
		}
	}
	if p.match(ELSE) {
		stmts, err := p.statements()
		if err != nil {
			return nil, err
		}
		node = append(node, L("else", L("block", stmts...)))
	}
	if _, err := p.need(END, "expected 'end' to close 'if' opened at %d:%d", opener.Line, opener.Col); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *parser) whileStmt() (S, error) {
	p.i++ // 'while'
	cond, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	do, err := p.need(DO, "expected 'do' after loop condition")
	if err != nil {
		return nil, err
	}
	body, err := p.body(do, "'while' loop")
	if err != nil {
		return nil, err
	}
	return L("while", cond, body), nil
}

func (p *parser) forStmt() (S, error) {
	p.i++ // 'for'
	id, err := p.need(ID, "expected loop variable after 'for'")
	if err != nil {
		return nil, err
	}
	if _, err := p.need(IN, "expected 'in' after loop variable"); err != nil {
		return nil, err
	}
	iter, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	do, err := p.need(DO, "expected 'do' after loop iterable")
	if err != nil {
		return nil, err
	}
	body, err := p.body(do, "'for' loop")
	if err != nil {
		return nil, err
	}
	return L("for", id.Lexeme, iter, body), nil
}

// returnStmt takes a value only when one starts on the same line.
func (p *parser) returnStmt() (S, error) {
	kw := p.peek()
	p.i++
	next := p.peek()
	if next.Type == EOF || next.Line != kw.Line || p.check(END, ELSE, ELIF) {
		return L("return", L("null")), nil
	}
	v, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	return L("return", v), nil
}

func (p *parser) exprStmt() (S, error) {
	start := p.peek()
	lhs, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	if !p.match(ASSIGN) {
		return lhs, nil
	}
	switch lhs[0] {
	case "id", "get", "idx":
	default:
		return nil, &Error{Kind: DiagParse, Line: start.Line, Col: start.Col, Msg: "invalid assignment target"}
	}
	rhs, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	return L("assign", lhs, rhs), nil
}

// ───────────────────────────── expressions ─────────────────────────────

func (p *parser) expr(minBP int) (S, error) {
	if err := p.descend(); err != nil {
		return nil, err
	}
	defer p.ascend()
	left, err := p.prefix()
	if err != nil {
		return nil, err
	}
	for {
		if left, err = p.postfix(left); err != nil {
			return nil, err
		}
		tok := p.peek()
		bp, ok := lbp(tok.Type)
		if !ok || bp <= minBP {
			return left, nil
		}
		p.i++
		right, err := p.expr(bp)
		if err != nil {
			return nil, err
		}
		switch tok.Type {
		case AND:
			left = L("and", left, right)
		case OR:
			left = L("or", left, right)
		default:
			left = L("binop", binopNames[tok.Type], left, right)
		}
	}
}

// postfix applies calls, indexing and property reads, which bind tighter
// than any operator.
func (p *parser) postfix(left S) (S, error) {
	for {
		switch {
		case p.match(CLROUND):
			args, err := p.list(RROUND, "call arguments")
			if err != nil {
				return nil, err
			}
			left = append(L("call", left), args...)
		case p.match(CLSQUARE):
			key, err := p.expr(0)
			if err != nil {
				return nil, err
			}
			if _, err := p.need(RSQUARE, "expected ']' to close index"); err != nil {
				return nil, err
			}
			left = L("idx", left, key)
		case p.match(PERIOD):
			id, err := p.need(ID, "expected property name after '.'")
			if err != nil {
				return nil, err
			}
			left = L("get", left, id.Lexeme)
		default:
			return left, nil
		}
	}
}

// list parses comma-separated expressions up to closer (consumed). A
// trailing comma is allowed.
func (p *parser) list(closer TokenType, what string) ([]any, error) {
	var out []any
	for !p.check(closer) {
		e, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if !p.match(COMMA) {
			break
		}
	}
	if _, err := p.need(closer, "expected %s to close %s", closer, what); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *parser) prefix() (S, error) {
	tok := p.peek()
	p.i++
	switch tok.Type {
	case INTEGER:
		return L("int", tok.Literal.(int64)), nil
	case NUMBER:
		return L("num", tok.Literal.(float64)), nil
	case STRING:
		return L("str", tok.Literal.(string)), nil
	case BOOLEAN:
		return L("bool", tok.Literal.(bool)), nil
	case NULL:
		return L("null"), nil
	case ID:
		return L("id", tok.Lexeme), nil
	case MINUS:
		x, err := p.expr(bpUnary)
		if err != nil {
			return nil, err
		}
		return L("unop", "-", x), nil
	case NOT:
		x, err := p.expr(bpNot)
		if err != nil {
			return nil, err
		}
		return L("unop", "not", x), nil
	case LROUND, CLROUND:
		x, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.need(RROUND, "expected ')' to close group opened at %d:%d", tok.Line, tok.Col); err != nil {
			return nil, err
		}
		return x, nil
	case LSQUARE, CLSQUARE:
		items, err := p.list(RSQUARE, "list")
		if err != nil {
			return nil, err
		}
		return L("list", items...), nil
	case LCURLY:
		return p.mapLiteral()
	case DEF:
		return p.function("")
	}
	p.i--
	return nil, p.errAt(tok, "expected expression")
}

func (p *parser) mapLiteral() (S, error) {
	node := L("map")
	for !p.check(RCURLY) {
		key := p.peek()
		if key.Type != ID && key.Type != STRING {
			return nil, p.errAt(key, "expected map key")
		}
		p.i++
		name := key.Lexeme
		if key.Type == STRING {
			name = key.Literal.(string)
		}
		if _, err := p.need(COLON, "expected ':' after map key"); err != nil {
			return nil, err
		}
		v, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		node = append(node, L("pair", L("str", name), v))
		if !p.match(COMMA) {
			break
		}
	}
	if _, err := p.need(RCURLY, "expected '}' to close map"); err != nil {
		return nil, err
	}
	return node, nil
}
