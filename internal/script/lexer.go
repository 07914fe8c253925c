// lexer.go: whitespace-sensitive lexer for neo scripts.
//
// The lexer turns source text into a flat token slice (EOF included). Two
// punctuation tokens depend on the whitespace before them:
//
//	f(x)   "(" right after a token  → CLROUND  (call opener)
//	f (x)  "(" after whitespace     → LROUND   (grouping)
//	a[0]   "[" right after a token  → CLSQUARE (index opener)
//	a [0]  "[" after whitespace     → LSQUARE  (list literal)
//
// This keeps the grammar free of statement separators: a new statement may
// start with a parenthesis or a list literal without being read as a call or
// index on the previous line.
//
// Comments start with '#' and run to the end of the line. Line and column are
// 1-based.
package script

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// TokenType represents the kind of token.
type TokenType int

const (
	// Special
	EOF TokenType = iota
	ILLEGAL

	// Punctuation
	LROUND   // "(" when preceded by whitespace
	CLROUND  // "(" when not preceded by whitespace (call)
	RROUND   // ")"
	LSQUARE  // "[" when preceded by whitespace
	CLSQUARE // "[" when not preceded by whitespace (index)
	RSQUARE  // "]"
	LCURLY   // "{"
	RCURLY   // "}"
	COLON    // ":"
	COMMA    // ","
	PERIOD   // "."

	// Operators
	PLUS
	MINUS
	MULT
	DIV
	MOD
	ASSIGN // "="
	EQ     // "=="
	NEQ    // "!="
	LESS
	LESS_EQ
	GREATER
	GREATER_EQ

	// Literals & identifiers
	ID
	STRING
	INTEGER
	NUMBER
	BOOLEAN
	NULL

	// Keywords
	AND
	OR
	NOT
	DEF
	DO
	END
	RETURN
	BREAK
	CONTINUE
	IF
	THEN
	ELIF
	ELSE
	FOR
	IN
	WHILE
	IMPORT
	AS
)

var tokenNames = map[TokenType]string{
	EOF: "end of input", ILLEGAL: "illegal",
	LROUND: "'('", CLROUND: "'('", RROUND: "')'",
	LSQUARE: "'['", CLSQUARE: "'['", RSQUARE: "']'",
	LCURLY: "'{'", RCURLY: "'}'", COLON: "':'", COMMA: "','", PERIOD: "'.'",
	PLUS: "'+'", MINUS: "'-'", MULT: "'*'", DIV: "'/'", MOD: "'%'",
	ASSIGN: "'='", EQ: "'=='", NEQ: "'!='",
	LESS: "'<'", LESS_EQ: "'<='", GREATER: "'>'", GREATER_EQ: "'>='",
	ID: "identifier", STRING: "string", INTEGER: "integer", NUMBER: "number",
	BOOLEAN: "boolean", NULL: "'null'",
	AND: "'and'", OR: "'or'", NOT: "'not'", DEF: "'def'", DO: "'do'", END: "'end'",
	RETURN: "'return'", BREAK: "'break'", CONTINUE: "'continue'",
	IF: "'if'", THEN: "'then'", ELIF: "'elif'", ELSE: "'else'",
	FOR: "'for'", IN: "'in'", WHILE: "'while'", IMPORT: "'import'", AS: "'as'",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is a lexical token with optional literal value.
type Token struct {
	Type    TokenType
	Lexeme  string // raw text slice
	Literal any    // parsed value for literals
	Line    int
	Col     int
}

var keywords = map[string]TokenType{
	"null":     NULL,
	"true":     BOOLEAN,
	"false":    BOOLEAN,
	"and":      AND,
	"or":       OR,
	"not":      NOT,
	"def":      DEF,
	"do":       DO,
	"end":      END,
	"return":   RETURN,
	"break":    BREAK,
	"continue": CONTINUE,
	"if":       IF,
	"then":     THEN,
	"elif":     ELIF,
	"else":     ELSE,
	"for":      FOR,
	"in":       IN,
	"while":    WHILE,
	"import":   IMPORT,
	"as":       AS,
}

// Lexer scans a source string into tokens.
type Lexer struct {
	src              string
	start            int // start index of current token
	cur              int // current index
	line             int
	col              int
	tokens           []Token
	whitespaceBefore bool

	tokStartLine int
	tokStartCol  int
}

// NewLexer creates a new lexer for the given source.
func NewLexer(src string) *Lexer {
	return &Lexer{src: src, line: 1, col: 1, whitespaceBefore: true}
}

func (l *Lexer) isAtEnd() bool { return l.cur >= len(l.src) }

func (l *Lexer) peek() (byte, bool) {
	if l.isAtEnd() {
		return 0, false
	}
	return l.src[l.cur], true
}

func (l *Lexer) peekN(n int) (byte, bool) {
	idx := l.cur + n
	if idx >= len(l.src) {
		return 0, false
	}
	return l.src[idx], true
}

func (l *Lexer) advance() byte {
	ch := l.src[l.cur]
	l.cur++
	if ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return ch
}

func (l *Lexer) addToken(tt TokenType, lit any) Token {
	tok := Token{
		Type:    tt,
		Lexeme:  l.src[l.start:l.cur],
		Literal: lit,
		Line:    l.tokStartLine,
		Col:     l.tokStartCol,
	}
	l.tokens = append(l.tokens, tok)
	l.start = l.cur
	l.whitespaceBefore = false
	return tok
}

// skipTrivia eats whitespace and comments, recording whether any was seen.
func (l *Lexer) skipTrivia() {
	for !l.isAtEnd() {
		ch, _ := l.peek()
		switch ch {
		case ' ', '\r', '\n', '\t':
			l.whitespaceBefore = true
			l.advance()
		case '#':
			l.whitespaceBefore = true
			for !l.isAtEnd() {
				if b, _ := l.peek(); b == '\n' {
					break
				}
				l.advance()
			}
		default:
			l.start = l.cur
			return
		}
	}
	l.start = l.cur
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
func isHex(b byte) bool {
	return isDigit(b) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}
func isAlpha(b byte) bool    { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '_' }
func isAlphaNum(b byte) bool { return isAlpha(b) || isDigit(b) }

func (l *Lexer) err(msg string) error {
	return &Error{Kind: DiagLex, Line: l.line, Col: l.col, Msg: msg}
}

// scanString parses a JSON-style string literal (single or double quotes).
func (l *Lexer) scanString() (string, error) {
	del := l.advance()

	var out strings.Builder
	for !l.isAtEnd() {
		ch := l.advance()
		if ch == del {
			return out.String(), nil
		}
		if ch == '\n' {
			return "", l.err("newline in string literal")
		}
		if ch != '\\' {
			if ch < utf8.RuneSelf {
				out.WriteByte(ch)
				continue
			}
			// step back and decode the full rune
			l.cur--
			r, size := utf8.DecodeRuneInString(l.src[l.cur:])
			if r == utf8.RuneError && size == 1 {
				return "", l.err("invalid UTF-8 in source")
			}
			out.WriteRune(r)
			l.cur += size
			continue
		}
		if l.isAtEnd() {
			return "", l.err("unfinished escape sequence")
		}
		esc := l.advance()
		switch esc {
		case '"', '\'', '\\', '/':
			out.WriteByte(esc)
		case 'b':
			out.WriteByte('\b')
		case 'f':
			out.WriteByte('\f')
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		case 't':
			out.WriteByte('\t')
		case 'u':
			r, err := l.scanHex4()
			if err != nil {
				return "", err
			}
			if utf16.IsSurrogate(r) {
				if b0, _ := l.peek(); b0 == '\\' {
					if b1, _ := l.peekN(1); b1 == 'u' {
						l.advance()
						l.advance()
						r2, err := l.scanHex4()
						if err != nil {
							return "", err
						}
						r = utf16.DecodeRune(r, r2)
					}
				}
			}
			out.WriteRune(r)
		default:
			return "", l.err(fmt.Sprintf("invalid escape sequence: \\%c", esc))
		}
	}
	return "", l.err("string was not terminated")
}

func (l *Lexer) scanHex4() (rune, error) {
	if l.cur+4 > len(l.src) {
		return 0, l.err("unicode escape was not terminated (expect 4 hex digits)")
	}
	hex := l.src[l.cur : l.cur+4]
	for i := 0; i < 4; i++ {
		if !isHex(hex[i]) {
			return 0, l.err("unicode escape was not terminated (expect 4 hex digits)")
		}
	}
	for i := 0; i < 4; i++ {
		l.advance()
	}
	v, _ := strconv.ParseUint(hex, 16, 32)
	return rune(v), nil
}

// scanNumber parses an integer or float; supports .5, 1.23e-4.
func (l *Lexer) scanNumber() (TokenType, any, error) {
	sawDot, sawExp := false, false
	for {
		b, ok := l.peek()
		if !ok {
			break
		}
		if isDigit(b) {
			l.advance()
			continue
		}
		if b == '.' && !sawDot && !sawExp {
			// "1.foo" is a property access, not a float
			if b2, ok := l.peekN(1); ok && isDigit(b2) {
				sawDot = true
				l.advance()
				continue
			}
			break
		}
		if (b == 'e' || b == 'E') && !sawExp {
			n := 1
			if b2, ok := l.peekN(1); ok && (b2 == '+' || b2 == '-') {
				n = 2
			}
			if b3, ok := l.peekN(n); ok && isDigit(b3) {
				sawExp = true
				for i := 0; i < n; i++ {
					l.advance()
				}
				continue
			}
		}
		break
	}

	lex := l.src[l.start:l.cur]
	if !sawDot && !sawExp {
		v, err := strconv.ParseInt(lex, 10, 64)
		if err != nil {
			return ILLEGAL, nil, l.err("integer literal out of range")
		}
		return INTEGER, v, nil
	}
	f, err := strconv.ParseFloat(lex, 64)
	if err != nil {
		return ILLEGAL, nil, l.err("invalid float literal")
	}
	return NUMBER, f, nil
}

func (l *Lexer) scanToken() (Token, error) {
	l.skipTrivia()
	l.tokStartLine = l.line
	l.tokStartCol = l.col

	if l.isAtEnd() {
		return l.addToken(EOF, nil), nil
	}

	ch, _ := l.peek()

	switch {
	case ch == '"' || ch == '\'':
		s, err := l.scanString()
		if err != nil {
			return Token{}, err
		}
		return l.addToken(STRING, s), nil
	case isDigit(ch):
		tt, lit, err := l.scanNumber()
		if err != nil {
			return Token{}, err
		}
		return l.addToken(tt, lit), nil
	case ch == '.':
		if b, ok := l.peekN(1); ok && isDigit(b) && l.whitespaceBefore {
			tt, lit, err := l.scanNumber()
			if err != nil {
				return Token{}, err
			}
			return l.addToken(tt, lit), nil
		}
	case isAlpha(ch):
		for {
			b, ok := l.peek()
			if !ok || !isAlphaNum(b) {
				break
			}
			l.advance()
		}
		lex := l.src[l.start:l.cur]
		if n := len(l.tokens); n > 0 && l.tokens[n-1].Type == PERIOD {
			// property names may shadow keywords: obj.end
			return l.addToken(ID, lex), nil
		}
		tt, ok := keywords[lex]
		if !ok {
			return l.addToken(ID, lex), nil
		}
		switch tt {
		case BOOLEAN:
			return l.addToken(BOOLEAN, lex == "true"), nil
		case NULL:
			return l.addToken(NULL, nil), nil
		default:
			return l.addToken(tt, lex), nil
		}
	}

	l.advance()
	switch ch {
	case '(':
		if l.whitespaceBefore {
			return l.addToken(LROUND, nil), nil
		}
		return l.addToken(CLROUND, nil), nil
	case ')':
		return l.addToken(RROUND, nil), nil
	case '[':
		if l.whitespaceBefore {
			return l.addToken(LSQUARE, nil), nil
		}
		return l.addToken(CLSQUARE, nil), nil
	case ']':
		return l.addToken(RSQUARE, nil), nil
	case '{':
		return l.addToken(LCURLY, nil), nil
	case '}':
		return l.addToken(RCURLY, nil), nil
	case ':':
		return l.addToken(COLON, nil), nil
	case ',':
		return l.addToken(COMMA, nil), nil
	case '.':
		return l.addToken(PERIOD, nil), nil
	case '+':
		return l.addToken(PLUS, nil), nil
	case '-':
		return l.addToken(MINUS, nil), nil
	case '*':
		return l.addToken(MULT, nil), nil
	case '/':
		return l.addToken(DIV, nil), nil
	case '%':
		return l.addToken(MOD, nil), nil
	case '=':
		if b, ok := l.peek(); ok && b == '=' {
			l.advance()
			return l.addToken(EQ, nil), nil
		}
		return l.addToken(ASSIGN, nil), nil
	case '!':
		if b, ok := l.peek(); ok && b == '=' {
			l.advance()
			return l.addToken(NEQ, nil), nil
		}
	case '<':
		if b, ok := l.peek(); ok && b == '=' {
			l.advance()
			return l.addToken(LESS_EQ, nil), nil
		}
		return l.addToken(LESS, nil), nil
	case '>':
		if b, ok := l.peek(); ok && b == '=' {
			l.advance()
			return l.addToken(GREATER_EQ, nil), nil
		}
		return l.addToken(GREATER, nil), nil
	}

	return Token{}, &Error{Kind: DiagLex, Line: l.tokStartLine, Col: l.tokStartCol,
		Msg: fmt.Sprintf("unexpected character: %q", ch)}
}

// Scan tokenizes the entire source and returns tokens (EOF included).
func (l *Lexer) Scan() ([]Token, error) {
	for {
		tok, err := l.scanToken()
		if err != nil {
			return nil, err
		}
		if tok.Type == EOF {
			return l.tokens, nil
		}
	}
}
