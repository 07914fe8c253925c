// errors.go: diagnostics raised by the lexer, parser, checker and runtime,
// plus the caret-snippet renderer used to present them.
//
//	PARSE ERROR in greet.neo at 3:12: expected ')' to close call
//
//	   2 | name = "rex"
//	   3 | print(name, 1
//	     |            ^
//	   4 | exit()
//
// Front-end failures are *Error values (Kind says which stage). Execution
// failures are *RuntimeError values. A script asking to stop early produces
// an *ExitSignal, which is a control signal and not a failure; hosts test
// for it with errors.As.
package script

import (
	"errors"
	"fmt"
	"strings"
)

// DiagKind tells which front-end stage produced a diagnostic.
type DiagKind int

const (
	DiagLex DiagKind = iota
	DiagParse
	DiagCheck
)

func (k DiagKind) label() string {
	switch k {
	case DiagLex:
		return "LEXICAL ERROR"
	case DiagCheck:
		return "SYNTAX ERROR"
	default:
		return "PARSE ERROR"
	}
}

// Error is a front-end diagnostic with a 1-based position.
type Error struct {
	Kind DiagKind
	Line int
	Col  int
	Msg  string

	// Incomplete is set when parsing ran out of input, so more lines
	// could still complete the program.
	Incomplete bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at %d:%d: %s", e.Kind.label(), e.Line, e.Col, e.Msg)
}

// IsIncomplete reports whether err is a parse error caused by input ending
// early.
func IsIncomplete(err error) bool {
	var d *Error
	return errors.As(err, &d) && d.Incomplete
}

// SourceError decorates a diagnostic with the unit name and a caret snippet
// of the source it refers to.
type SourceError struct {
	Unit string
	Err  *Error
	text string
}

func (e *SourceError) Error() string { return e.text }

func (e *SourceError) Unwrap() error { return e.Err }

// WrapErrorWithName renders front-end diagnostics against src, labelled with
// the unit name. Other errors are returned unchanged.
func WrapErrorWithName(err error, unit, src string) error {
	d, ok := err.(*Error)
	if !ok {
		return err
	}
	return &SourceError{
		Unit: unit,
		Err:  d,
		text: prettyErrorStringLabeled(src, d.Kind.label(), unit, d.Line, d.Col, d.Msg),
	}
}

// RuntimeError is a fault raised while executing a program.
type RuntimeError struct {
	Unit string
	Line int
	Col  int
	Msg  string

	src string // optional, enables the caret snippet
}

func (e *RuntimeError) Error() string {
	if e.src != "" {
		return strings.TrimRight(prettyErrorStringLabeled(e.src, "RUNTIME ERROR", e.Unit, e.Line, e.Col, e.Msg), "\n")
	}
	if e.Unit != "" {
		return fmt.Sprintf("RUNTIME ERROR in %s at %d:%d: %s", e.Unit, e.Line, e.Col, e.Msg)
	}
	return fmt.Sprintf("RUNTIME ERROR at %d:%d: %s", e.Line, e.Col, e.Msg)
}

// ExitSignal is raised by exit() and sys.exit(). It unwinds the program
// like an error but marks a requested, successful stop.
type ExitSignal struct {
	Code    int
	Message string
}

func (e *ExitSignal) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("exit(%d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("exit(%d)", e.Code)
}

// prettyErrorStringLabeled builds a snippet with a header and a caret. It
// shows at most one previous and one next line. Coordinates are clamped to
// the source bounds.
func prettyErrorStringLabeled(src, header, name string, line, col int, msg string) string {
	lines := strings.Split(src, "\n")
	if line < 1 {
		line = 1
	}
	if col < 1 {
		col = 1
	}
	if line > len(lines) {
		line = len(lines)
	}

	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "%s in %s at %d:%d: %s\n\n", header, name, line, col, msg)
	} else {
		fmt.Fprintf(&b, "%s at %d:%d: %s\n\n", header, line, col, msg)
	}
	if line > 1 {
		fmt.Fprintf(&b, "%4d | %s\n", line-1, lines[line-2])
	}
	fmt.Fprintf(&b, "%4d | %s\n", line, lines[line-1])
	fmt.Fprintf(&b, "     | %s^\n", strings.Repeat(" ", col-1))
	if line < len(lines) {
		fmt.Fprintf(&b, "%4d | %s\n", line+1, lines[line])
	}
	return b.String()
}
