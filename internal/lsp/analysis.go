package lsp

import (
	"errors"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/iorp/neorun/internal/script"
)

const diagSource = "neorun"

// diagnostics compiles text and converts the first diagnostic, if any. The
// result is never nil so an empty list clears the client's markers.
func diagnostics(text string) []Diagnostic {
	_, err := script.Compile("", text)
	if err == nil {
		return []Diagnostic{}
	}
	var d *script.Error
	if !errors.As(err, &d) {
		return []Diagnostic{{Severity: 1, Source: diagSource, Message: err.Error()}}
	}

	lines := strings.Split(text, "\n")
	line := min(max(d.Line-1, 0), len(lines)-1)
	src := strings.TrimSuffix(lines[line], "\r")
	start := min(max(d.Col-1, 0), len(src))
	end := start
	if start < len(src) {
		_, sz := utf8.DecodeRuneInString(src[start:])
		end = start + sz
	} else if start > 0 {
		_, sz := utf8.DecodeLastRuneInString(src[:start])
		start -= sz
	}

	return []Diagnostic{{
		Range: Range{
			Start: Position{Line: line, Character: utf16Len(src[:start])},
			End:   Position{Line: line, Character: utf16Len(src[:end])},
		},
		Severity: 1,
		Code:     diagCode(d.Kind),
		Source:   diagSource,
		Message:  d.Msg,
	}}
}

func diagCode(k script.DiagKind) string {
	switch k {
	case script.DiagLex:
		return "LEX"
	case script.DiagCheck:
		return "CHECK"
	default:
		return "PARSE"
	}
}

// documentSymbols lists the top-level definitions, assignments to plain
// names and imports. A statement's range runs to the line before the next
// top-level statement. Unparsable text has no symbols.
func documentSymbols(text string) []DocumentSymbol {
	root, err := script.Parse(text)
	if err != nil {
		return []DocumentSymbol{}
	}
	lines := strings.Split(text, "\n")

	type stmt struct {
		line, col int
		node      script.S
	}
	var stmts []stmt
	for _, child := range root[1:] {
		pos, ok := child.(script.S)
		if !ok || len(pos) != 4 || pos[0] != "pos" {
			continue
		}
		line, _ := pos[1].(int64)
		col, _ := pos[2].(int64)
		node, _ := pos[3].(script.S)
		stmts = append(stmts, stmt{int(line) - 1, int(col) - 1, node})
	}

	out := []DocumentSymbol{}
	for i, st := range stmts {
		name, kind, detail, ok := symbolOf(st.node)
		if !ok {
			continue
		}
		last := len(lines) - 1
		if i+1 < len(stmts) {
			last = max(stmts[i+1].line-1, st.line)
		}
		for last > st.line && strings.TrimSpace(lines[last]) == "" {
			last--
		}

		first := lines[st.line]
		at := st.col
		if j := wordIndex(first[min(st.col, len(first)):], name); j >= 0 {
			at = st.col + j
		}
		sel := Range{
			Start: Position{Line: st.line, Character: utf16Len(first[:at])},
			End:   Position{Line: st.line, Character: utf16Len(first[:min(at+len(name), len(first))])},
		}
		end := strings.TrimSuffix(lines[last], "\r")
		out = append(out, DocumentSymbol{
			Name:   name,
			Detail: detail,
			Kind:   kind,
			Range: Range{
				Start: Position{Line: st.line, Character: utf16Len(first[:min(st.col, len(first))])},
				End:   Position{Line: last, Character: utf16Len(end)},
			},
			SelectionRange: sel,
		})
	}
	return out
}

func symbolOf(n script.S) (name string, kind int, detail string, ok bool) {
	if len(n) == 0 {
		return "", 0, "", false
	}
	switch n[0] {
	case "def":
		name, _ = n[1].(string)
		return name, SymbolFunction, signature(n[2]), name != ""
	case "import":
		name, _ = n[2].(string)
		path, _ := n[1].(string)
		return name, SymbolModule, path, name != ""
	case "assign":
		target, _ := n[1].(script.S)
		if len(target) != 2 || target[0] != "id" {
			return "", 0, "", false
		}
		name, _ = target[1].(string)
		if v, isFun := n[2].(script.S); isFun && len(v) > 0 && v[0] == "fun" {
			return name, SymbolFunction, signature(v), true
		}
		return name, SymbolVariable, "", true
	}
	return "", 0, "", false
}

// signature renders ("fun", name, ("params", p...), body) as "(p, ...)".
func signature(x any) string {
	fn, _ := x.(script.S)
	if len(fn) < 3 {
		return ""
	}
	params, _ := fn[2].(script.S)
	names := make([]string, 0, len(params))
	for _, p := range params[min(1, len(params)):] {
		if s, ok := p.(string); ok {
			names = append(names, s)
		}
	}
	return "(" + strings.Join(names, ", ") + ")"
}

// wordIndex finds name in s where it is not part of a longer identifier.
func wordIndex(s, name string) int {
	for off := 0; off <= len(s)-len(name); {
		j := strings.Index(s[off:], name)
		if j < 0 {
			return -1
		}
		at := off + j
		end := at + len(name)
		if (at == 0 || !isIdent(s[at-1])) && (end == len(s) || !isIdent(s[end])) {
			return at
		}
		off = at + 1
	}
	return -1
}

func isIdent(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
