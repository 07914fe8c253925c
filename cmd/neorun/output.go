package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/iorp/neorun"
	"github.com/iorp/neorun/internal/jsonx"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Faint(true)
)

// report prints result as indented JSON on stdout and returns errFailed when
// st says the operation failed. With --pretty a one-line status also goes
// to stderr.
func (a *app) report(result any, st neorun.Status, what string) error {
	out, err := jsonx.MarshalIndent(result, "  ")
	if err != nil {
		return fmt.Errorf("cannot render result: %w", err)
	}
	fmt.Fprintln(a.stdout, string(out))
	if a.pretty {
		fmt.Fprintln(a.stderr, statusLine(st, what))
	}
	if st.Error {
		return errFailed
	}
	return nil
}

func statusLine(st neorun.Status, what string) string {
	if st.Error {
		return errStyle.Render("✗ "+string(st.Kind())) + " " + mutedStyle.Render(what)
	}
	return okStyle.Render("✓ ok") + " " + mutedStyle.Render(what)
}

// compileReport is the result printed by compile and watch.
type compileReport struct {
	neorun.Status
	Artifact string `json:"artifact,omitempty"`
	Unit     any    `json:"unit,omitempty"`
}

// encodeJSON renders a value on one line, for REPL output.
func encodeJSON(v any) string {
	b, err := jsonx.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
