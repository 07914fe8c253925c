package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/iorp/neorun"
	"github.com/iorp/neorun/internal/script"
	"github.com/iorp/neorun/internal/unit"
)

const (
	historyFile = ".neorun_history"
	promptMain  = "neo> "
	promptCont  = "...  "
	replUnit    = "<repl>"
)

var replHelp = `REPL commands:
  :scope   List the variables of the session scope
  :reset   Start over with an empty scope
  :quit    Exit the REPL
Assign __response__ to print a value.`

// prompter reads one line of input. *liner.State satisfies it.
type prompter interface {
	Prompt(prompt string) (string, error)
}

func (a *app) replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive session with a persistent scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ln := liner.NewLiner()
			defer ln.Close()
			ln.SetCtrlCAborts(true)

			home, _ := os.UserHomeDir()
			histPath := filepath.Join(home, historyFile)
			if f, err := os.Open(histPath); err == nil {
				_, _ = ln.ReadHistory(f)
				_ = f.Close()
			}
			defer func() {
				if f, err := os.Create(histPath); err == nil {
					_, _ = ln.WriteHistory(f)
					_ = f.Close()
				}
			}()

			fmt.Fprintf(a.stdout, "neorun %s REPL\nCtrl+C cancels input, Ctrl+D exits. Type :help for commands.\n", unit.CompilerVersion)
			a.repl(cmd.Context(), a.pipeline(nil), ln, ln.AppendHistory)
			return nil
		},
	}
}

// repl evaluates entries until input ends or :quit. Every entry runs in the
// same scope; top-level assignments persist between entries.
func (a *app) repl(ctx context.Context, p *neorun.Pipeline, in prompter, remember func(string)) {
	scope := neorun.Scope{}
	for {
		code, ok := readEntry(in)
		if !ok {
			fmt.Fprintln(a.stdout)
			return
		}
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, ":") {
			switch strings.ToLower(trimmed) {
			case ":quit", ":q":
				return
			case ":help":
				fmt.Fprintln(a.stdout, replHelp)
			case ":scope":
				for _, name := range slices.Sorted(maps.Keys(scope)) {
					fmt.Fprintf(a.stdout, "%s = %s\n", name, describeValue(scope[name]))
				}
			case ":reset":
				scope = neorun.Scope{}
			default:
				fmt.Fprintln(a.stdout, "unknown command. Type :help for commands.")
			}
			continue
		}
		if remember != nil {
			remember(strings.ReplaceAll(code, "\n", " "))
		}

		delete(scope, neorun.ResponseKey)
		res := p.Eval(ctx, replUnit, code, scope)
		if res.Error {
			fmt.Fprintln(a.stderr, errStyle.Render(res.Exception))
			continue
		}
		if res.Response != nil {
			fmt.Fprintln(a.stdout, okStyle.Render(encodeJSON(res.Response)))
		}
		delete(scope, neorun.ResponseKey)
	}
}

// readEntry collects lines until they form a complete program or a
// definite syntax error. ok is false at end of input.
func readEntry(in prompter) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := in.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			if b.Len() > 0 {
				return b.String(), true
			}
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			b.Reset()
			continue
		}
		if err != nil {
			return "", false
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if _, perr := script.Parse(src); perr != nil && script.IsIncomplete(perr) {
			continue
		}
		return src, true
	}
}

// describeValue prints plain values as JSON and opaque ones by kind.
func describeValue(v any) string {
	if sv, ok := v.(script.Value); ok {
		return "<" + sv.Tag.String() + ">"
	}
	return encodeJSON(v)
}
