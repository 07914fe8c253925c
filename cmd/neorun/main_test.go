package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iorp/neorun"
	"github.com/iorp/neorun/internal/config"
	"github.com/iorp/neorun/internal/unit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type cliResult struct {
	code   int
	stdout string
	stderr string
}

// runCLI invokes the CLI with an isolated config path.
func runCLI(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	return runCLIContext(t, context.Background(), stdin, args...)
}

func runCLIContext(t *testing.T, ctx context.Context, stdin string, args ...string) cliResult {
	t.Helper()
	var out, errb bytes.Buffer
	args = append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...)
	code := run(ctx, args, strings.NewReader(stdin), &out, &errb)
	return cliResult{code: code, stdout: out.String(), stderr: errb.String()}
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m), "stdout: %s", s)
	return m
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCompileExecInspect(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "greet.neo", "__response__ = {greeting: \"hi \" + who, n: n * 2}\n")
	art := filepath.Join(dir, "out", "greet.nrc")

	res := runCLI(t, "", "compile", src, "-o", art, "--embed-source")
	require.Equal(t, exitOK, res.code, res.stderr)
	m := decode(t, res.stdout)
	assert.Equal(t, false, m["error"])
	assert.Equal(t, art, m["artifact"])
	assert.Equal(t, true, m["unit"].(map[string]any)["embedded_source"])

	res = runCLI(t, "", "exec", art, "--set", "who=rex", "--set", "n=21")
	require.Equal(t, exitOK, res.code, res.stderr)
	m = decode(t, res.stdout)
	assert.Equal(t, map[string]any{"greeting": "hi rex", "n": float64(42)}, m["response"])

	res = runCLI(t, "", "inspect", art)
	require.Equal(t, exitOK, res.code, res.stderr)
	m = decode(t, res.stdout)
	content := m["content"].(map[string]any)
	assert.Equal(t, src, content["name"])
	assert.Equal(t, float64(unit.FormatVersion), content["format_version"])
}

func TestRun_ScopeFileAndArgv(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "main.neo", "import sys\nprint(\"side\")\n__response__ = {base: base, args: sys.argv}\n")
	scopeFile := filepath.Join(dir, "scope.json")
	require.True(t, neorun.WriteStructured(scopeFile, map[string]any{"base": "file"}).OK())

	res := runCLI(t, "", "run", src, "-o", filepath.Join(dir, "main.nrc"), "--scope", scopeFile, "--", "a", "b")
	require.Equal(t, exitOK, res.code, res.stderr)
	printed, result, found := strings.Cut(res.stdout, "\n")
	require.True(t, found)
	assert.Equal(t, "side", printed)
	m := decode(t, result)
	assert.Equal(t, map[string]any{"base": "file", "args": []any{"a", "b"}}, m["response"])

	res = runCLI(t, "", "run", src, "-o", filepath.Join(dir, "main.nrc"), "--scope", scopeFile, "--set", "base=flag")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"base": "flag"`)
}

func TestRun_DefaultArtifactPath(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "calc.neo", "__response__ = 1 + 1\n")
	t.Setenv("NEORUN_BUILD_DIR", filepath.Join(dir, "build"))

	res := runCLI(t, "", "run", src)
	require.Equal(t, exitOK, res.code, res.stderr)
	_, err := os.Stat(filepath.Join(dir, "build", "calc.nrc"))
	assert.NoError(t, err)
}

func TestFailuresExitOne(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.neo", "x = 1 / 0\n")

	res := runCLI(t, "", "--pretty", "run", bad, "-o", filepath.Join(dir, "bad.nrc"))
	assert.Equal(t, exitFailed, res.code)
	m := decode(t, res.stdout)
	assert.Equal(t, true, m["error"])
	assert.Contains(t, m["exception"], "division by zero")
	assert.NotContains(t, m, "response")
	assert.Contains(t, res.stderr, "RuntimeFault")

	res = runCLI(t, "", "compile", filepath.Join(dir, "missing.neo"), "-o", filepath.Join(dir, "m.nrc"))
	assert.Equal(t, exitFailed, res.code)
	assert.Contains(t, decode(t, res.stdout)["exception"], "missing.neo")

	res = runCLI(t, "", "exec", filepath.Join(dir, "missing.nrc"))
	assert.Equal(t, exitFailed, res.code)
}

func TestUsageErrorsExitTwo(t *testing.T) {
	for name, args := range map[string][]string{
		"unknown command": {"frobnicate"},
		"missing source":  {"compile"},
		"bad set":         {"exec", "x.nrc", "--set", "novalue"},
		"unknown flag":    {"run", "x.neo", "--nope"},
	} {
		t.Run(name, func(t *testing.T) {
			res := runCLI(t, "", args...)
			assert.Equal(t, exitUsage, res.code)
			assert.Contains(t, res.stderr, appName+":")
		})
	}
}

func TestInvalidConfigExitTwo(t *testing.T) {
	path := writeFile(t, t.TempDir(), "neorun.yaml", "logging:\n  level: shout\n")
	var out, errb bytes.Buffer
	code := run(context.Background(), []string{"--config", path, "version"}, strings.NewReader(""), &out, &errb)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, errb.String(), "logging.level")
}

func TestVersion(t *testing.T) {
	res := runCLI(t, "", "version")
	require.Equal(t, exitOK, res.code)
	assert.Contains(t, res.stdout, unit.CompilerVersion)
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, int64(3), parseValue("3"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, []any{"a"}, parseValue(`["a"]`))
	assert.Equal(t, "plain text", parseValue("plain text"))
	assert.Equal(t, "", parseValue(""))
}

// scripted feeds fixed lines to the REPL.
type scripted struct{ lines []string }

func (s *scripted) Prompt(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func TestRepl(t *testing.T) {
	var out, errb bytes.Buffer
	a := &app{stdin: strings.NewReader(""), stdout: &out, stderr: &errb, cfg: config.DefaultConfig()}
	in := &scripted{lines: []string{
		"x = 20",
		"if x > 10 then",
		"  x = x + 1",
		"end",
		"__response__ = x * 2",
		"y = )",
		":scope",
		":reset",
		"__response__ = x",
		":quit",
		"never = 1",
	}}
	var history []string
	a.repl(context.Background(), neorun.New(), in, func(s string) { history = append(history, s) })

	assert.Contains(t, out.String(), "42")
	assert.Contains(t, out.String(), "x = 21")
	assert.Contains(t, errb.String(), "PARSE ERROR")
	assert.Contains(t, errb.String(), "undefined variable: x", "scope was reset")
	assert.Contains(t, history, "if x > 10 then   x = x + 1 end")
	assert.NotContains(t, history, "never = 1")
}

func TestReadEntry_EndOfInput(t *testing.T) {
	_, ok := readEntry(&scripted{})
	assert.False(t, ok)

	code, ok := readEntry(&scripted{lines: []string{"while true do"}})
	assert.True(t, ok, "partial input is returned at EOF")
	assert.Equal(t, "while true do", code)
}

func TestWatch_RebuildsOnWrite(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "live.neo", "__response__ = 1\n")
	art := filepath.Join(dir, "live.nrc")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan cliResult, 1)
	go func() {
		var out, errb bytes.Buffer
		code := run(ctx, []string{"--config", filepath.Join(dir, "none.yaml"), "watch", src, "-o", art, "--exec"},
			strings.NewReader(""), &out, &errb)
		done <- cliResult{code: code, stdout: out.String(), stderr: errb.String()}
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(art)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "initial build")
	first, err := os.ReadFile(art)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(src, []byte("__response__ = 2\n"), 0o644))
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(art)
		return err == nil && !bytes.Equal(data, first)
	}, 5*time.Second, 20*time.Millisecond, "rebuild after write")

	cancel()
	var res cliResult
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
	assert.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"response": 1`)
	assert.Contains(t, res.stdout, `"response": 2`)
}

func frame(body string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}

func TestLsp(t *testing.T) {
	in := frame(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`) +
		frame(`{"jsonrpc":"2.0","method":"textDocument/didOpen","params":{"textDocument":{"uri":"file:///a.neo","languageId":"neorun","version":1,"text":"x = )"}}}`) +
		frame(`{"jsonrpc":"2.0","id":2,"method":"shutdown"}`) +
		frame(`{"jsonrpc":"2.0","method":"exit"}`)

	res := runCLI(t, in, "lsp")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"documentSymbolProvider":true`)
	assert.Contains(t, res.stdout, `"method":"textDocument/publishDiagnostics"`)
	assert.Contains(t, res.stdout, "expected expression")

	res = runCLI(t, frame(`{"jsonrpc":"2.0","method":"exit"}`), "lsp")
	assert.Equal(t, exitFailed, res.code)
}
