package executor

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iorp/neorun/internal/compiler"
	"github.com/iorp/neorun/internal/faults"
	"github.com/iorp/neorun/internal/script"
	"github.com/iorp/neorun/internal/unit"
)

// build compiles src next to a fresh temp dir and returns the artifact path.
func build(t *testing.T, src string) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "unit.nrc")
	_, err := compiler.New().CompileSource(src, out, compiler.WithEmbedSource(true))
	require.NoError(t, err)
	return out
}

func TestExecute_Response(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want any
	}{
		{"normal end", "__response__ = 42", int64(42)},
		{"early exit", "__response__ = \"done\"\nexit()\n__response__ = \"unreached\"", "done"},
		{"exit inside function", "def stop() do\n  exit(3, \"bye\")\nend\n__response__ = [1, 2]\nstop()\n__response__ = 0", []any{int64(1), int64(2)}},
		{"sys exit", "import sys\n__response__ = {ok: true}\nsys.exit(1)", map[string]any{"ok": true}},
		{"no response", "x = 1", nil},
		{"null response", "__response__ = null", nil},
		{"nested data", "__response__ = {a: [1.5, \"s\", null], b: {c: false}}",
			map[string]any{"a": []any{1.5, "s", nil}, "b": map[string]any{"c": false}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := New().Execute(build(t, tc.src), nil)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExecute_ScopeIsLocalFrame(t *testing.T) {
	path := build(t, `
def double(x) do
  return x * 2
end
total = double(base)
__response__ = total + bonus
`)
	scope := Scope{"base": 20, "bonus": int64(2), "tags": []string{"a"}}
	got, err := New().Execute(path, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	assert.Equal(t, int64(40), scope["total"])
	assert.Equal(t, int64(42), scope[ResponseKey])
	assert.Equal(t, int64(20), scope["base"], "inputs are written back in normalized form")
	assert.Equal(t, []any{"a"}, scope["tags"])
	assert.NotContains(t, scope, "double", "definitions bind in the global frame")
}

func TestExecute_ScopeWrittenBackOnFault(t *testing.T) {
	path := build(t, "before = 1\nfail(\"boom\")\nafter = 2")
	scope := Scope{}
	_, err := New().Execute(path, scope)
	require.ErrorIs(t, err, faults.ErrRuntime)
	assert.Equal(t, int64(1), scope["before"])
	assert.NotContains(t, scope, "after")
}

func TestExecute_OpaqueValuesWrittenBack(t *testing.T) {
	path := build(t, "f = def(x) do\n  return x\nend\nimport math\nm = math")
	scope := Scope{}
	_, err := New().Execute(path, scope)
	require.NoError(t, err)
	require.IsType(t, script.Value{}, scope["f"])
	assert.Equal(t, script.VTFun, scope["f"].(script.Value).Tag)
	assert.Equal(t, script.VTModule, scope["m"].(script.Value).Tag)
}

func TestExecute_FaultBeforeResponse(t *testing.T) {
	for name, src := range map[string]string{
		"division":  "x = 1 / 0\n__response__ = x",
		"undefined": "__response__ = missing + 1",
		"fail":      "fail(\"custom failure\")",
		"recursion": "def f(n) do\n  return f(n + 1)\nend\n__response__ = f(0)",
	} {
		t.Run(name, func(t *testing.T) {
			got, err := New(WithMaxDepth(50)).Execute(build(t, src), nil)
			require.ErrorIs(t, err, faults.ErrRuntime)
			assert.Nil(t, got)
			assert.NotEmpty(t, err.Error())

			var re *script.RuntimeError
			assert.ErrorAs(t, err, &re)
		})
	}
}

func TestExecute_RuntimeErrorSnippet(t *testing.T) {
	path := build(t, "a = 1\nb = a / 0\n")
	_, err := New().Execute(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RUNTIME ERROR")
	assert.Contains(t, err.Error(), "division by zero")
	assert.Contains(t, err.Error(), "   2 | b = a / 0")
}

func TestExecute_LoadingFailures(t *testing.T) {
	dir := t.TempDir()

	_, err := New().Execute(filepath.Join(dir, "missing.nrc"), nil)
	require.ErrorIs(t, err, faults.ErrNotFound)
	assert.Contains(t, err.Error(), "missing.nrc")

	garbage := filepath.Join(dir, "garbage.nrc")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not a unit"), 0o644))
	_, err = New().Execute(garbage, nil)
	require.ErrorIs(t, err, faults.ErrDecode)
	assert.ErrorIs(t, err, unit.ErrMagic)

	good := build(t, "__response__ = 1")
	data, err := os.ReadFile(good)
	require.NoError(t, err)
	truncated := filepath.Join(dir, "truncated.nrc")
	require.NoError(t, os.WriteFile(truncated, data[:len(data)-5], 0o644))
	_, err = New().Execute(truncated, nil)
	require.ErrorIs(t, err, faults.ErrDecode)
}

func TestExecute_NoPartialExecutionOnCorruptArtifact(t *testing.T) {
	good := build(t, "print(\"side effect\")")
	data, err := os.ReadFile(good)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(good, data, 0o644))

	var out bytes.Buffer
	_, err = New(WithStdout(&out)).Execute(good, nil)
	require.ErrorIs(t, err, faults.ErrDecode)
	assert.Empty(t, out.String())
}

func TestExecute_ScopeTypeError(t *testing.T) {
	path := build(t, "__response__ = 1")
	_, err := New().Execute(path, Scope{"ch": make(chan int)})
	require.ErrorIs(t, err, faults.ErrType)
	assert.Contains(t, err.Error(), `"ch"`)
}

func TestExecute_CyclicScopeIsTypeError(t *testing.T) {
	path := build(t, "__response__ = 1")
	loop := map[string]any{"n": int64(1)}
	loop["self"] = loop
	_, err := New().Execute(path, Scope{"loop": loop})
	require.ErrorIs(t, err, faults.ErrType)
	assert.Contains(t, err.Error(), "reference cycle")
}

func TestExecute_CyclicEqualityIsNotFatal(t *testing.T) {
	path := build(t, "a = []\nappend(a, a)\nb = []\nappend(b, b)\n__response__ = a == b")
	got, err := New().Execute(path, nil)
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestExecute_InputSharedAcrossRuns(t *testing.T) {
	path := build(t, "__response__ = input()")
	e := New(WithStdin(strings.NewReader("first\nsecond\n")))

	for _, want := range []any{"first", "second", nil} {
		got, err := e.Execute(path, nil)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestExecute_DeeplyNestedExpression(t *testing.T) {
	got, err := New().Execute(build(t, "__response__ = "+strings.Repeat("-", 1900)+"7"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestExecute_OpaqueResponseIsTypeError(t *testing.T) {
	path := build(t, "__response__ = [def(x) do\n  return x\nend]")
	_, err := New().Execute(path, nil)
	require.ErrorIs(t, err, faults.ErrType)
	assert.Contains(t, err.Error(), ResponseKey)
}

func TestExecute_Repeatable(t *testing.T) {
	path := build(t, "import strings\n__response__ = {greeting: strings.upper(\"hi \" + who)}")
	ex := New()
	a, err := ex.Execute(path, Scope{"who": "rex"})
	require.NoError(t, err)
	b, err := ex.Execute(path, Scope{"who": "rex"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, map[string]any{"greeting": "HI REX"}, a)
}

func TestExecute_IO(t *testing.T) {
	path := build(t, "name = input(\"who? \")\nprint(\"hello\", name)\n__response__ = name")
	var out bytes.Buffer
	got, err := New(WithStdout(&out), WithStdin(strings.NewReader("ada\n"))).Execute(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "ada", got)
	assert.Equal(t, "who? hello ada\n", out.String())
}

func TestExecute_Argv(t *testing.T) {
	path := build(t, "import sys\n__response__ = sys.argv")
	got, err := New(WithArgv([]string{"a", "b"})).Execute(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)
}

func TestExecute_FileModules(t *testing.T) {
	lib := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(lib, "util"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(lib, "util", "greet.neo"),
		[]byte("_prefix = \"hi \"\ndef hello(n) do\n  return _prefix + n\nend\n"), 0o644))

	path := build(t, "import util.greet as g\n__response__ = g.hello(\"rex\")")

	_, err := New().Execute(path, nil)
	require.ErrorIs(t, err, faults.ErrRuntime)
	assert.Contains(t, err.Error(), "module not found: util.greet")

	got, err := New(WithModulePaths(lib)).Execute(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi rex", got)
}

func TestExecute_ImportsRelativeToSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "helper.neo"), []byte("answer = 42\n"), 0o644))
	src := filepath.Join(dir, "main.neo")
	require.NoError(t, os.WriteFile(src, []byte("import helper\n__response__ = helper.answer\n"), 0o644))

	out := filepath.Join(t.TempDir(), "elsewhere", "main.nrc")
	_, err := compiler.New().CompileFile(src, out)
	require.NoError(t, err)

	got, err := New().Execute(out, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestRun_DecodedUnit(t *testing.T) {
	u, err := compiler.New().Compile(compiler.Source{Name: "mem", Text: "__response__ = n + 1"})
	require.NoError(t, err)
	scope := Scope{"n": 1}
	got, err := New().Run(u, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	got, err = New().Run(u, Scope{"n": 41})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestExecute_LogsStateTransitions(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	path := build(t, "__response__ = 1\nexit()")

	_, err := New(WithLogger(zap.New(core))).Execute(path, nil)
	require.NoError(t, err)

	var states []string
	var runID string
	for _, e := range logs.FilterMessage("execution state").All() {
		ctx := e.ContextMap()
		states = append(states, ctx["state"].(string))
		if runID == "" {
			runID = ctx["run_id"].(string)
		}
		assert.Equal(t, runID, ctx["run_id"])
	}
	assert.Equal(t, []string{"Loading", "Running", "EarlyTerminated", "ResultExtracted"}, states)
	assert.Len(t, runID, 36)
}
