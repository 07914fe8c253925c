package lsp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// session frames client messages and decodes what the server wrote back.
type session struct {
	t  *testing.T
	in bytes.Buffer
}

func (s *session) send(id int, method string, params any) {
	s.t.Helper()
	msg := map[string]any{"jsonrpc": "2.0", "method": method}
	if id > 0 {
		msg["id"] = id
	}
	if params != nil {
		msg["params"] = params
	}
	require.NoError(s.t, writeMsg(&s.in, msg))
}

type reply struct {
	ID     *int            `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *ResponseError  `json:"error"`
}

func (s *session) serve() ([]reply, error) {
	s.t.Helper()
	var out bytes.Buffer
	err := NewServer(&out, nil).Serve(context.Background(), &s.in)

	var replies []reply
	r := bufio.NewReader(&out)
	for {
		body, rerr := readMsg(r)
		if errors.Is(rerr, io.EOF) {
			break
		}
		require.NoError(s.t, rerr)
		var rep reply
		require.NoError(s.t, json.Unmarshal(body, &rep), string(body))
		replies = append(replies, rep)
	}
	return replies, err
}

func open(uri, text string) map[string]any {
	return map[string]any{"textDocument": map[string]any{
		"uri": uri, "languageId": "neorun", "version": 1, "text": text,
	}}
}

func diagsOf(t *testing.T, r reply) PublishDiagnosticsParams {
	t.Helper()
	require.Equal(t, "textDocument/publishDiagnostics", r.Method)
	var p PublishDiagnosticsParams
	require.NoError(t, json.Unmarshal(r.Params, &p))
	return p
}

func TestServe_Lifecycle(t *testing.T) {
	s := &session{t: t}
	s.send(1, "initialize", map[string]any{"capabilities": map[string]any{}})
	s.send(0, "initialized", map[string]any{})
	s.send(2, "shutdown", nil)
	s.send(0, "exit", nil)

	replies, err := s.serve()
	require.NoError(t, err)
	require.Len(t, replies, 2)

	var init InitializeResult
	require.NoError(t, json.Unmarshal(replies[0].Result, &init))
	assert.Equal(t, 1, init.Capabilities.TextDocumentSync.Change)
	assert.True(t, init.Capabilities.DocumentSymbolProvider)
	assert.Equal(t, serverName, init.ServerInfo["name"])

	assert.Equal(t, 2, *replies[1].ID)
	assert.Equal(t, "null", string(replies[1].Result))
	assert.Nil(t, replies[1].Error)
}

func TestServe_ExitWithoutShutdown(t *testing.T) {
	s := &session{t: t}
	s.send(0, "exit", nil)
	_, err := s.serve()
	assert.ErrorIs(t, err, ErrExitWithoutShutdown)
}

func TestServe_EndOfInput(t *testing.T) {
	s := &session{t: t}
	replies, err := s.serve()
	assert.NoError(t, err)
	assert.Empty(t, replies)
}

func TestServe_CancelClosesInput(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- NewServer(io.Discard, nil).Serve(ctx, pr)
	}()

	cancel()
	require.NoError(t, <-errc)
	_, err := pw.Write([]byte("Content-Length: 2\r\n\r\n{}"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestServe_DiagnosticsFollowEdits(t *testing.T) {
	const uri = "file:///w/main.neo"
	s := &session{t: t}
	s.send(0, "textDocument/didOpen", open(uri, "x = 1\ny = )\n"))
	s.send(0, "textDocument/didChange", map[string]any{
		"textDocument":   map[string]any{"uri": uri, "version": 2},
		"contentChanges": []any{map[string]any{"text": "x = 1\ny = 2\n"}},
	})
	s.send(0, "textDocument/didClose", map[string]any{"textDocument": map[string]any{"uri": uri}})

	replies, err := s.serve()
	require.NoError(t, err)
	require.Len(t, replies, 3)

	first := diagsOf(t, replies[0])
	assert.Equal(t, uri, first.URI)
	require.Len(t, first.Diagnostics, 1)
	d := first.Diagnostics[0]
	assert.Equal(t, "PARSE", d.Code)
	assert.Equal(t, 1, d.Severity)
	assert.Equal(t, diagSource, d.Source)
	assert.Contains(t, d.Message, "expected expression")
	assert.Equal(t, Range{Start: Position{1, 4}, End: Position{1, 5}}, d.Range)

	assert.Empty(t, diagsOf(t, replies[1]).Diagnostics)
	assert.Empty(t, diagsOf(t, replies[2]).Diagnostics)
	assert.Contains(t, string(replies[2].Params), `"diagnostics":[]`)
}

func TestServe_DocumentSymbols(t *testing.T) {
	const uri = "file:///w/lib.neo"
	src := "import math as m\n\ndef area(w, h) do\n  return w * h\nend\n\nsq = def(x) do return x * x end\nlimit = 10\nlimit.max = 3\n"
	s := &session{t: t}
	s.send(0, "textDocument/didOpen", open(uri, src))
	s.send(7, "textDocument/documentSymbol", map[string]any{"textDocument": map[string]any{"uri": uri}})
	s.send(8, "textDocument/documentSymbol", map[string]any{"textDocument": map[string]any{"uri": "file:///unknown.neo"}})

	replies, err := s.serve()
	require.NoError(t, err)
	require.Len(t, replies, 3)

	var syms []DocumentSymbol
	require.NoError(t, json.Unmarshal(replies[1].Result, &syms))
	require.Len(t, syms, 4)

	assert.Equal(t, "m", syms[0].Name)
	assert.Equal(t, SymbolModule, syms[0].Kind)
	assert.Equal(t, "math", syms[0].Detail)
	assert.Equal(t, Range{Start: Position{0, 15}, End: Position{0, 16}}, syms[0].SelectionRange)

	area := syms[1]
	assert.Equal(t, "area", area.Name)
	assert.Equal(t, SymbolFunction, area.Kind)
	assert.Equal(t, "(w, h)", area.Detail)
	assert.Equal(t, Range{Start: Position{2, 0}, End: Position{4, 3}}, area.Range)
	assert.Equal(t, Range{Start: Position{2, 4}, End: Position{2, 8}}, area.SelectionRange)

	assert.Equal(t, "sq", syms[2].Name)
	assert.Equal(t, SymbolFunction, syms[2].Kind)
	assert.Equal(t, "(x)", syms[2].Detail)

	assert.Equal(t, "limit", syms[3].Name)
	assert.Equal(t, SymbolVariable, syms[3].Kind)

	assert.Equal(t, "[]", string(replies[2].Result))
}

func TestServe_Errors(t *testing.T) {
	s := &session{t: t}
	s.in.WriteString("Content-Length: 5\r\n\r\n{oops")
	s.send(3, "textDocument/hover", map[string]any{})
	s.send(0, "$/cancelRequest", map[string]any{"id": 1})
	s.send(4, "textDocument/documentSymbol", "not an object")
	s.send(5, "shutdown", nil)
	s.send(6, "textDocument/documentSymbol", map[string]any{})
	s.send(0, "exit", nil)

	replies, err := s.serve()
	require.NoError(t, err)
	require.Len(t, replies, 5)

	assert.Equal(t, codeParseError, replies[0].Error.Code)
	assert.Nil(t, replies[0].ID)
	assert.Equal(t, codeMethodNotFound, replies[1].Error.Code)
	assert.Equal(t, codeInvalidParams, replies[2].Error.Code)
	assert.Equal(t, 5, *replies[3].ID)
	assert.Equal(t, codeInvalidRequest, replies[4].Error.Code)
}

func TestReadMsg_Framing(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("X-Other: 1\r\ncontent-length: 2\r\n\r\n{}"))
	body, err := readMsg(r)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))
	_, err = readMsg(r)
	assert.ErrorIs(t, err, io.EOF)

	_, err = readMsg(bufio.NewReader(strings.NewReader("Content-Length: x\r\n\r\n")))
	assert.ErrorContains(t, err, "bad Content-Length")
	_, err = readMsg(bufio.NewReader(strings.NewReader("\r\n{}")))
	assert.ErrorContains(t, err, "missing Content-Length")
	_, err = readMsg(bufio.NewReader(strings.NewReader("Content-Length: 10\r\n\r\n{}")))
	assert.ErrorContains(t, err, "read body")
}

func TestWordIndex(t *testing.T) {
	assert.Equal(t, 15, wordIndex("import math as m", "m"))
	assert.Equal(t, 4, wordIndex("def area(w, h) do", "area"))
	assert.Equal(t, -1, wordIndex("areas = 1", "area"))
}

func TestDiagnostics_UTF16Columns(t *testing.T) {
	// "é" is two bytes but one UTF-16 unit.
	diags := diagnostics("s = \"é\" + )")
	require.Len(t, diags, 1)
	assert.Equal(t, Position{0, 10}, diags[0].Range.Start)
	assert.Equal(t, Position{0, 11}, diags[0].Range.End)
}

func TestDiagnostics_EndOfInput(t *testing.T) {
	diags := diagnostics("x = [1, 2")
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "end of input")
	assert.Equal(t, 0, diags[0].Range.Start.Line)
}

func TestDiagnostics_Check(t *testing.T) {
	diags := diagnostics("x = 1\nbreak\n")
	require.Len(t, diags, 1)
	assert.Equal(t, "CHECK", diags[0].Code)
	assert.Equal(t, 1, diags[0].Range.Start.Line)
}
