// Package lsp serves a small Language Server Protocol endpoint for neorun
// sources over a Content-Length framed stream. Documents are synced in full;
// each change recompiles the document and publishes its diagnostics. Top-level
// definitions are offered as document symbols.
package lsp

import (
	"bufio"
	"context"
	"errors"
	"io"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/iorp/neorun/internal/unit"
)

// ErrExitWithoutShutdown is returned by Serve when the client sent exit
// before shutdown.
var ErrExitWithoutShutdown = errors.New("lsp: exit before shutdown")

const serverName = "neorun-lsp"

// Server holds the open documents of one client session. It is driven by
// Serve and is not safe for concurrent use.
type Server struct {
	out      io.Writer
	log      *zap.Logger
	docs     map[string]string
	shutdown bool
}

// NewServer returns a server that writes responses and notifications to
// out. A nil log discards log output.
func NewServer(out io.Writer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{out: out, log: log, docs: make(map[string]string)}
}

type inbound struct {
	body []byte
	err  error
}

// Serve processes messages from in until exit, end of input or ctx ends.
// Reads happen on a separate goroutine. On return Serve closes in when it
// is an io.Closer, which ends that goroutine; any other reader keeps it
// blocked until in yields data or reaches its end.
func (s *Server) Serve(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		if c, ok := in.(io.Closer); ok {
			_ = c.Close()
		}
	}()

	msgs := make(chan inbound)
	go func() {
		defer close(msgs)
		r := bufio.NewReader(in)
		for {
			body, err := readMsg(r)
			select {
			case msgs <- inbound{body, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			if errors.Is(m.err, io.EOF) {
				return nil
			}
			if m.err != nil {
				return m.err
			}
			done, err := s.handle(m.body)
			if done {
				return err
			}
		}
	}
}

// handle dispatches one message. done is set once the client sent exit.
func (s *Server) handle(body []byte) (done bool, err error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.log.Warn("malformed message", zap.Error(err))
		s.respond(nil, nil, &ResponseError{Code: codeParseError, Message: err.Error()})
		return false, nil
	}
	s.log.Debug("lsp message", zap.String("method", req.Method))

	if s.shutdown && req.Method != "exit" {
		if len(req.ID) > 0 {
			s.respond(req.ID, nil, &ResponseError{Code: codeInvalidRequest, Message: "server is shut down"})
		}
		return false, nil
	}

	switch req.Method {
	case "initialize":
		s.respond(req.ID, InitializeResult{
			Capabilities: ServerCapabilities{
				TextDocumentSync:       TextDocumentSyncOptions{OpenClose: true, Change: 1},
				DocumentSymbolProvider: true,
			},
			ServerInfo: map[string]string{"name": serverName, "version": unit.CompilerVersion},
		}, nil)
	case "initialized":
	case "shutdown":
		s.shutdown = true
		s.respond(req.ID, nil, nil)
	case "exit":
		if !s.shutdown {
			return true, ErrExitWithoutShutdown
		}
		return true, nil

	case "textDocument/didOpen":
		var p DidOpenParams
		if s.decode(req, &p) {
			s.docs[p.TextDocument.URI] = p.TextDocument.Text
			s.publish(p.TextDocument.URI)
		}
	case "textDocument/didChange":
		var p DidChangeParams
		if s.decode(req, &p) && len(p.ContentChanges) > 0 {
			s.docs[p.TextDocument.URI] = p.ContentChanges[len(p.ContentChanges)-1].Text
			s.publish(p.TextDocument.URI)
		}
	case "textDocument/didClose":
		var p DidCloseParams
		if s.decode(req, &p) {
			delete(s.docs, p.TextDocument.URI)
			s.notify("textDocument/publishDiagnostics", PublishDiagnosticsParams{
				URI:         p.TextDocument.URI,
				Diagnostics: []Diagnostic{},
			})
		}
	case "textDocument/documentSymbol":
		var p DocumentSymbolParams
		if s.decode(req, &p) {
			syms := []DocumentSymbol{}
			if text, ok := s.docs[p.TextDocument.URI]; ok {
				syms = documentSymbols(text)
			}
			s.respond(req.ID, syms, nil)
		}

	default:
		// Unknown notifications are ignored.
		if len(req.ID) > 0 {
			s.respond(req.ID, nil, &ResponseError{Code: codeMethodNotFound, Message: "method not found: " + req.Method})
		}
	}
	return false, nil
}

// decode unmarshals the params of req, answering requests with
// InvalidParams on failure.
func (s *Server) decode(req Request, v any) bool {
	if err := json.Unmarshal(req.Params, v); err != nil {
		s.log.Warn("bad params", zap.String("method", req.Method), zap.Error(err))
		if len(req.ID) > 0 {
			s.respond(req.ID, nil, &ResponseError{Code: codeInvalidParams, Message: err.Error()})
		}
		return false
	}
	return true
}

func (s *Server) publish(uri string) {
	s.notify("textDocument/publishDiagnostics", PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics(s.docs[uri]),
	})
}

func (s *Server) respond(id json.RawMessage, result any, rerr *ResponseError) {
	if id == nil {
		id = json.RawMessage("null")
	}
	if result == nil && rerr == nil {
		result = json.RawMessage("null")
	}
	s.write(Response{JSONRPC: "2.0", ID: id, Result: result, Error: rerr})
}

func (s *Server) notify(method string, params any) {
	s.write(notification{JSONRPC: "2.0", Method: method, Params: params})
}

func (s *Server) write(v any) {
	if err := writeMsg(s.out, v); err != nil {
		s.log.Error("write failed", zap.Error(err))
	}
}
