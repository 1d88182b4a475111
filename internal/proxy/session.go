// Package proxy implements the Session (spec.md §4.8): the editor-facing
// LSP handshake, capability advertisement, and request dispatch into the
// Message Router.
//
// Session generalizes the teacher's Server (simon-lentz-yammm/lsp/server.go):
// same protocol.Handler wiring for the lifecycle methods, the same
// RunStdio/idempotent-Close (sync.Once) shape, and the same
// commonlog.Configure(0, nil) silencing of glsp's internal logger in favor
// of slog. Where the teacher dispatches directly to its own Workspace by
// URI-extension switch, Session instead hands every position-bearing
// request to router.Router, which owns the URI-extension/block-language
// dispatch generalized across every configured language.
package proxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple" // required backend for glsp
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/AlexanderBrevig/literate-lsp/internal/child"
	"github.com/AlexanderBrevig/literate-lsp/internal/config"
	"github.com/AlexanderBrevig/literate-lsp/internal/posmap"
	"github.com/AlexanderBrevig/literate-lsp/internal/router"
	"github.com/AlexanderBrevig/literate-lsp/internal/rpc"
)

const serverName = "literate-lsp"

// replyResult is what a forwarded request eventually resolves to: either a
// translated result or an error from the owning child.
type replyResult struct {
	result json.RawMessage
	errObj *rpc.Error
}

// Session drives the editor-facing glsp server and is the RespondEditor/
// NotifyEditor implementation the Router talks back through.
type Session struct {
	logger   *slog.Logger
	router   *router.Router
	children *child.Manager
	resolver *config.Resolver

	handler protocol.Handler
	server  *glspserver.Server

	notifyMu sync.Mutex
	notifyFn func(method string, params any)

	repliesMu  sync.Mutex
	replies    map[string]chan replyResult
	replyCount int64

	shutdownCalled bool
	closeOnce      sync.Once
	closeErr       error
}

// NewSession constructs a Session wired to r (whose SetEditorCallbacks is
// called here) and children (shut down on the LSP shutdown/exit sequence).
func NewSession(logger *slog.Logger, r *router.Router, children *child.Manager, resolver *config.Resolver) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	// glsp uses commonlog internally; this server logs exclusively through
	// slog, same silencing the teacher applies in its own NewServer.
	commonlog.Configure(0, nil)

	s := &Session{
		logger:   logger.With(slog.String("component", "session")),
		router:   r,
		children: children,
		resolver: resolver,
		replies:  make(map[string]chan replyResult),
	}
	r.SetEditorCallbacks(s.notifyEditor, s.respondEditor)

	s.handler = protocol.Handler{
		Initialize:    s.initialize,
		Initialized:   s.initialized,
		Shutdown:      s.shutdown,
		Exit:          s.exit,
		SetTrace:      s.setTrace,
		CancelRequest: s.cancelRequest,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentHover:             s.textDocumentHover,
		TextDocumentDefinition:        s.textDocumentDefinition,
		TextDocumentDeclaration:       s.textDocumentDeclaration,
		TextDocumentTypeDefinition:    s.textDocumentTypeDefinition,
		TextDocumentImplementation:    s.textDocumentImplementation,
		TextDocumentReferences:        s.textDocumentReferences,
		TextDocumentDocumentHighlight: s.textDocumentDocumentHighlight,
		TextDocumentDocumentSymbol:    s.textDocumentDocumentSymbol,
		TextDocumentCompletion:        s.textDocumentCompletion,
		TextDocumentSignatureHelp:     s.textDocumentSignatureHelp,
		TextDocumentPrepareRename:     s.textDocumentPrepareRename,
		TextDocumentRename:            s.textDocumentRename,

		WorkspaceSymbol: s.workspaceSymbol,
	}
	s.server = glspserver.NewServer(&s.handler, serverName, false)
	return s
}

// Handler exposes the protocol.Handler for testing, mirroring the teacher's
// Server.Handler.
func (s *Session) Handler() *protocol.Handler {
	return &s.handler
}

// RunStdio runs the editor-facing server over stdio. It blocks until the
// connection closes (by the editor disconnecting, Close, or exit).
func (s *Session) RunStdio() error {
	if err := s.server.RunStdio(); err != nil {
		return fmt.Errorf("run stdio: %w", err)
	}
	return nil
}

// Close closes the editor connection, causing RunStdio to return. Idempotent:
// safe to call multiple times or before RunStdio has initialized the
// connection (mirrors the teacher's Server.Close).
func (s *Session) Close() error {
	conn := s.server.GetStdio()
	if conn == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		if err := conn.Close(); err != nil {
			s.closeErr = fmt.Errorf("close connection: %w", err)
		}
	})
	return s.closeErr
}

// notifyEditor implements router.NotifyEditor. The notify function is
// captured once from the `initialized` handler's *glsp.Context and reused
// for the session's lifetime: unlike the teacher's didOpen/didChange,
// where analysis and its eventual ctx.Notify call happen within the same
// handler invocation, a child's publishDiagnostics can arrive on that
// child's own reader goroutine at any time, with no editor-triggered
// *glsp.Context available to capture fresh.
func (s *Session) notifyEditor(method string, params any) error {
	s.notifyMu.Lock()
	fn := s.notifyFn
	s.notifyMu.Unlock()
	if fn == nil {
		return fmt.Errorf("session: editor connection not yet initialized")
	}
	fn(method, params)
	return nil
}

// respondEditor implements router.RespondEditor: it resolves the reply
// channel registered by call() for id, or silently drops the reply if no
// caller is waiting (a cancelled or already-answered request).
func (s *Session) respondEditor(id json.RawMessage, result json.RawMessage, errObj *rpc.Error) error {
	key := string(id)
	s.repliesMu.Lock()
	ch, ok := s.replies[key]
	if ok {
		delete(s.replies, key)
	}
	s.repliesMu.Unlock()
	if !ok {
		return nil
	}
	ch <- replyResult{result: result, errObj: errObj}
	return nil
}

// call forwards a position-bearing request to the Router and blocks for
// its translated reply. The correlation id is local to the Session — it
// need not match anything the editor itself assigned, since glsp already
// owns matching a handler's return value back to the client's original
// JSON-RPC id; the Session only needs a handle to route the Router's
// eventual respondEditor call back to the right blocked goroutine.
func (s *Session) call(method, hostURI string, hostPos posmap.Position, buildParams func(virtualURI string, vpos posmap.Position) any) (json.RawMessage, error) {
	id := strconv.FormatInt(atomic.AddInt64(&s.replyCount, 1), 10)
	ch := make(chan replyResult, 1)

	s.repliesMu.Lock()
	s.replies[id] = ch
	s.repliesMu.Unlock()

	if err := s.router.ForwardRequest(json.RawMessage(id), method, hostURI, hostPos, buildParams); err != nil {
		s.repliesMu.Lock()
		delete(s.replies, id)
		s.repliesMu.Unlock()
		return nil, err
	}

	reply := <-ch
	if reply.errObj != nil {
		return nil, fmt.Errorf("%s: %s", method, reply.errObj.Message)
	}
	return reply.result, nil
}

func toPosmapPosition(p protocol.Position) posmap.Position {
	return posmap.Position{Line: int(p.Line), Col: int(p.Character)}
}

func toProtocolPosition(p posmap.Position) protocol.Position {
	return protocol.Position{Line: protocol.UInteger(p.Line), Character: protocol.UInteger(p.Col)}
}

// unmarshalResult decodes a forwarded result into dst, treating an empty or
// JSON-null result as "no result" (dst left unmodified, ok=false) rather
// than an error: both OutsideBlock and a child's own legitimate null
// answer take this shape (spec.md §7).
func unmarshalResult(result json.RawMessage, dst any) (bool, error) {
	if len(result) == 0 || string(result) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(result, dst); err != nil {
		return false, err
	}
	return true, nil
}
