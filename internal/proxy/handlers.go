package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/AlexanderBrevig/literate-lsp/internal/posmap"
	"github.com/AlexanderBrevig/literate-lsp/internal/rpc"
)

// initialize handles the initialize request, advertising the union-of-
// children capability set (spec.md §4.8). Grounded directly on the
// teacher's own initialize (lsp/server.go): same client-capability
// logging, same ServerInfo shape.
func (s *Session) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.logger.Info("initialize request received", slog.String("client_name", clientName(params)))

	version := "dev"
	return protocol.InitializeResult{
		Capabilities: serverCapabilities(s.resolver.Languages()),
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    serverName,
			Version: &version,
		},
	}, nil
}

func clientName(params *protocol.InitializeParams) string {
	if params.ClientInfo == nil {
		return "unknown"
	}
	if params.ClientInfo.Version != nil {
		return params.ClientInfo.Name + " " + *params.ClientInfo.Version
	}
	return params.ClientInfo.Name
}

// initialized captures this connection's Notify function for the
// Session's lifetime (see session.go's notifyEditor doc comment for why
// this must happen once here rather than being re-derived per handler
// call).
func (s *Session) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	s.notifyMu.Lock()
	s.notifyFn = ctx.Notify
	s.notifyMu.Unlock()
	s.logger.Info("session initialized")
	return nil
}

// shutdown tears down every started child (spec.md §4.5 "shutdown policy")
// ahead of the editor's exit notification.
func (s *Session) shutdown(ctx *glsp.Context) error {
	s.logger.Info("shutdown request received")
	s.shutdownCalled = true
	s.children.ShutdownAll(shutdownRequestPayload, exitNotificationPayload)
	return nil
}

// exit terminates the process per the LSP lifecycle: exit code 0 if
// shutdown preceded it, 1 otherwise (mirrors the teacher's exit).
func (s *Session) exit(_ *glsp.Context) error {
	exitCode := 0
	if !s.shutdownCalled {
		s.logger.Warn("exit called without a preceding shutdown")
		exitCode = 1
	}
	s.logger.Info("exit notification received", slog.Int("exit_code", exitCode))
	os.Exit(exitCode)
	return nil
}

func (s *Session) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	s.logger.Debug("setTrace", slog.String("value", string(params.Value)))
	protocol.SetTraceValue(params.Value)
	return nil
}

// cancelRequest logs the editor's cancellation. literate-lsp cannot map a
// $/cancelRequest notification's id back to a specific outstanding
// forwarded request: glsp hands request handlers a Context carrying only
// Method/Params, never the wire-level JSON-RPC id the client used, so
// there is nothing to look the PendingRequest up by. The teacher's own
// cancelRequest (lsp/server.go) documents the identical gap for its
// single-process case; it is unavoidable here too without patching glsp
// itself.
func (s *Session) cancelRequest(ctx *glsp.Context, params *protocol.CancelParams) error {
	s.logger.Debug("cancelRequest received, best-effort only", slog.Any("id", params.ID))
	return nil
}

func (s *Session) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	dialect, ok := dialectForURI(uri)
	if !ok {
		s.logger.Debug("ignoring didOpen for unsupported file type", slog.String("uri", uri))
		return nil
	}
	s.router.OpenDocument(uri, params.TextDocument.Text, dialect)
	return nil
}

func (s *Session) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI
	if _, ok := dialectForURI(uri); !ok {
		return nil
	}
	for _, rawChange := range params.ContentChanges {
		if change, ok := rawChange.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.router.ChangeDocument(uri, change.Text)
		}
	}
	return nil
}

func (s *Session) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	if _, ok := dialectForURI(uri); !ok {
		return nil
	}
	s.router.CloseDocument(uri)
	return nil
}

func (s *Session) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	result, err := s.call("textDocument/hover", params.TextDocument.URI, toPosmapPosition(params.Position),
		hoverLikeParams)
	if err != nil {
		return nil, err
	}
	var hover protocol.Hover
	ok, err := unmarshalResult(result, &hover)
	if err != nil || !ok {
		return nil, err
	}
	return &hover, nil
}

func (s *Session) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	result, err := s.call("textDocument/definition", params.TextDocument.URI, toPosmapPosition(params.Position), hoverLikeParams)
	if err != nil {
		return nil, err
	}
	return passthroughResult(result), nil
}

func (s *Session) textDocumentTypeDefinition(ctx *glsp.Context, params *protocol.TypeDefinitionParams) (any, error) {
	result, err := s.call("textDocument/typeDefinition", params.TextDocument.URI, toPosmapPosition(params.Position), hoverLikeParams)
	if err != nil {
		return nil, err
	}
	return passthroughResult(result), nil
}

func (s *Session) textDocumentImplementation(ctx *glsp.Context, params *protocol.ImplementationParams) (any, error) {
	result, err := s.call("textDocument/implementation", params.TextDocument.URI, toPosmapPosition(params.Position), hoverLikeParams)
	if err != nil {
		return nil, err
	}
	return passthroughResult(result), nil
}

func (s *Session) textDocumentDeclaration(ctx *glsp.Context, params *protocol.DeclarationParams) (any, error) {
	result, err := s.call("textDocument/declaration", params.TextDocument.URI, toPosmapPosition(params.Position), hoverLikeParams)
	if err != nil {
		return nil, err
	}
	return passthroughResult(result), nil
}

// textDocumentCompletion is grounded on the teacher's own
// textDocumentCompletion (provider_completion.go) for the handler
// signature; its YAMMM-specific completion heuristics don't generalize to
// literate-lsp's forward-to-child model, so the body instead follows the
// same call-and-translate shape as hover/definition. Completion item
// textEdit ranges are inverse-mapped by the Router (spec.md §4.6); items
// with plain insertText pass through unchanged.
func (s *Session) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	result, err := s.call("textDocument/completion", params.TextDocument.URI, toPosmapPosition(params.Position), hoverLikeParams)
	if err != nil {
		return nil, err
	}
	return passthroughResult(result), nil
}

func (s *Session) textDocumentSignatureHelp(ctx *glsp.Context, params *protocol.SignatureHelpParams) (*protocol.SignatureHelp, error) {
	result, err := s.call("textDocument/signatureHelp", params.TextDocument.URI, toPosmapPosition(params.Position), hoverLikeParams)
	if err != nil {
		return nil, err
	}
	var help protocol.SignatureHelp
	ok, err := unmarshalResult(result, &help)
	if err != nil || !ok {
		return nil, err
	}
	return &help, nil
}

func (s *Session) textDocumentPrepareRename(ctx *glsp.Context, params *protocol.PrepareRenameParams) (any, error) {
	result, err := s.call("textDocument/prepareRename", params.TextDocument.URI, toPosmapPosition(params.Position), hoverLikeParams)
	if err != nil {
		return nil, err
	}
	return passthroughResult(result), nil
}

func (s *Session) textDocumentRename(ctx *glsp.Context, params *protocol.RenameParams) (*protocol.WorkspaceEdit, error) {
	newName := params.NewName
	result, err := s.call("textDocument/rename", params.TextDocument.URI, toPosmapPosition(params.Position),
		func(virtualURI string, vpos posmap.Position) any {
			return renameRequest{
				TextDocument: protocol.TextDocumentIdentifier{URI: virtualURI},
				Position:     toProtocolPosition(vpos),
				NewName:      newName,
			}
		})
	if err != nil {
		return nil, err
	}
	var edit protocol.WorkspaceEdit
	ok, err := unmarshalResult(result, &edit)
	if err != nil || !ok {
		return nil, err
	}
	return &edit, nil
}

func (s *Session) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	refContext := params.Context
	result, err := s.call("textDocument/references", params.TextDocument.URI, toPosmapPosition(params.Position),
		func(virtualURI string, vpos posmap.Position) any {
			return referenceRequest{
				TextDocument: protocol.TextDocumentIdentifier{URI: virtualURI},
				Position:     toProtocolPosition(vpos),
				Context:      refContext,
			}
		})
	if err != nil {
		return nil, err
	}
	var locs []protocol.Location
	if _, err := unmarshalResult(result, &locs); err != nil {
		return nil, err
	}
	return locs, nil
}

func (s *Session) textDocumentDocumentHighlight(ctx *glsp.Context, params *protocol.DocumentHighlightParams) ([]protocol.DocumentHighlight, error) {
	result, err := s.call("textDocument/documentHighlight", params.TextDocument.URI, toPosmapPosition(params.Position), hoverLikeParams)
	if err != nil {
		return nil, err
	}
	var highlights []protocol.DocumentHighlight
	if _, err := unmarshalResult(result, &highlights); err != nil {
		return nil, err
	}
	return highlights, nil
}

// textDocumentDocumentSymbol has no single position to resolve a language
// from — a literate document may span several. It fans out to every
// language with an open virtual document for this host URI and
// concatenates the (already host-translated) results, rather than
// forwarding to just one child (spec.md §4.6 "Request fan-out").
func (s *Session) textDocumentDocumentSymbol(ctx *glsp.Context, params *protocol.DocumentSymbolParams) (any, error) {
	raw, err := s.router.DocumentSymbols(context.Background(), params.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return passthroughResult(rawArray(raw)), nil
}

// workspaceSymbol has no host document at all to anchor a language on
// (spec.md §4.6 "Request fan-out"); it broadcasts to every started child
// and merges whatever answers in time.
func (s *Session) workspaceSymbol(ctx *glsp.Context, params *protocol.WorkspaceSymbolParams) ([]protocol.WorkspaceSymbol, error) {
	raw := s.router.Broadcast(context.Background(), "workspace/symbol", params)

	var merged []protocol.WorkspaceSymbol
	for _, payload := range raw {
		var partial []protocol.WorkspaceSymbol
		if _, err := unmarshalResult(payload, &partial); err != nil {
			continue
		}
		merged = append(merged, partial...)
	}
	return merged, nil
}

// hoverLikeParams builds the {textDocument, position} shape shared by
// every position-bearing request whose params carry nothing beyond that
// (spec.md §4.6: hover, definition, typeDefinition, implementation,
// documentHighlight).
func hoverLikeParams(virtualURI string, vpos posmap.Position) any {
	return positionRequestParams(virtualURI, toProtocolPosition(vpos))
}

// passthroughResult returns result as the `any` glsp will marshal back to
// the editor. json.RawMessage marshals to its own bytes unchanged, so
// this preserves exactly what the Router already translated into host
// terms, whether a single Location or an array of them.
func passthroughResult(result json.RawMessage) any {
	if len(result) == 0 || string(result) == "null" {
		return nil
	}
	return result
}

// rawArray joins already-encoded JSON values into a single JSON array.
func rawArray(items []json.RawMessage) json.RawMessage {
	out, err := json.Marshal(items)
	if err != nil {
		return json.RawMessage("null")
	}
	return out
}

func shutdownRequestPayload(_ string) []byte {
	req := rpc.Request{JSONRPC: rpc.Version, ID: json.RawMessage(`"literate-lsp-shutdown"`), Method: "shutdown"}
	body, _ := json.Marshal(req)
	return body
}

func exitNotificationPayload(_ string) []byte {
	notif := rpc.Notification{JSONRPC: rpc.Version, Method: "exit"}
	body, _ := json.Marshal(notif)
	return body
}
