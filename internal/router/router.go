// Package router implements the Message Router (spec.md §4.6): the central
// state machine that decides, for every message crossing the editor/child
// boundary, which child a message belongs to and how its positions and
// URIs must be rewritten.
//
// There is no single teacher file to generalize here — simon-lentz/yammm
// is a single-language server and never correlates requests across
// multiple downstream servers. The request/response correlation and
// cancellation bookkeeping below is grounded on
// kpumuk-thrift-weaver/internal/lsp/server.go's dispatch
// (requestCancels/pendingCancelled, $/cancelRequest handling), generalized
// from "cancel a request this same process is running" to "cancel a
// request a child process is running on literate-lsp's behalf". The
// didOpen/didChange/didClose fan-out logic follows the shape of
// simon-lentz-yammm/lsp/server.go's textDocumentDidOpen/didChange/didClose
// dispatch, generalized from a single isYammmURI/isMarkdownURI switch to a
// per-language loop over the Document Store's observed languages.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AlexanderBrevig/literate-lsp/internal/block"
	"github.com/AlexanderBrevig/literate-lsp/internal/child"
	"github.com/AlexanderBrevig/literate-lsp/internal/config"
	"github.com/AlexanderBrevig/literate-lsp/internal/document"
	"github.com/AlexanderBrevig/literate-lsp/internal/posmap"
	"github.com/AlexanderBrevig/literate-lsp/internal/rpc"
)

// BroadcastDeadline bounds how long workspace-wide broadcasts
// (workspace/symbol) wait on the slowest child
// before returning with whatever arrived (spec.md §4.6).
const BroadcastDeadline = 2 * time.Second

// NotifyEditor sends a notification to the editor-facing session.
type NotifyEditor func(method string, params any) error

// RespondEditor sends a response (success or error) back to the editor for
// a request literate-lsp forwarded on its behalf.
type RespondEditor func(id json.RawMessage, result json.RawMessage, errObj *rpc.Error) error

// waiter receives a child's response to a request literate-lsp itself
// originated (Broadcast, DocumentSymbols), rather than one forwarded on the editor's
// behalf.
type waiter func(result json.RawMessage, errObj *rpc.Error)

// Router owns the Document Store, the Child Manager, and the pending
// request correlation table, and implements the translation/fan-out rules
// of spec.md §4.6.
type Router struct {
	store    *document.Store
	children *child.Manager
	resolver *config.Resolver
	pending  *pendingTable
	log      *slog.Logger

	notify  NotifyEditor
	respond RespondEditor

	diag *diagnosticsFanIn

	waitersMu sync.Mutex
	waiters   map[string]waiter
}

// New constructs a Router. Callers must call SetEditorCallbacks before
// routing any traffic.
func New(store *document.Store, children *child.Manager, resolver *config.Resolver, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		store:    store,
		children: children,
		resolver: resolver,
		pending:  newPendingTable(),
		log:      log,
		waiters:  make(map[string]waiter),
	}
	r.diag = newDiagnosticsFanIn(store, r.publishMerged)
	return r
}

// SetEditorCallbacks wires the functions the Router uses to talk back to
// the editor-facing Session.
func (r *Router) SetEditorCallbacks(notify NotifyEditor, respond RespondEditor) {
	r.notify = notify
	r.respond = respond
}

// AttachChild wires a Child's message stream into the router: its
// responses resolve pending requests, its notifications are dispatched
// (publishDiagnostics fans in, everything else passes through untouched).
// Safe to call more than once for the same Child.
func (r *Router) AttachChild(c *child.Child) {
	c.OnMessage = r.handleChildMessage
	c.OnCrash = r.handleChildCrash
	c.OnReady = r.handleChildReady
}

func (r *Router) handleChildMessage(language string, payload []byte) {
	var env rpc.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.log.Warn("child sent unparseable message", "language", language, "error", err)
		return
	}

	switch rpc.Classify(env) {
	case rpc.KindResponse:
		r.handleChildResponse(language, payload, env)
	case rpc.KindNotification:
		r.handleChildNotification(language, payload, env)
	case rpc.KindRequest:
		// Children issuing requests to the editor (workspace/configuration,
		// window/workDoneProgress/create, etc.) are out of scope (spec.md
		// §1 Non-goals: "server-to-client requests other than
		// publishDiagnostics"); acknowledge with MethodNotFound so a
		// well-behaved child doesn't hang waiting for a reply.
		r.respondChildRequestUnsupported(language, env)
	}
}

func (r *Router) handleChildResponse(language string, payload []byte, env rpc.Envelope) {
	key := string(env.ID)

	r.waitersMu.Lock()
	w, isWaited := r.waiters[key]
	if isWaited {
		delete(r.waiters, key)
	}
	r.waitersMu.Unlock()

	var resp rpc.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		r.log.Warn("child response unparseable", "language", language, "error", err)
		return
	}

	if isWaited {
		w(resp.Result, resp.Error)
		return
	}

	pending, ok := r.pending.Take(env.ID)
	if !ok {
		return
	}

	result, err := translateResultPositions(r.store, pending.virtualURI, pending.method, resp.Result)
	if err != nil {
		r.log.Debug("position translation failed, forwarding result untranslated", "error", err)
		result = resp.Result
	}

	if r.respond != nil {
		_ = r.respond(pending.editorID, result, resp.Error)
	}
}

func (r *Router) handleChildNotification(language string, payload []byte, env rpc.Envelope) {
	if env.Method == "textDocument/publishDiagnostics" {
		r.diag.handle(language, payload)
		return
	}
	// Other child notifications (window/logMessage, telemetry/event, ...)
	// are not part of spec.md's scope and are dropped rather than
	// forwarded, since they'd otherwise need per-child source tagging the
	// editor has no way to disambiguate.
}

func (r *Router) respondChildRequestUnsupported(language string, env rpc.Envelope) {
	c, ok := r.children.Get(language)
	if !ok || len(env.ID) == 0 {
		return
	}
	resp := rpc.Response{
		JSONRPC: rpc.Version,
		ID:      env.ID,
		Error:   &rpc.Error{Code: rpc.CodeMethodNotFound, Message: "literate-lsp does not service server-to-client requests"},
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = c.Send(body)
}

// handleChildCrash fails every request currently waiting on language's
// child rather than leaving the editor to block forever on a reply that
// will never arrive (spec.md §4.5 "fail all outstanding requests with
// ChildUnavailable"; spec.md §8 "every PendingRequest is eventually
// resolved ... no leaks").
func (r *Router) handleChildCrash(language string) {
	pending := r.pending.TakeAllForLanguage(language)
	r.log.Warn("child crashed, failing outstanding requests and will respawn", "language", language, "failed", len(pending))

	if r.respond == nil {
		return
	}
	for _, p := range pending {
		_ = r.respond(p.editorID, json.RawMessage("null"), &rpc.Error{
			Code:    rpc.CodeInternalError,
			Message: fmt.Sprintf("literate-lsp: %s child unavailable (crashed)", language),
		})
	}
}

// handleChildReady re-synchronizes a respawned child with every host
// document that still has blocks of its language, re-emitting didOpen
// with the version reset to 1 (spec.md §4.5).
func (r *Router) handleChildReady(language string) {
	for _, e := range r.store.ReopenLanguage(language) {
		r.forwardVirtualEvent(e)
	}
}

// OpenDocument parses text into the Document Store and forwards didOpen to
// every language observed, starting that language's child on demand
// (spec.md §4.3, §4.5). A language with no configured server is skipped
// silently (spec.md §7 NoServerConfigured).
func (r *Router) OpenDocument(hostURI, text string, dialect block.Dialect) {
	events := r.store.Open(hostURI, text, dialect)
	for _, e := range events {
		r.forwardVirtualEvent(e)
	}
}

// ChangeDocument re-parses text and forwards the resulting per-language
// didOpen/didChange/didClose notifications (spec.md §4.3).
func (r *Router) ChangeDocument(hostURI, text string) {
	events := r.store.Change(hostURI, text)
	for _, e := range events {
		r.forwardVirtualEvent(e)
	}
}

// CloseDocument forwards didClose to every language's child and drops the
// host document from the Store.
func (r *Router) CloseDocument(hostURI string) {
	events := r.store.Close(hostURI)
	for _, e := range events {
		r.forwardVirtualEvent(e)
	}
	r.diag.forget(hostURI)
}

func (r *Router) forwardVirtualEvent(e document.VirtualEvent) {
	c, err := r.children.GetOrStart(e.Language)
	if err != nil {
		r.log.Debug("no server for language, dropping virtual event", "language", e.Language, "error", err)
		return
	}
	r.AttachChild(c)

	var method string
	var params any
	switch e.Kind {
	case document.VirtualOpened:
		method = "textDocument/didOpen"
		params = didOpenParams{
			TextDocument: textDocumentItem{URI: e.URI, LanguageID: e.Language, Version: e.Version, Text: e.Text},
		}
	case document.VirtualChanged:
		method = "textDocument/didChange"
		params = didChangeParams{
			TextDocument:   versionedTextDocumentIdentifier{URI: e.URI, Version: e.Version},
			ContentChanges: []textDocumentContentChangeEvent{{Text: e.Text}},
		}
	case document.VirtualClosed:
		method = "textDocument/didClose"
		params = textDocumentIdentifierParams{TextDocument: textDocumentIdentifier{URI: e.URI}}
	}

	body, err := encodeNotification(method, params)
	if err != nil {
		r.log.Error("failed to encode notification", "method", method, "error", err)
		return
	}
	if err := c.Send(body); err != nil {
		r.log.Warn("failed to forward notification to child", "language", e.Language, "method", method, "error", err)
	}
}

// ForwardRequest forwards a position-bearing editor request to the child
// owning the host position, rewriting the host position to the child's
// virtual coordinates. buildParams receives the virtual URI and position
// and must return the method-specific params to send to the child.
//
// Outside-block and no-server-configured positions both resolve to a null
// result rather than a JSON-RPC error (spec.md §7): a literate document's
// prose regions simply have no language feature to offer.
func (r *Router) ForwardRequest(editorID json.RawMessage, method, hostURI string, hostPos posmap.Position, buildParams func(virtualURI string, vpos posmap.Position) any) error {
	snap, ok := r.store.Get(hostURI)
	if !ok {
		return r.respondNull(editorID)
	}
	b, ok := snap.BlockAt(hostPos.Line)
	if !ok {
		return r.respondNull(editorID)
	}
	bm := snap.BlockMaps[b.Language]
	vpos, ok := posmap.Map(snap.Doc.Blocks, bm, hostPos)
	if !ok {
		return r.respondNull(editorID)
	}
	vdoc := snap.Virtuals[b.Language]
	if vdoc == nil {
		return r.respondNull(editorID)
	}

	c, err := r.children.GetOrStart(b.Language)
	if err != nil {
		return r.respondNull(editorID)
	}
	r.AttachChild(c)

	childID := r.pending.NextChildID()
	r.pending.Add(childID, &pendingRequest{editorID: editorID, method: method, childID: childID, language: b.Language, virtualURI: vdoc.URI})

	params := buildParams(vdoc.URI, vpos)
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding params for %s: %w", method, err)
	}

	req := rpc.Request{JSONRPC: rpc.Version, ID: childID, Method: method, Params: paramsJSON}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request for %s: %w", method, err)
	}
	return c.Send(body)
}

func (r *Router) respondNull(editorID json.RawMessage) error {
	if r.respond == nil {
		return nil
	}
	return r.respond(editorID, json.RawMessage("null"), nil)
}

// CancelRequest forwards $/cancelRequest to whichever child owns the
// editor's in-flight request, per kpumuk-thrift-weaver's cancelRequest
// bookkeeping generalized across process boundaries.
func (r *Router) CancelRequest(editorID json.RawMessage) {
	for _, p := range r.pending.CancelForEditorID(editorID) {
		c, ok := r.children.Get(p.language)
		if !ok {
			continue
		}
		body, err := encodeNotification("$/cancelRequest", cancelParams{ID: p.childID})
		if err != nil {
			continue
		}
		_ = c.Send(body)
	}
}

// Broadcast fans a request out to every started child, waiting up to
// BroadcastDeadline (spec.md §4.6), and returns whatever results arrived
// in time, keyed by language. Grounded on the same golang.org/x/sync/errgroup
// dependency the teacher's go.mod already carries transitively, used
// directly for concurrent fan-out the way TimAnthonyAlexander-loom does
// for its own indexing pipeline.
func (r *Router) Broadcast(ctx context.Context, method string, params any) map[string]json.RawMessage {
	ctx, cancel := context.WithTimeout(ctx, BroadcastDeadline)
	defer cancel()

	children := r.children.All()
	var mu sync.Mutex
	results := make(map[string]json.RawMessage, len(children))

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range children {
		c := c
		g.Go(func() error {
			result, err := r.requestSync(ctx, c, method, params)
			if err != nil {
				r.log.Debug("broadcast request failed", "language", c.Language, "method", method, "error", err)
				return nil
			}
			mu.Lock()
			results[c.Language] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// requestSync sends method/params to c and blocks for its response or
// until ctx is done, used by Broadcast and DocumentSymbols where
// literate-lsp itself (not the editor) is the request's originator.
func (r *Router) requestSync(ctx context.Context, c *child.Child, method string, params any) (json.RawMessage, error) {
	childID := r.pending.NextChildID()
	key := string(childID)

	resultCh := make(chan json.RawMessage, 1)
	errCh := make(chan *rpc.Error, 1)

	r.waitersMu.Lock()
	r.waiters[key] = func(result json.RawMessage, errObj *rpc.Error) {
		if errObj != nil {
			errCh <- errObj
			return
		}
		resultCh <- result
	}
	r.waitersMu.Unlock()
	defer func() {
		r.waitersMu.Lock()
		delete(r.waiters, key)
		r.waitersMu.Unlock()
	}()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req := rpc.Request{JSONRPC: rpc.Version, ID: childID, Method: method, Params: paramsJSON}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := c.Send(body); err != nil {
		return nil, err
	}

	select {
	case result := <-resultCh:
		return result, nil
	case errObj := <-errCh:
		return nil, fmt.Errorf("%s: %s", c.Language, errObj.Message)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
