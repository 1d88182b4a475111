package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexanderBrevig/literate-lsp/internal/block"
	"github.com/AlexanderBrevig/literate-lsp/internal/child"
	"github.com/AlexanderBrevig/literate-lsp/internal/config"
	"github.com/AlexanderBrevig/literate-lsp/internal/document"
	"github.com/AlexanderBrevig/literate-lsp/internal/posmap"
	"github.com/AlexanderBrevig/literate-lsp/internal/rpc"
)

func posmapZero() posmap.Position { return posmap.Position{} }

func posmapAt(line int) posmap.Position { return posmap.Position{Line: line} }

func noopBuildParams(virtualURI string, vpos posmap.Position) any { return nil }

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	store := document.NewStore(nil)
	resolver := config.NewResolver(config.Table{})
	children := child.NewManager(resolver, nil)
	return New(store, children, resolver, nil)
}

func TestRouterForwardRequestWithNoOpenDocumentRespondsNull(t *testing.T) {
	r := newTestRouter(t)
	var gotID json.RawMessage
	var gotResult json.RawMessage
	r.respond = func(id json.RawMessage, result json.RawMessage, errObj *rpc.Error) error {
		gotID = id
		gotResult = result
		return nil
	}

	err := r.ForwardRequest([]byte(`1`), "textDocument/hover", "file:///missing.md", posmapZero(), noopBuildParams)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`1`), gotID)
	assert.Equal(t, json.RawMessage("null"), gotResult)
}

func TestRouterForwardRequestOutsideBlockRespondsNull(t *testing.T) {
	r := newTestRouter(t)
	r.OpenDocument("file:///doc.md", "# prose only\n\nno code here\n", block.DialectMarkdown)

	var gotResult json.RawMessage
	r.respond = func(id json.RawMessage, result json.RawMessage, errObj *rpc.Error) error {
		gotResult = result
		return nil
	}

	err := r.ForwardRequest([]byte(`1`), "textDocument/hover", "file:///doc.md", posmapAt(0), noopBuildParams)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), gotResult)
}

func TestRouterForwardRequestUnconfiguredLanguageRespondsNull(t *testing.T) {
	r := newTestRouter(t)
	r.OpenDocument("file:///doc.md", diagDoc, block.DialectMarkdown)

	var gotResult json.RawMessage
	r.respond = func(id json.RawMessage, result json.RawMessage, errObj *rpc.Error) error {
		gotResult = result
		return nil
	}

	// Line 3 is inside the python block, but no server is configured for
	// "python" in this test's empty resolver.
	err := r.ForwardRequest([]byte(`1`), "textDocument/hover", "file:///doc.md", posmapAt(3), noopBuildParams)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), gotResult)
}

func TestRouterCancelRequestWithNoPendingIsNoop(t *testing.T) {
	r := newTestRouter(t)
	assert.NotPanics(t, func() {
		r.CancelRequest([]byte(`1`))
	})
}

func TestRouterHandleChildResponseTranslatesHoverRangeAndRespondsToEditor(t *testing.T) {
	r := newTestRouter(t)
	r.OpenDocument("file:///doc.md", diagDoc, block.DialectMarkdown)
	snap, ok := r.store.Get("file:///doc.md")
	require.True(t, ok)
	vdoc := snap.Virtuals["python"]
	require.NotNil(t, vdoc)

	childID := r.pending.NextChildID()
	r.pending.Add(childID, &pendingRequest{
		editorID:   []byte(`42`),
		method:     "textDocument/hover",
		childID:    childID,
		language:   "python",
		virtualURI: vdoc.URI,
	})

	var gotEditorID json.RawMessage
	var gotResult json.RawMessage
	r.respond = func(id json.RawMessage, result json.RawMessage, errObj *rpc.Error) error {
		gotEditorID = id
		gotResult = result
		return nil
	}

	hoverJSON, err := json.Marshal(hoverResult{
		Contents: json.RawMessage(`"some docs"`),
		Range:    &lspRange{Start: lspPosition{Line: 1, Character: 0}, End: lspPosition{Line: 1, Character: 5}},
	})
	require.NoError(t, err)

	resp := rpc.Response{JSONRPC: rpc.Version, ID: childID, Result: hoverJSON}
	payload, err := json.Marshal(resp)
	require.NoError(t, err)

	r.handleChildMessage("python", payload)

	assert.Equal(t, json.RawMessage(`42`), gotEditorID)
	var translated hoverResult
	require.NoError(t, json.Unmarshal(gotResult, &translated))
	require.NotNil(t, translated.Range)
	assert.Equal(t, 4, translated.Range.Start.Line)
}

func TestRouterHandleChildResponseWaiterTakesPriorityOverPendingTable(t *testing.T) {
	r := newTestRouter(t)

	childID := r.pending.NextChildID()
	key := string(childID)

	waiterCh := make(chan json.RawMessage, 1)
	r.waitersMu.Lock()
	r.waiters[key] = func(result json.RawMessage, errObj *rpc.Error) {
		waiterCh <- result
	}
	r.waitersMu.Unlock()

	// Also register a pendingTable entry under the same id: if the
	// router checked pending first this would respond to the editor
	// instead of resolving the waiter.
	respondCalled := false
	r.respond = func(id json.RawMessage, result json.RawMessage, errObj *rpc.Error) error {
		respondCalled = true
		return nil
	}
	r.pending.Add(childID, &pendingRequest{editorID: []byte(`7`), method: "workspace/symbol", childID: childID, language: "go"})

	resp := rpc.Response{JSONRPC: rpc.Version, ID: childID, Result: json.RawMessage(`[]`)}
	payload, err := json.Marshal(resp)
	require.NoError(t, err)

	r.handleChildMessage("go", payload)

	select {
	case result := <-waiterCh:
		assert.Equal(t, json.RawMessage(`[]`), result)
	default:
		t.Fatal("waiter was not invoked")
	}
	assert.False(t, respondCalled, "pendingTable entry should not have been consulted once a waiter claimed the id")
}

func TestRouterRespondChildRequestUnsupportedRepliesMethodNotFound(t *testing.T) {
	r := newTestRouter(t)
	resolver := config.NewResolver(config.Table{"go": {Command: "cat"}})
	r.resolver = resolver
	r.children = child.NewManager(resolver, nil)

	c, err := r.children.GetOrStart("go")
	require.NoError(t, err)
	r.AttachChild(c)
	defer c.Shutdown(context.Background(), nil, nil)

	req := rpc.Request{JSONRPC: rpc.Version, ID: json.RawMessage(`1`), Method: "workspace/applyEdit"}
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		r.handleChildMessage("go", payload)
	})
}

func TestRouterBroadcastWithNoStartedChildrenReturnsEmptyMap(t *testing.T) {
	r := newTestRouter(t)
	results := r.Broadcast(context.Background(), "workspace/symbol", map[string]string{"query": "foo"})
	assert.Empty(t, results)
}

func TestRouterCloseDocumentForgetsDiagnostics(t *testing.T) {
	r := newTestRouter(t)
	r.OpenDocument("file:///doc.md", diagDoc, block.DialectMarkdown)

	r.diag.mu.Lock()
	r.diag.byURI["file:///doc.md"] = map[string][]lspDiagnostic{"python": {{Message: "x"}}}
	r.diag.mu.Unlock()

	r.CloseDocument("file:///doc.md")

	r.diag.mu.Lock()
	_, ok := r.diag.byURI["file:///doc.md"]
	r.diag.mu.Unlock()
	assert.False(t, ok)
}

func TestRouterHandleChildCrashFailsOutstandingRequestsForLanguage(t *testing.T) {
	r := newTestRouter(t)

	pythonID := r.pending.NextChildID()
	r.pending.Add(pythonID, &pendingRequest{editorID: []byte(`1`), method: "textDocument/hover", childID: pythonID, language: "python"})
	goID := r.pending.NextChildID()
	r.pending.Add(goID, &pendingRequest{editorID: []byte(`2`), method: "textDocument/hover", childID: goID, language: "go"})

	var responses []struct {
		id     json.RawMessage
		result json.RawMessage
		errObj *rpc.Error
	}
	r.respond = func(id json.RawMessage, result json.RawMessage, errObj *rpc.Error) error {
		responses = append(responses, struct {
			id     json.RawMessage
			result json.RawMessage
			errObj *rpc.Error
		}{id, result, errObj})
		return nil
	}

	r.handleChildCrash("python")

	require.Len(t, responses, 1)
	assert.Equal(t, json.RawMessage(`1`), responses[0].id)
	require.NotNil(t, responses[0].errObj)
	assert.Equal(t, rpc.CodeInternalError, responses[0].errObj.Code)

	// The crashed language's pending request is gone; the unrelated
	// language's request is untouched.
	_, ok := r.pending.Take(pythonID)
	assert.False(t, ok)
	_, ok = r.pending.Take(goID)
	assert.True(t, ok)
}

func TestRouterHandleChildReadyReemitsDidOpenWithVersionReset(t *testing.T) {
	r := newTestRouter(t)
	resolver := config.NewResolver(config.Table{"python": {Command: "cat"}})
	r.resolver = resolver
	r.children = child.NewManager(resolver, nil)

	r.OpenDocument("file:///doc.md", diagDoc, block.DialectMarkdown)

	c, err := r.children.GetOrStart("python")
	require.NoError(t, err)
	r.AttachChild(c)
	defer c.Shutdown(context.Background(), nil, nil)

	received := make(chan []byte, 4)
	c.OnMessage = func(language string, payload []byte) {
		received <- payload
	}

	r.handleChildReady("python")

	select {
	case payload := <-received:
		var notif struct {
			Method string `json:"method"`
			Params struct {
				TextDocument struct {
					Version int `json:"version"`
				} `json:"textDocument"`
			} `json:"params"`
		}
		require.NoError(t, json.Unmarshal(payload, &notif))
		assert.Equal(t, "textDocument/didOpen", notif.Method)
		assert.Equal(t, 1, notif.Params.TextDocument.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for re-emitted didOpen")
	}
}
