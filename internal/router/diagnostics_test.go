package router

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexanderBrevig/literate-lsp/internal/block"
	"github.com/AlexanderBrevig/literate-lsp/internal/document"
)

const diagDoc = "# Title\n\n```python\nprint(1)\nprint(2)\n```\n"

func publishPayload(t *testing.T, virtualURI string, diags []lspDiagnostic) []byte {
	t.Helper()
	payload, err := json.Marshal(struct {
		JSONRPC string                   `json:"jsonrpc"`
		Method  string                   `json:"method"`
		Params  publishDiagnosticsParams `json:"params"`
	}{
		JSONRPC: "2.0",
		Method:  "textDocument/publishDiagnostics",
		Params:  publishDiagnosticsParams{URI: virtualURI, Diagnostics: diags},
	})
	require.NoError(t, err)
	return payload
}

func TestDiagnosticsFanInTranslatesVirtualRangeToHost(t *testing.T) {
	store := document.NewStore(nil)
	store.Open("file:///doc.md", diagDoc, block.DialectMarkdown)
	snap, ok := store.Get("file:///doc.md")
	require.True(t, ok)
	vdoc := snap.Virtuals["python"]
	require.NotNil(t, vdoc)

	var published []lspDiagnostic
	var publishedURI string
	fanIn := newDiagnosticsFanIn(store, func(hostURI string, diags []lspDiagnostic) {
		publishedURI = hostURI
		published = diags
	})

	payload := publishPayload(t, vdoc.URI, []lspDiagnostic{
		{Range: lspRange{Start: lspPosition{Line: 1, Character: 0}, End: lspPosition{Line: 1, Character: 5}}, Message: "undefined name"},
	})
	fanIn.handle("python", payload)

	assert.Equal(t, "file:///doc.md", publishedURI)
	require.Len(t, published, 1)
	assert.Equal(t, "python", *published[0].Source)
	// virtual line 1 ("print(2)") maps back to host line 4.
	assert.Equal(t, 4, published[0].Range.Start.Line)
	assert.Equal(t, 4, published[0].Range.End.Line)
}

func TestDiagnosticsFanInMergesMultipleLanguagesSortedByLanguage(t *testing.T) {
	doc := "# Title\n\n```go\nfmt.Println(1)\n```\n\n```python\nprint(1)\n```\n"
	store := document.NewStore(nil)
	store.Open("file:///doc.md", doc, block.DialectMarkdown)
	snap, _ := store.Get("file:///doc.md")
	goDoc := snap.Virtuals["go"]
	pyDoc := snap.Virtuals["python"]
	require.NotNil(t, goDoc)
	require.NotNil(t, pyDoc)

	var published []lspDiagnostic
	fanIn := newDiagnosticsFanIn(store, func(_ string, diags []lspDiagnostic) {
		published = diags
	})

	fanIn.handle("python", publishPayload(t, pyDoc.URI, []lspDiagnostic{
		{Range: lspRange{Start: lspPosition{Line: 0, Character: 0}, End: lspPosition{Line: 0, Character: 5}}, Message: "py issue"},
	}))
	fanIn.handle("go", publishPayload(t, goDoc.URI, []lspDiagnostic{
		{Range: lspRange{Start: lspPosition{Line: 0, Character: 0}, End: lspPosition{Line: 0, Character: 3}}, Message: "go issue"},
	}))

	require.Len(t, published, 2)
	assert.Equal(t, "go", *published[0].Source)
	assert.Equal(t, "python", *published[1].Source)
}

func TestDiagnosticsFanInForgetClearsCache(t *testing.T) {
	store := document.NewStore(nil)
	store.Open("file:///doc.md", diagDoc, block.DialectMarkdown)
	snap, _ := store.Get("file:///doc.md")
	vdoc := snap.Virtuals["python"]

	calls := 0
	var lastDiags []lspDiagnostic
	fanIn := newDiagnosticsFanIn(store, func(_ string, diags []lspDiagnostic) {
		calls++
		lastDiags = diags
	})

	fanIn.handle("python", publishPayload(t, vdoc.URI, []lspDiagnostic{
		{Range: lspRange{Start: lspPosition{Line: 0, Character: 0}, End: lspPosition{Line: 0, Character: 1}}, Message: "x"},
	}))
	require.Len(t, lastDiags, 1)

	fanIn.forget("file:///doc.md")

	fanIn.mu.Lock()
	_, stillCached := fanIn.byURI["file:///doc.md"]
	fanIn.mu.Unlock()
	assert.False(t, stillCached)
	assert.Equal(t, 1, calls)
}

func TestDiagnosticsFanInUnknownVirtualURIIsIgnored(t *testing.T) {
	store := document.NewStore(nil)
	called := false
	fanIn := newDiagnosticsFanIn(store, func(string, []lspDiagnostic) {
		called = true
	})

	fanIn.handle("python", publishPayload(t, "file:///not-a-virtual-doc.py", nil))
	assert.False(t, called)
}

func TestDiagnosticsFanInDropsDiagnosticOutsideAnyBlock(t *testing.T) {
	store := document.NewStore(nil)
	store.Open("file:///doc.md", diagDoc, block.DialectMarkdown)
	snap, _ := store.Get("file:///doc.md")
	vdoc := snap.Virtuals["python"]

	var published []lspDiagnostic
	fanIn := newDiagnosticsFanIn(store, func(_ string, diags []lspDiagnostic) {
		published = diags
	})

	// Virtual line 99 doesn't exist in the 2-line virtual document.
	fanIn.handle("python", publishPayload(t, vdoc.URI, []lspDiagnostic{
		{Range: lspRange{Start: lspPosition{Line: 99, Character: 0}, End: lspPosition{Line: 99, Character: 1}}, Message: "stale"},
	}))
	assert.Empty(t, published)
}

func TestDiagnosticsFanInPreservesExistingSourceAndFillsMissingOne(t *testing.T) {
	store := document.NewStore(nil)
	store.Open("file:///doc.md", diagDoc, block.DialectMarkdown)
	snap, _ := store.Get("file:///doc.md")
	vdoc := snap.Virtuals["python"]

	var published []lspDiagnostic
	fanIn := newDiagnosticsFanIn(store, func(_ string, diags []lspDiagnostic) {
		published = diags
	})

	pyright := "pyright"
	empty := ""
	fanIn.handle("python", publishPayload(t, vdoc.URI, []lspDiagnostic{
		{Range: lspRange{Start: lspPosition{Line: 0, Character: 0}, End: lspPosition{Line: 0, Character: 5}}, Message: "has own source", Source: &pyright},
		{Range: lspRange{Start: lspPosition{Line: 1, Character: 0}, End: lspPosition{Line: 1, Character: 5}}, Message: "empty source", Source: &empty},
		{Range: lspRange{Start: lspPosition{Line: 0, Character: 0}, End: lspPosition{Line: 0, Character: 5}}, Message: "no source"},
	}))

	require.Len(t, published, 3)
	assert.Equal(t, "pyright", *published[0].Source, "a child-supplied source must not be overwritten")
	assert.Equal(t, "python", *published[1].Source)
	assert.Equal(t, "python", *published[2].Source)
}

func TestPublishMergedSendsNilDiagnosticsAsEmptyArray(t *testing.T) {
	r := newTestRouter(t)
	var gotMethod string
	var gotParams any
	r.notify = func(method string, params any) error {
		gotMethod = method
		gotParams = params
		return nil
	}

	r.publishMerged("file:///doc.md", nil)

	assert.Equal(t, "textDocument/publishDiagnostics", gotMethod)
	params, ok := gotParams.(publishDiagnosticsParams)
	require.True(t, ok, fmt.Sprintf("got %T", gotParams))
	assert.Equal(t, "file:///doc.md", params.URI)
	assert.NotNil(t, params.Diagnostics)
	assert.Empty(t, params.Diagnostics)
}
