package router

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/AlexanderBrevig/literate-lsp/internal/document"
	"github.com/AlexanderBrevig/literate-lsp/internal/posmap"
)

// lspDiagnostic mirrors the subset of LSP's Diagnostic the fan-in needs to
// read and rewrite; unknown fields (code, tags, relatedInformation, ...)
// round-trip through Extra untouched.
type lspDiagnostic struct {
	Range    lspRange        `json:"range"`
	Severity *int            `json:"severity,omitempty"`
	Message  string          `json:"message"`
	Source   *string         `json:"source,omitempty"`
	Extra    json.RawMessage `json:"-"`
}

func (d lspDiagnostic) MarshalJSON() ([]byte, error) {
	m := map[string]any{}
	if len(d.Extra) > 0 {
		_ = json.Unmarshal(d.Extra, &m)
	}
	m["range"] = d.Range
	m["message"] = d.Message
	if d.Severity != nil {
		m["severity"] = *d.Severity
	}
	if d.Source != nil {
		m["source"] = *d.Source
	}
	return json.Marshal(m)
}

func (d *lspDiagnostic) UnmarshalJSON(b []byte) error {
	type alias lspDiagnostic
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*d = lspDiagnostic(a)
	d.Extra = b
	return nil
}

type publishDiagnosticsParams struct {
	URI         string          `json:"uri"`
	Version     *int            `json:"version,omitempty"`
	Diagnostics []lspDiagnostic `json:"diagnostics"`
}

// diagnosticsFanIn merges textDocument/publishDiagnostics notifications
// from every child touching a host document into one notification per
// host URI, setting each diagnostic's `source` to its owning language when
// the child left `source` absent or empty (spec.md §4.6 "Diagnostics
// fan-in").
type diagnosticsFanIn struct {
	store   *document.Store
	publish func(hostURI string, diagnostics []lspDiagnostic)

	mu    sync.Mutex
	byURI map[string]map[string][]lspDiagnostic // hostURI -> language -> diagnostics
}

func newDiagnosticsFanIn(store *document.Store, publish func(string, []lspDiagnostic)) *diagnosticsFanIn {
	return &diagnosticsFanIn{
		store:   store,
		publish: publish,
		byURI:   make(map[string]map[string][]lspDiagnostic),
	}
}

func (f *diagnosticsFanIn) handle(language string, payload []byte) {
	var notif struct {
		Params publishDiagnosticsParams `json:"params"`
	}
	if err := json.Unmarshal(payload, &notif); err != nil {
		return
	}

	hostURI, _, ok := f.store.ResolveVirtual(notif.Params.URI)
	if !ok {
		return
	}
	snap, ok := f.store.Get(hostURI)
	if !ok {
		return
	}
	bm := snap.BlockMaps[language]

	translated := make([]lspDiagnostic, 0, len(notif.Params.Diagnostics))
	for _, d := range notif.Params.Diagnostics {
		start, ok1 := posmap.Unmap(snap.Doc.Blocks, bm, posmap.Position{Line: d.Range.Start.Line, Col: d.Range.Start.Character})
		end, ok2 := posmap.Unmap(snap.Doc.Blocks, bm, posmap.Position{Line: d.Range.End.Line, Col: d.Range.End.Character})
		if !ok1 || !ok2 {
			// A diagnostic anchored on a line the host document no
			// longer has a block for (e.g. stale diagnostics racing a
			// didChange) is dropped rather than shown at a wrong
			// location.
			continue
		}
		d.Range = lspRange{
			Start: lspPosition{Line: start.Line, Character: start.Col},
			End:   lspPosition{Line: end.Line, Character: end.Col},
		}
		if d.Source == nil || *d.Source == "" {
			source := language
			d.Source = &source
		}
		translated = append(translated, d)
	}

	f.mu.Lock()
	if f.byURI[hostURI] == nil {
		f.byURI[hostURI] = make(map[string][]lspDiagnostic)
	}
	f.byURI[hostURI][language] = translated
	merged := f.mergedLocked(hostURI)
	f.mu.Unlock()

	f.publish(hostURI, merged)
}

// mergedLocked concatenates every language's diagnostics for hostURI, in a
// stable language-sorted order so repeated publishes don't thrash an
// editor's diagnostics list ordering.
func (f *diagnosticsFanIn) mergedLocked(hostURI string) []lspDiagnostic {
	byLang := f.byURI[hostURI]
	langs := make([]string, 0, len(byLang))
	for lang := range byLang {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	var merged []lspDiagnostic
	for _, lang := range langs {
		merged = append(merged, byLang[lang]...)
	}
	return merged
}

// forget drops cached diagnostics for hostURI, called when the document
// closes so a stale language's diagnostics don't leak into a future
// document opened at the same URI.
func (f *diagnosticsFanIn) forget(hostURI string) {
	f.mu.Lock()
	delete(f.byURI, hostURI)
	f.mu.Unlock()
}

// publishMerged is the Router's callback wired into diagnosticsFanIn; it
// sends one textDocument/publishDiagnostics notification for hostURI with
// diagnostics from every language merged.
func (r *Router) publishMerged(hostURI string, diagnostics []lspDiagnostic) {
	if r.notify == nil {
		return
	}
	if diagnostics == nil {
		diagnostics = []lspDiagnostic{}
	}
	_ = r.notify("textDocument/publishDiagnostics", publishDiagnosticsParams{
		URI:         hostURI,
		Diagnostics: diagnostics,
	})
}
