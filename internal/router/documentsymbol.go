package router

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/AlexanderBrevig/literate-lsp/internal/document"
	"github.com/AlexanderBrevig/literate-lsp/internal/posmap"
)

// documentSymbolParams is the {textDocument} shape textDocument/documentSymbol
// takes; literate-lsp never sets any optional fields on it.
type documentSymbolParams struct {
	TextDocument struct {
		URI string `json:"uri"`
	} `json:"textDocument"`
}

// documentSymbol is the hierarchical 3.16 DocumentSymbol shape. Servers
// answering with the older flat SymbolInformation shape are matched by
// symbolInformation below instead.
type documentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           int              `json:"kind"`
	Tags           []int            `json:"tags,omitempty"`
	Range          lspRange         `json:"range"`
	SelectionRange lspRange         `json:"selectionRange"`
	Children       []documentSymbol `json:"children,omitempty"`
}

type symbolInformation struct {
	Name     string      `json:"name"`
	Kind     int         `json:"kind"`
	Location lspLocation `json:"location"`
}

// DocumentSymbols fans textDocument/documentSymbol out to every language
// with an open virtual document for hostURI (spec.md §4.6: a literate
// document has no single language to route a documentSymbol request to),
// translates each result's ranges back to host terms, and concatenates
// them in language-sorted order.
func (r *Router) DocumentSymbols(ctx context.Context, hostURI string) ([]json.RawMessage, error) {
	snap, ok := r.store.Get(hostURI)
	if !ok {
		return nil, nil
	}

	languages := make([]string, 0, len(snap.Virtuals))
	for lang := range snap.Virtuals {
		languages = append(languages, lang)
	}
	sort.Strings(languages)

	var merged []json.RawMessage
	for _, lang := range languages {
		vdoc := snap.Virtuals[lang]
		if vdoc == nil {
			continue
		}

		c, err := r.children.GetOrStart(lang)
		if err != nil {
			continue
		}
		r.AttachChild(c)

		var params documentSymbolParams
		params.TextDocument.URI = vdoc.URI

		result, err := r.requestSync(ctx, c, "textDocument/documentSymbol", params)
		if err != nil {
			r.log.Debug("documentSymbol request failed", "language", lang, "error", err)
			continue
		}

		merged = append(merged, translateDocumentSymbols(r.store, snap, lang, result)...)
	}
	return merged, nil
}

func translateDocumentSymbols(store *document.Store, snap document.Snapshot, language string, raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	bm := snap.BlockMaps[language]

	var probe []map[string]json.RawMessage
	flatShape := json.Unmarshal(raw, &probe) == nil && len(probe) > 0 && probe[0]["location"] != nil

	var hierarchical []documentSymbol
	if err := json.Unmarshal(raw, &hierarchical); err == nil && !flatShape {
		out := make([]json.RawMessage, 0, len(hierarchical))
		for _, sym := range hierarchical {
			translated, ok := translateOneDocumentSymbol(snap, bm, sym)
			if !ok {
				continue
			}
			if encoded, err := json.Marshal(translated); err == nil {
				out = append(out, encoded)
			}
		}
		return out
	}

	var flat []symbolInformation
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil
	}
	out := make([]json.RawMessage, 0, len(flat))
	for _, sym := range flat {
		translated, ok := translateOneLocation(store, sym.Location)
		if !ok {
			continue
		}
		sym.Location = translated
		if encoded, err := json.Marshal(sym); err == nil {
			out = append(out, encoded)
		}
	}
	return out
}

func translateOneDocumentSymbol(snap document.Snapshot, bm document.BlockMap, sym documentSymbol) (documentSymbol, bool) {
	rng, ok := unmapRange(snap, bm, sym.Range)
	if !ok {
		return documentSymbol{}, false
	}
	selRng, ok := unmapRange(snap, bm, sym.SelectionRange)
	if !ok {
		selRng = rng
	}
	sym.Range = rng
	sym.SelectionRange = selRng

	children := make([]documentSymbol, 0, len(sym.Children))
	for _, child := range sym.Children {
		translated, ok := translateOneDocumentSymbol(snap, bm, child)
		if !ok {
			continue
		}
		children = append(children, translated)
	}
	sym.Children = children
	return sym, true
}

func unmapRange(snap document.Snapshot, bm document.BlockMap, rng lspRange) (lspRange, bool) {
	start, ok := posmap.Unmap(snap.Doc.Blocks, bm, posmap.Position{Line: rng.Start.Line, Col: rng.Start.Character})
	if !ok {
		return lspRange{}, false
	}
	end, ok := posmap.Unmap(snap.Doc.Blocks, bm, posmap.Position{Line: rng.End.Line, Col: rng.End.Character})
	if !ok {
		return lspRange{}, false
	}
	return lspRange{
		Start: lspPosition{Line: start.Line, Character: start.Col},
		End:   lspPosition{Line: end.Line, Character: end.Col},
	}, true
}
