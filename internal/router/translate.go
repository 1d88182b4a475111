package router

import (
	"encoding/json"

	"github.com/AlexanderBrevig/literate-lsp/internal/document"
	"github.com/AlexanderBrevig/literate-lsp/internal/posmap"
)

// translateResultPositions rewrites a child's virtual-document positions
// and URIs back to host terms before the result reaches the editor
// (spec.md §4.4 "Inverse mapping"). virtualURI is the document the
// originating request targeted, known from the pendingRequest the
// response correlates to. Only the methods whose result shapes carry
// positions are handled; everything else passes through unchanged.
func translateResultPositions(store *document.Store, virtualURI, method string, result json.RawMessage) (json.RawMessage, error) {
	if len(result) == 0 || string(result) == "null" {
		return result, nil
	}

	switch method {
	case "textDocument/hover":
		return translateHover(store, virtualURI, result)
	case "textDocument/definition", "textDocument/declaration", "textDocument/typeDefinition", "textDocument/implementation", "textDocument/references":
		return translateLocations(store, result)
	case "textDocument/documentHighlight":
		return translateRanges(store, virtualURI, result)
	case "textDocument/completion":
		return translateCompletion(store, virtualURI, result)
	case "textDocument/prepareRename":
		return translatePrepareRename(store, virtualURI, result)
	case "textDocument/rename":
		return translateWorkspaceEdit(store, virtualURI, result)
	default:
		return result, nil
	}
}

type hoverResult struct {
	Contents json.RawMessage `json:"contents"`
	Range    *lspRange       `json:"range,omitempty"`
}

func translateHover(store *document.Store, virtualURI string, raw json.RawMessage) (json.RawMessage, error) {
	var hover hoverResult
	if err := json.Unmarshal(raw, &hover); err != nil {
		return raw, err
	}
	if hover.Range == nil {
		return raw, nil
	}
	_, hostRange, ok := translateRangeForVirtualURI(store, virtualURI, *hover.Range)
	if !ok {
		return raw, nil
	}
	hover.Range = &hostRange
	return json.Marshal(hover)
}

// translateRangeForVirtualURI maps a single virtual Range on virtualURI
// back to host terms.
func translateRangeForVirtualURI(store *document.Store, virtualURI string, r lspRange) (hostURI string, hostRange lspRange, ok bool) {
	hostURI, language, ok := store.ResolveVirtual(virtualURI)
	if !ok {
		return "", lspRange{}, false
	}
	snap, ok := store.Get(hostURI)
	if !ok {
		return "", lspRange{}, false
	}
	bm := snap.BlockMaps[language]

	start, ok := posmap.Unmap(snap.Doc.Blocks, bm, posmap.Position{Line: r.Start.Line, Col: r.Start.Character})
	if !ok {
		return "", lspRange{}, false
	}
	end, ok := posmap.Unmap(snap.Doc.Blocks, bm, posmap.Position{Line: r.End.Line, Col: r.End.Character})
	if !ok {
		return "", lspRange{}, false
	}
	return hostURI, lspRange{
		Start: lspPosition{Line: start.Line, Character: start.Col},
		End:   lspPosition{Line: end.Line, Character: end.Col},
	}, true
}

// translateLocations rewrites a Location or []Location result. Per
// spec.md §4.6, a location whose range no longer maps into any block
// (e.g. a didChange raced the request) is filtered out of a list result,
// or turned into a null single result (spec.md §8 scenario 5).
func translateLocations(store *document.Store, raw json.RawMessage) (json.RawMessage, error) {
	var single lspLocation
	if err := json.Unmarshal(raw, &single); err == nil && single.URI != "" {
		translated, ok := translateOneLocation(store, single)
		if !ok {
			return json.Marshal(nil)
		}
		return json.Marshal(translated)
	}

	var many []lspLocation
	if err := json.Unmarshal(raw, &many); err != nil {
		return raw, nil
	}
	out := make([]lspLocation, 0, len(many))
	for _, loc := range many {
		translated, ok := translateOneLocation(store, loc)
		if !ok {
			continue
		}
		out = append(out, translated)
	}
	return json.Marshal(out)
}

// translateOneLocation translates loc's range to host terms. A URI that
// isn't one of literate-lsp's own synthesized virtual URIs is left
// untouched: the child resolved the symbol to a real file outside any
// literate document (e.g. a stdlib definition), and there is nothing to
// translate. A virtual URI whose range no longer maps into any block
// reports ok=false so the caller can drop or null it instead of leaking
// the internal virtual URI to the editor.
func translateOneLocation(store *document.Store, loc lspLocation) (lspLocation, bool) {
	if _, _, ok := store.ResolveVirtual(loc.URI); !ok {
		return loc, true
	}
	hostURI, hostRange, ok := translateRangeForVirtualURI(store, loc.URI, loc.Range)
	if !ok {
		return lspLocation{}, false
	}
	return lspLocation{URI: hostURI, Range: hostRange}, true
}

type rangeOnly struct {
	Range lspRange `json:"range"`
}

// translateRanges rewrites a []DocumentHighlight-shaped result (every
// element a bare "range", always within the requested document).
func translateRanges(store *document.Store, virtualURI string, raw json.RawMessage) (json.RawMessage, error) {
	var items []rangeOnly
	if err := json.Unmarshal(raw, &items); err != nil {
		return raw, nil
	}
	_, language, ok := store.ResolveVirtual(virtualURI)
	if !ok {
		return raw, nil
	}
	hostURI, ok := firstHostURI(store, virtualURI)
	if !ok {
		return raw, nil
	}
	snap, ok := store.Get(hostURI)
	if !ok {
		return raw, nil
	}
	bm := snap.BlockMaps[language]

	out := make([]rangeOnly, 0, len(items))
	for _, item := range items {
		start, ok1 := posmap.Unmap(snap.Doc.Blocks, bm, posmap.Position{Line: item.Range.Start.Line, Col: item.Range.Start.Character})
		end, ok2 := posmap.Unmap(snap.Doc.Blocks, bm, posmap.Position{Line: item.Range.End.Line, Col: item.Range.End.Character})
		if !ok1 || !ok2 {
			continue
		}
		out = append(out, rangeOnly{Range: lspRange{
			Start: lspPosition{Line: start.Line, Character: start.Col},
			End:   lspPosition{Line: end.Line, Character: end.Col},
		}})
	}
	return json.Marshal(out)
}

func firstHostURI(store *document.Store, virtualURI string) (string, bool) {
	hostURI, _, ok := store.ResolveVirtual(virtualURI)
	return hostURI, ok
}

type textEdit struct {
	Range   lspRange `json:"range"`
	NewText string   `json:"newText"`
}

type completionItem struct {
	Label    string          `json:"label"`
	TextEdit json.RawMessage `json:"textEdit,omitempty"`
}

type completionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []completionItem `json:"items"`
}

// translateCompletion inverse-maps each item's textEdit range, per spec.md
// §4.6 ("Completion items whose textEdit range is in virtual coordinates is
// inverse-mapped; snippet text passes through unchanged"). Items carrying
// no textEdit (plain-insertText completions) pass through untouched.
func translateCompletion(store *document.Store, virtualURI string, raw json.RawMessage) (json.RawMessage, error) {
	var list completionList
	if err := json.Unmarshal(raw, &list); err == nil && list.Items != nil {
		for i := range list.Items {
			translateCompletionItemEdit(store, virtualURI, &list.Items[i])
		}
		return marshalCompletionResult(raw, list.Items, &list.IsIncomplete)
	}

	var items []completionItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return raw, nil
	}
	for i := range items {
		translateCompletionItemEdit(store, virtualURI, &items[i])
	}
	return marshalCompletionResult(raw, items, nil)
}

func translateCompletionItemEdit(store *document.Store, virtualURI string, item *completionItem) {
	if len(item.TextEdit) == 0 {
		return
	}
	var edit textEdit
	if err := json.Unmarshal(item.TextEdit, &edit); err != nil {
		return
	}
	_, hostRange, ok := translateRangeForVirtualURI(store, virtualURI, edit.Range)
	if !ok {
		return
	}
	edit.Range = hostRange
	translated, err := json.Marshal(edit)
	if err != nil {
		return
	}
	item.TextEdit = translated
}

// marshalCompletionResult re-encodes items by merging the translated
// textEdit back into the original raw item objects, preserving every field
// the completionItem struct doesn't itself model (kind, detail,
// insertTextFormat, sortText, ...).
func marshalCompletionResult(originalRaw json.RawMessage, items []completionItem, isIncomplete *bool) (json.RawMessage, error) {
	var rawItems []json.RawMessage
	if isIncomplete != nil {
		var wrapper struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(originalRaw, &wrapper); err != nil {
			return originalRaw, nil
		}
		rawItems = wrapper.Items
	} else {
		if err := json.Unmarshal(originalRaw, &rawItems); err != nil {
			return originalRaw, nil
		}
	}
	if len(rawItems) != len(items) {
		return originalRaw, nil
	}

	merged := make([]json.RawMessage, len(rawItems))
	for i, raw := range rawItems {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			merged[i] = raw
			continue
		}
		if len(items[i].TextEdit) > 0 {
			fields["textEdit"] = items[i].TextEdit
		}
		out, err := json.Marshal(fields)
		if err != nil {
			merged[i] = raw
			continue
		}
		merged[i] = out
	}

	if isIncomplete != nil {
		return json.Marshal(struct {
			IsIncomplete bool              `json:"isIncomplete"`
			Items        []json.RawMessage `json:"items"`
		}{IsIncomplete: *isIncomplete, Items: merged})
	}
	return json.Marshal(merged)
}

type prepareRenameResult struct {
	Range       *lspRange `json:"range,omitempty"`
	Placeholder *string   `json:"placeholder,omitempty"`
}

// translatePrepareRename handles the three result shapes
// textDocument/prepareRename may return: a bare Range, a
// {range, placeholder} object, or {defaultBehavior: true} (passed through
// unchanged, since it carries no position).
func translatePrepareRename(store *document.Store, virtualURI string, raw json.RawMessage) (json.RawMessage, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return raw, nil
	}

	if _, ok := probe["start"]; ok {
		var r lspRange
		if err := json.Unmarshal(raw, &r); err != nil {
			return raw, nil
		}
		_, hostRange, ok := translateRangeForVirtualURI(store, virtualURI, r)
		if !ok {
			return raw, nil
		}
		return json.Marshal(hostRange)
	}

	if _, ok := probe["range"]; ok {
		var wrapped prepareRenameResult
		if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Range == nil {
			return raw, nil
		}
		_, hostRange, ok := translateRangeForVirtualURI(store, virtualURI, *wrapped.Range)
		if !ok {
			return raw, nil
		}
		wrapped.Range = &hostRange
		return json.Marshal(wrapped)
	}

	return raw, nil
}

type workspaceEdit struct {
	Changes map[string][]textEdit `json:"changes,omitempty"`
}

// translateWorkspaceEdit rewrites a rename's WorkspaceEdit.Changes keyed by
// virtualURI into the host URI, translating every edit's range. A rename
// only ever touches the one virtual document the request targeted: a
// child has no notion of the host document, so every key it returns is
// some virtual URI literate-lsp itself assigned.
func translateWorkspaceEdit(store *document.Store, virtualURI string, raw json.RawMessage) (json.RawMessage, error) {
	var edit workspaceEdit
	if err := json.Unmarshal(raw, &edit); err != nil || edit.Changes == nil {
		return raw, nil
	}

	out := workspaceEdit{Changes: make(map[string][]textEdit, len(edit.Changes))}
	for uri, edits := range edit.Changes {
		hostURI, _, ok := store.ResolveVirtual(uri)
		if !ok {
			hostURI = uri
		}
		translated := make([]textEdit, 0, len(edits))
		for _, e := range edits {
			_, hostRange, ok := translateRangeForVirtualURI(store, virtualURI, e.Range)
			if !ok {
				translated = append(translated, e)
				continue
			}
			translated = append(translated, textEdit{Range: hostRange, NewText: e.NewText})
		}
		out.Changes[hostURI] = translated
	}
	return json.Marshal(out)
}
