package proxy

import protocol "github.com/tliron/glsp/protocol_3_16"

// maxTriggerCharacters caps the advertised completion trigger-character
// set (spec.md §4.8: "capped at 32").
const maxTriggerCharacters = 32

// commonTriggerCharacters lists the conventional completion trigger
// characters for languages the config table is likely to name, used to
// build the union-of-children capability advertised at initialize time
// (spec.md §4.8). A language absent from this table contributes none;
// children don't get asked for their own trigger characters before
// they've been spawned, so this is deliberately a static, conservative
// table rather than a live capability query.
var commonTriggerCharacters = map[string][]string{
	"go":         {"."},
	"golang":     {"."},
	"rust":       {".", ":"},
	"typescript": {".", "\"", "'", "`", "/", "@", "<", "#"},
	"javascript": {".", "\"", "'", "`", "/", "@", "<"},
	"python":     {".", "'", "\""},
	"ruby":       {".", ":", "@"},
	"java":       {".", "@"},
	"c":          {".", ">", ":"},
	"cpp":        {".", ">", ":"},
	"c++":        {".", ">", ":"},
	"lua":        {".", ":"},
	"zig":        {".", ":", "@"},
	"forth":      {" "},
	"sh":         {"$", "-", "/"},
	"bash":       {"$", "-", "/"},
}

// unionTriggerCharacters builds the deduplicated union of trigger
// characters for the given languages, capped at maxTriggerCharacters, in a
// deterministic order (languages sorted, characters in table order) so
// repeated calls advertise the same capability set.
func unionTriggerCharacters(languages []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, lang := range languages {
		for _, ch := range commonTriggerCharacters[lang] {
			if seen[ch] {
				continue
			}
			seen[ch] = true
			out = append(out, ch)
			if len(out) >= maxTriggerCharacters {
				return out
			}
		}
	}
	return out
}

// serverCapabilities builds the ServerCapabilities literate-lsp advertises
// at initialize: the union of features any configured child could
// satisfy, gated per-request by the responding child's actual
// capabilities once forwarded (spec.md §4.8, §4.6).
func serverCapabilities(languages []string) protocol.ServerCapabilities {
	syncKind := protocol.TextDocumentSyncKindFull
	trueVal := true

	return protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			OpenClose: &trueVal,
			Change:    &syncKind,
		},
		HoverProvider:              &protocol.HoverOptions{},
		DefinitionProvider:         &protocol.DefinitionOptions{},
		DeclarationProvider:        true,
		TypeDefinitionProvider:     true,
		ImplementationProvider:     true,
		ReferencesProvider:         &protocol.ReferenceOptions{},
		DocumentHighlightProvider:  &protocol.DocumentHighlightOptions{},
		DocumentSymbolProvider:     &protocol.DocumentSymbolOptions{},
		WorkspaceSymbolProvider:    &protocol.WorkspaceSymbolOptions{},
		SignatureHelpProvider:      &protocol.SignatureHelpOptions{},
		RenameProvider: &protocol.RenameOptions{
			PrepareProvider: &trueVal,
		},
		CompletionProvider: &protocol.CompletionOptions{
			TriggerCharacters: unionTriggerCharacters(languages),
		},
	}
}
