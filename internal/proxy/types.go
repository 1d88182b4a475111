package proxy

import protocol "github.com/tliron/glsp/protocol_3_16"

// textDocumentPositionRequest is the minimal {textDocument, position} shape
// shared by the position-bearing requests the router forwards (spec.md
// §4.6): hover, definition, and friends reduce to this on the wire once the
// host position has been rewritten to a virtual one. references and rename
// carry one more field each (referenceRequest, renameRequest).
type textDocumentPositionRequest struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Position     protocol.Position               `json:"position"`
}

func positionRequestParams(virtualURI string, vpos protocol.Position) any {
	return textDocumentPositionRequest{
		TextDocument: protocol.TextDocumentIdentifier{URI: virtualURI},
		Position:     vpos,
	}
}

type referenceRequest struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Position     protocol.Position               `json:"position"`
	Context      protocol.ReferenceContext       `json:"context"`
}

type renameRequest struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Position     protocol.Position               `json:"position"`
	NewName      string                          `json:"newName"`
}
