package router

import (
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
)

// pendingRequest correlates one in-flight editor request with the child
// request(s) it fanned out to, so a child's response can be rewritten back
// into the editor's own id. Requests literate-lsp originates itself
// (Broadcast, DocumentSymbols) are tracked by the Router's waiters instead.
type pendingRequest struct {
	editorID json.RawMessage
	method   string
	// childID is this request's id as sent to the child stream it was
	// forwarded to; children mint their own id space, so literate-lsp
	// never reuses the editor's id on the wire.
	childID    json.RawMessage
	language   string
	virtualURI string
}

// pendingTable tracks in-flight requests keyed by the synthetic id
// literate-lsp assigns each child-bound request, generalizing
// kpumuk-thrift-weaver's requestCancels/pendingCancelled maps (there keyed
// by the editor's own id, since that server never forwards anywhere) to a
// two-level key: literate-lsp's own id talking to the child, correlated
// back to the editor's id that originated it.
type pendingTable struct {
	mu      sync.Mutex
	byChild map[string]*pendingRequest // childID string -> pending
	counter int64
}

func newPendingTable() *pendingTable {
	return &pendingTable{byChild: make(map[string]*pendingRequest)}
}

// NextChildID mints a fresh id for a request literate-lsp is about to send
// to a child, unique within this process's lifetime.
func (t *pendingTable) NextChildID() json.RawMessage {
	n := atomic.AddInt64(&t.counter, 1)
	return json.RawMessage(strconv.FormatInt(n, 10))
}

// Add records a pending forwarded request.
func (t *pendingTable) Add(childID json.RawMessage, p *pendingRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byChild[string(childID)] = p
}

// Take removes and returns the pendingRequest for childID, if any.
func (t *pendingTable) Take(childID json.RawMessage) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := string(childID)
	p, ok := t.byChild[key]
	if ok {
		delete(t.byChild, key)
	}
	return p, ok
}

// TakeAllForLanguage removes and returns every pending request addressed
// to language, used when that language's child crashes: every request it
// was ever going to answer must be failed instead of left blocking the
// editor forever (spec.md §4.5 crash policy, §8 "every PendingRequest is
// eventually resolved").
func (t *pendingTable) TakeAllForLanguage(language string) []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*pendingRequest
	for key, p := range t.byChild {
		if p.language == language {
			out = append(out, p)
			delete(t.byChild, key)
		}
	}
	return out
}

// CancelForEditorID finds every still-pending child request that
// originated from the given editor request id and forgets them, returning
// their (language, childID) pairs so the router can forward
// $/cancelRequest to each child in turn (spec.md §4.6 "cancelRequest ->
// forward to the owning child").
func (t *pendingTable) CancelForEditorID(editorID json.RawMessage) []pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	target := string(editorID)
	var cancelled []pendingRequest
	for key, p := range t.byChild {
		if string(p.editorID) == target {
			cancelled = append(cancelled, *p)
			delete(t.byChild, key)
		}
	}
	return cancelled
}
