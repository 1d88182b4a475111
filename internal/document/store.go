// Package document implements the Document Store (spec.md §4.3): for each
// open host document it holds the current text, parsed blocks, and one
// VirtualDocument + BlockMap per embedded language.
//
// The per-document field shape (URI/Version/Text) is a direct
// generalization of simon-lentz/yammm's Document/DocumentSnapshot in
// lsp/workspace.go, widened from one implicit language to a map keyed by
// language tag.
package document

import (
	"strings"
	"sync"

	"github.com/AlexanderBrevig/literate-lsp/internal/block"
)

// Segment is one entry of a BlockMap: a contiguous run of lines that is
// identical between a host document and a language's virtual document.
type Segment struct {
	HostStartLine    int
	VirtualStartLine int
	LineCount        int
}

// BlockMap is the ordered host-line ↔ virtual-line translation table for
// one (host URI, language) pair (spec.md §3).
type BlockMap []Segment

// SegmentForVirtualLine binary-searches the BlockMap by virtual start line,
// per spec.md §4.4 ("binary-search the BlockMap by virtual_start_line").
func (bm BlockMap) SegmentForVirtualLine(virtualLine int) (Segment, bool) {
	lo, hi := 0, len(bm)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		seg := bm[mid]
		switch {
		case virtualLine < seg.VirtualStartLine:
			hi = mid - 1
		case virtualLine >= seg.VirtualStartLine+seg.LineCount:
			lo = mid + 1
		default:
			return seg, true
		}
	}
	return Segment{}, false
}

// HostDocument is the editor's view of a literate document (spec.md §3).
type HostDocument struct {
	URI     string
	Version int
	Text    string
	Dialect block.Dialect
	Blocks  []block.Block
}

// VirtualDocument is the concatenation of one language's blocks from one
// host document (spec.md §3).
type VirtualDocument struct {
	URI      string
	Language string
	HostURI  string
	Version  int
	Text     string
}

// EventKind classifies a VirtualEvent.
type EventKind int

const (
	VirtualOpened EventKind = iota
	VirtualChanged
	VirtualClosed
)

// VirtualEvent describes a notification the Router must forward to a
// child for one virtual document, as a result of a Store mutation.
type VirtualEvent struct {
	Language string
	URI      string
	Kind     EventKind
	Text     string // valid for Opened/Changed
	Version  int
}

// entry is the Store's per-host-URI state, individually locked so that
// different URIs are independent (spec.md §5 "Shared resources").
type entry struct {
	mu        sync.Mutex
	doc       HostDocument
	virtuals  map[string]*VirtualDocument
	blockMaps map[string]BlockMap
}

// Store holds all open HostDocuments and their derived VirtualDocuments.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*entry

	// extensionFor resolves a language tag to a conventional file
	// extension for virtual URI synthesis (spec.md §6). Injected so the
	// Config Resolver's `file_extension` setting can override it.
	extensionFor func(language string) string
}

// NewStore creates an empty Document Store.
func NewStore(extensionFor func(language string) string) *Store {
	if extensionFor == nil {
		extensionFor = DefaultExtension
	}
	return &Store{
		docs:         make(map[string]*entry),
		extensionFor: extensionFor,
	}
}

// Open parses text into blocks and builds the initial VirtualDocuments,
// returning one VirtualOpened event per language observed (spec.md §4.3).
func (s *Store) Open(uri string, text string, dialect block.Dialect) []VirtualEvent {
	e := &entry{
		doc: HostDocument{
			URI:     uri,
			Version: 1,
			Text:    text,
			Dialect: dialect,
			Blocks:  block.Extract(text, dialect),
		},
		virtuals:  make(map[string]*VirtualDocument),
		blockMaps: make(map[string]BlockMap),
	}

	s.mu.Lock()
	s.docs[uri] = e
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	var events []VirtualEvent
	for _, lang := range languagesOf(e.doc.Blocks) {
		vdoc, bm := buildVirtual(uri, lang, e.doc.Blocks, s.extensionFor(lang))
		e.virtuals[lang] = vdoc
		e.blockMaps[lang] = bm
		events = append(events, VirtualEvent{
			Language: lang, URI: vdoc.URI, Kind: VirtualOpened,
			Text: vdoc.Text, Version: vdoc.Version,
		})
	}
	return events
}

// Change replaces a host document's full text, re-parses it, and returns
// the VirtualEvents needed to bring every affected language's child up to
// date: VirtualOpened for a language seen for the first time,
// VirtualChanged when its concatenated text differs, VirtualClosed when
// the language no longer has any blocks (spec.md §4.3).
func (s *Store) Change(uri string, text string) []VirtualEvent {
	s.mu.RLock()
	e, ok := s.docs[uri]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.doc.Version++
	e.doc.Text = text
	e.doc.Blocks = block.Extract(text, e.doc.Dialect)

	newLangs := languagesOf(e.doc.Blocks)
	seen := make(map[string]bool, len(newLangs))

	var events []VirtualEvent
	for _, lang := range newLangs {
		seen[lang] = true
		vdoc, bm := buildVirtual(uri, lang, e.doc.Blocks, s.extensionFor(lang))

		existing, hadVirtual := e.virtuals[lang]
		if !hadVirtual {
			e.virtuals[lang] = vdoc
			e.blockMaps[lang] = bm
			events = append(events, VirtualEvent{
				Language: lang, URI: vdoc.URI, Kind: VirtualOpened,
				Text: vdoc.Text, Version: vdoc.Version,
			})
			continue
		}

		if existing.Text == vdoc.Text {
			// No textual change for this language; skip notifying the
			// child even though the host document version advanced.
			e.blockMaps[lang] = bm
			continue
		}

		vdoc.Version = existing.Version + 1
		e.virtuals[lang] = vdoc
		e.blockMaps[lang] = bm
		events = append(events, VirtualEvent{
			Language: lang, URI: vdoc.URI, Kind: VirtualChanged,
			Text: vdoc.Text, Version: vdoc.Version,
		})
	}

	// Any language present before but absent now loses its virtual
	// document (spec.md §4.3: re-parse may remove the last block of a
	// language).
	for lang, vdoc := range e.virtuals {
		if seen[lang] {
			continue
		}
		events = append(events, VirtualEvent{
			Language: lang, URI: vdoc.URI, Kind: VirtualClosed,
		})
		delete(e.virtuals, lang)
		delete(e.blockMaps, lang)
	}

	return events
}

// Close drops a host document and all its VirtualDocuments, returning one
// VirtualClosed event per language that had a virtual document open.
func (s *Store) Close(uri string) []VirtualEvent {
	s.mu.Lock()
	e, ok := s.docs[uri]
	if ok {
		delete(s.docs, uri)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	events := make([]VirtualEvent, 0, len(e.virtuals))
	for lang, vdoc := range e.virtuals {
		events = append(events, VirtualEvent{Language: lang, URI: vdoc.URI, Kind: VirtualClosed})
	}
	return events
}

// Snapshot is an immutable, lock-free-to-read copy of a host document's
// current state, mirroring yammm's DocumentSnapshot pattern.
type Snapshot struct {
	Doc       HostDocument
	BlockMaps map[string]BlockMap
	Virtuals  map[string]*VirtualDocument
}

// Get returns a Snapshot of the host document identified by uri, or false
// if it is not open.
func (s *Store) Get(uri string) (Snapshot, bool) {
	s.mu.RLock()
	e, ok := s.docs[uri]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	bms := make(map[string]BlockMap, len(e.blockMaps))
	for k, v := range e.blockMaps {
		bms[k] = v
	}
	vdocs := make(map[string]*VirtualDocument, len(e.virtuals))
	for k, v := range e.virtuals {
		cp := *v
		vdocs[k] = &cp
	}

	return Snapshot{Doc: e.doc, BlockMaps: bms, Virtuals: vdocs}, true
}

// BlockAt returns the block of the host document at uri containing the
// given 0-based line, or (Block{}, false) if none (spec.md §4.4
// "OutsideBlock").
func (s Snapshot) BlockAt(line int) (block.Block, bool) {
	for _, b := range s.Doc.Blocks {
		if b.Contains(line) {
			return b, true
		}
	}
	return block.Block{}, false
}

// ResolveVirtual finds the (hostURI, language) pair that owns virtualURI,
// so the Router can translate a result the child expresses in virtual-
// document terms (a Location's URI, a workspace/symbol hit) back to the
// host document it came from.
func (s *Store) ResolveVirtual(virtualURI string) (hostURI, language string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for uri, e := range s.docs {
		e.mu.Lock()
		for lang, vdoc := range e.virtuals {
			if vdoc.URI == virtualURI {
				e.mu.Unlock()
				return uri, lang, true
			}
		}
		e.mu.Unlock()
	}
	return "", "", false
}

// ReopenLanguage resets the version to 1 for language's virtual document
// in every host document that currently has one, and returns a
// VirtualOpened event for each (spec.md §4.5: "Upon successful respawn,
// re-emit didOpen for every currently open (host URI, language) whose
// host still has blocks of that language; versions restart at 1").
func (s *Store) ReopenLanguage(language string) []VirtualEvent {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.docs))
	for _, e := range s.docs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var events []VirtualEvent
	for _, e := range entries {
		e.mu.Lock()
		vdoc, ok := e.virtuals[language]
		if ok {
			vdoc.Version = 1
			events = append(events, VirtualEvent{
				Language: language, URI: vdoc.URI, Kind: VirtualOpened,
				Text: vdoc.Text, Version: vdoc.Version,
			})
		}
		e.mu.Unlock()
	}
	return events
}

// AllHostURIs returns every host URI currently open, used by broadcast
// operations (spec.md §4.6 workspace/symbol) that must sweep every
// document to translate a child's virtual-URI hits back to host terms.
func (s *Store) AllHostURIs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uris := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		uris = append(uris, uri)
	}
	return uris
}

func languagesOf(blocks []block.Block) []string {
	seen := make(map[string]bool)
	var langs []string
	for _, b := range blocks {
		if b.Language == "" {
			continue
		}
		if !seen[b.Language] {
			seen[b.Language] = true
			langs = append(langs, b.Language)
		}
	}
	return langs
}

// buildVirtual concatenates every block of lang from blocks, in document
// order, into a VirtualDocument and its BlockMap (spec.md §3
// VirtualDocument, BlockMap).
func buildVirtual(hostURI, lang string, blocks []block.Block, ext string) (*VirtualDocument, BlockMap) {
	var sb strings.Builder
	var bm BlockMap
	virtualLine := 0

	for _, b := range blocks {
		if b.Language != lang {
			continue
		}
		lineCount := b.ContentLines()
		bm = append(bm, Segment{
			HostStartLine:    b.StartLine,
			VirtualStartLine: virtualLine,
			LineCount:        lineCount,
		})
		if lineCount > 0 {
			sb.WriteString(b.Content)
			sb.WriteByte('\n')
		}
		virtualLine += lineCount
	}

	return &VirtualDocument{
		URI:      SynthesizeURI(hostURI, lang, ext),
		Language: lang,
		HostURI:  hostURI,
		Version:  1,
		Text:     sb.String(),
	}, bm
}
