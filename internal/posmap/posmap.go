// Package posmap implements the Position Mapper (spec.md §4.4): bijective
// translation between host (line, col) and virtual (line, col) positions,
// block-membership queries, and range translation with clamping.
//
// The UTF-16/UTF-8 code-unit conversion helpers are carried over from
// simon-lentz/yammm's lsp/posconv.go (utf16CharToByteOffset,
// ByteToUTF16Offset, clampToLineEnd): the byte ↔ UTF-16-code-unit
// arithmetic is identical regardless of what registers the underlying
// source text, so the teacher's implementation is reused verbatim and
// re-plumbed to work off block.Block/document.BlockMap instead of
// yammm's location.Registry.
package posmap

import (
	"bytes"
	"errors"
	"unicode/utf8"

	"github.com/AlexanderBrevig/literate-lsp/internal/block"
	"github.com/AlexanderBrevig/literate-lsp/internal/document"
)

// Encoding is the negotiated LSP character encoding.
type Encoding int

const (
	UTF16 Encoding = iota
	UTF8
)

// Position is a 0-based (line, column) pair in either host or virtual
// document coordinates; the two are never mixed without going through Map
// or Unmap.
type Position struct {
	Line int
	Col  int
}

// Range is a pair of Positions; Start must not be after End.
type Range struct {
	Start Position
	End   Position
}

// ErrOutsideBlock signals that a host position does not fall inside any
// CodeBlock (spec.md §7 OutsideBlock). Map/Unmap report this condition via
// their bool return instead of an error; ErrOutsideBlock is the error
// value for callers that need to surface the condition as an error. No
// package in this module currently returns it.
var ErrOutsideBlock = errors.New("position outside any code block")

// Map translates a host position to the virtual position of the block
// that contains it, per spec.md §4.4 steps 1-3.
//
// Columns pass through unchanged (the mapper is line-oriented — valid
// because block content is copied byte-for-byte into the virtual
// document, and LSP's UTF-16 code-unit columns are therefore identical on
// both sides of the copy).
func Map(blocks []block.Block, bm document.BlockMap, host Position) (Position, bool) {
	b, ok := blockContaining(blocks, host.Line)
	if !ok {
		return Position{}, false
	}

	localLine := host.Line - b.StartLine
	localCol := host.Col
	if localLine == 0 {
		localCol = host.Col - 0 // standard fences start content at column 0
	}

	seg, ok := segmentFor(bm, b)
	if !ok {
		return Position{}, false
	}

	return Position{Line: seg.VirtualStartLine + localLine, Col: localCol}, true
}

// Unmap translates a virtual position back to a host position, the
// inverse of Map, per spec.md §4.4 "Inverse mapping".
func Unmap(blocks []block.Block, bm document.BlockMap, virtual Position) (Position, bool) {
	seg, ok := bm.SegmentForVirtualLine(virtual.Line)
	if !ok {
		return Position{}, false
	}

	localLine := virtual.Line - seg.VirtualStartLine
	b, ok := blockAtHostLine(blocks, seg.HostStartLine)
	if !ok {
		return Position{}, false
	}

	return Position{Line: b.StartLine + localLine, Col: virtual.Col}, true
}

// MapRange translates a host Range to one or more virtual Ranges, per
// spec.md §4.4 "Range translation": both endpoints are mapped; an
// endpoint outside any block is clamped to the nearest block boundary on
// the same side, and a range spanning a gap between blocks is split into
// one sub-range per contiguous virtual segment it touches.
func MapRange(blocks []block.Block, bm document.BlockMap, hostRange Range) []Range {
	startBlock, startOK := blockContaining(blocks, hostRange.Start.Line)
	endBlock, endOK := blockContaining(blocks, hostRange.End.Line)

	if !startOK && !endOK {
		return nil
	}

	if !startOK {
		// Clamp start to the first block boundary at or after the
		// original start line.
		b, ok := nextBlockAtOrAfter(blocks, hostRange.Start.Line)
		if !ok {
			return nil
		}
		hostRange.Start = Position{Line: b.StartLine, Col: 0}
	}
	if !endOK {
		b, ok := prevBlockAtOrBefore(blocks, hostRange.End.Line)
		if !ok {
			return nil
		}
		hostRange.End = Position{Line: b.EndLine - 1, Col: lastLineLen(b)}
	}

	startBlock, _ = blockContaining(blocks, hostRange.Start.Line)
	endBlock, _ = blockContaining(blocks, hostRange.End.Line)

	if startBlock.Index == endBlock.Index {
		start, ok1 := Map(blocks, bm, hostRange.Start)
		end, ok2 := Map(blocks, bm, hostRange.End)
		if !ok1 || !ok2 {
			return nil
		}
		return []Range{{Start: start, End: end}}
	}

	// The range spans multiple blocks: emit one sub-range per block it
	// touches, clipped to that block's own span.
	var ranges []Range
	for i := startBlock.Index; i <= endBlock.Index; i++ {
		if i < 0 || i >= len(blocks) {
			continue
		}
		b := blocks[i]
		if b.Language != startBlock.Language {
			continue
		}
		lo := Position{Line: b.StartLine, Col: 0}
		if i == startBlock.Index {
			lo = hostRange.Start
		}
		hi := Position{Line: b.EndLine - 1, Col: lastLineLen(b)}
		if i == endBlock.Index {
			hi = hostRange.End
		}
		start, ok1 := Map(blocks, bm, lo)
		end, ok2 := Map(blocks, bm, hi)
		if ok1 && ok2 {
			ranges = append(ranges, Range{Start: start, End: end})
		}
	}
	return ranges
}

func blockContaining(blocks []block.Block, line int) (block.Block, bool) {
	for _, b := range blocks {
		if b.Contains(line) {
			return b, true
		}
	}
	return block.Block{}, false
}

func blockAtHostLine(blocks []block.Block, hostStartLine int) (block.Block, bool) {
	for _, b := range blocks {
		if b.StartLine == hostStartLine {
			return b, true
		}
	}
	return block.Block{}, false
}

func nextBlockAtOrAfter(blocks []block.Block, line int) (block.Block, bool) {
	var best block.Block
	found := false
	for _, b := range blocks {
		if b.StartLine >= line && (!found || b.StartLine < best.StartLine) {
			best, found = b, true
		}
	}
	return best, found
}

func prevBlockAtOrBefore(blocks []block.Block, line int) (block.Block, bool) {
	var best block.Block
	found := false
	for _, b := range blocks {
		if b.EndLine-1 <= line && (!found || b.EndLine > best.EndLine) {
			best, found = b, true
		}
	}
	return best, found
}

func lastLineLen(b block.Block) int {
	lines := splitLines(b.Content)
	if len(lines) == 0 {
		return 0
	}
	return len(lines[len(lines)-1])
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

// SegmentForVirtualLine exposes document.BlockMap's binary search for
// callers (and tests) outside the document package.
func SegmentForVirtualLine(bm document.BlockMap, virtualLine int) (document.Segment, bool) {
	return bm.SegmentForVirtualLine(virtualLine)
}

func segmentFor(bm document.BlockMap, b block.Block) (document.Segment, bool) {
	for _, seg := range bm {
		if seg.HostStartLine == b.StartLine {
			return seg, true
		}
	}
	return document.Segment{}, false
}

// utf16CharToByteOffset converts a UTF-16 character offset on a line to a
// byte offset, carried over from yammm's lsp/posconv.go.
func utf16CharToByteOffset(content []byte, lineStart, charOffset int) int {
	if charOffset <= 0 {
		return lineStart
	}

	pos := lineStart
	utf16Units := 0

	for pos < len(content) && utf16Units < charOffset {
		r, size := utf8.DecodeRune(content[pos:])
		if r == utf8.RuneError && size <= 1 {
			utf16Units++
			pos++
			continue
		}
		if r == '\n' {
			break
		}
		if r > 0xFFFF {
			if utf16Units+2 > charOffset && utf16Units+1 == charOffset {
				return pos
			}
			utf16Units += 2
		} else {
			utf16Units++
		}
		pos += size
	}

	return pos
}

// ByteToUTF16Offset converts a byte offset on a line to UTF-16 code units,
// carried over from yammm's lsp/posconv.go.
func ByteToUTF16Offset(content []byte, lineStart, targetByte int) int {
	if targetByte <= lineStart {
		return 0
	}

	utf16Units := 0
	pos := lineStart

	for pos < targetByte && pos < len(content) {
		r, size := utf8.DecodeRune(content[pos:])
		if r == utf8.RuneError && size <= 1 {
			utf16Units++
			pos++
			continue
		}
		if r == '\n' {
			break
		}
		if pos+size > targetByte {
			break
		}
		if r > 0xFFFF {
			utf16Units += 2
		} else {
			utf16Units++
		}
		pos += size
	}

	return utf16Units
}

// ByteOffsetForColumn converts an LSP column on a single line's content to
// a byte offset within that line, honoring the given Encoding. It is used
// when a child negotiates a different position encoding than the editor
// (LSP 3.17 position-encoding negotiation), so the router can re-encode a
// column as it crosses from host to child coordinates.
func ByteOffsetForColumn(lineContent []byte, col int, enc Encoding) int {
	switch enc {
	case UTF8:
		return clampToLineEnd(lineContent, 0, col)
	default:
		return utf16CharToByteOffset(lineContent, 0, col)
	}
}

// ColumnForByteOffset is the inverse of ByteOffsetForColumn.
func ColumnForByteOffset(lineContent []byte, byteOffset int, enc Encoding) int {
	switch enc {
	case UTF8:
		return byteOffset
	default:
		return ByteToUTF16Offset(lineContent, 0, byteOffset)
	}
}

// clampToLineEnd ensures offset doesn't exceed the end of the line
// starting at lineStart, carried over from yammm's lsp/posconv.go.
func clampToLineEnd(content []byte, lineStart, offset int) int {
	if offset < lineStart {
		return lineStart
	}
	lineContent := content[lineStart:]
	if idx := bytes.IndexByte(lineContent, '\n'); idx >= 0 {
		lineEnd := lineStart + idx
		if offset > lineEnd {
			return lineEnd
		}
	} else if offset > len(content) {
		return len(content)
	}
	return offset
}
