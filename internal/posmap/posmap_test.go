package posmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexanderBrevig/literate-lsp/internal/block"
	"github.com/AlexanderBrevig/literate-lsp/internal/document"
)

// twoBlockDoc has a forth block starting at host line 3 (1 line) and a
// second forth block starting at host line 9 (2 lines), mirroring the
// "Forth hover" end-to-end scenario in spec.md §8.
const twoBlockDoc = "# Doc\n\n```forth\n: square dup * ;\n```\n\ntext\n\n```forth\n: fib\n  dup 2 < if drop 1 else dup 1 - fib swap 2 - fib + then ;\n```\n"

func setup(t *testing.T) ([]block.Block, document.BlockMap) {
	t.Helper()
	s := document.NewStore(nil)
	s.Open("file:///example.md", twoBlockDoc, block.DialectMarkdown)
	snap, ok := s.Get("file:///example.md")
	require.True(t, ok)
	return snap.Doc.Blocks, snap.BlockMaps["forth"]
}

func TestMapFirstBlockPosition(t *testing.T) {
	blocks, bm := setup(t)
	v, ok := Map(blocks, bm, Position{Line: 3, Col: 2})
	require.True(t, ok)
	assert.Equal(t, Position{Line: 0, Col: 2}, v)
}

func TestMapSecondBlockPositionOffsetBySeparator(t *testing.T) {
	blocks, bm := setup(t)
	// second block's second content line is host line 10
	v, ok := Map(blocks, bm, Position{Line: 10, Col: 2})
	require.True(t, ok)
	// first block contributes 1 line (virtual line 0); second block
	// starts at virtual line 1, its second line is virtual line 2.
	assert.Equal(t, Position{Line: 2, Col: 2}, v)
}

func TestMapOnFenceLineIsOutsideBlock(t *testing.T) {
	blocks, bm := setup(t)
	_, ok := Map(blocks, bm, Position{Line: 2, Col: 0}) // the ```forth line itself
	assert.False(t, ok)
}

func TestMapUnmapRoundTrip(t *testing.T) {
	blocks, bm := setup(t)
	host := Position{Line: 9, Col: 3}
	v, ok := Map(blocks, bm, host)
	require.True(t, ok)

	back, ok := Unmap(blocks, bm, v)
	require.True(t, ok)
	assert.Equal(t, host, back)
}

func TestUnmapMapRoundTrip(t *testing.T) {
	blocks, bm := setup(t)
	virtual := Position{Line: 1, Col: 4}
	host, ok := Unmap(blocks, bm, virtual)
	require.True(t, ok)

	back, ok := Map(blocks, bm, host)
	require.True(t, ok)
	assert.Equal(t, virtual, back)
}

func TestMapOutsideAnyBlockReturnsFalse(t *testing.T) {
	blocks, bm := setup(t)
	_, ok := Map(blocks, bm, Position{Line: 0, Col: 0})
	assert.False(t, ok)
}

func TestMapRangeWithinSingleBlock(t *testing.T) {
	blocks, bm := setup(t)
	ranges := MapRange(blocks, bm, Range{
		Start: Position{Line: 9, Col: 2},
		End:   Position{Line: 9, Col: 6},
	})
	require.Len(t, ranges, 1)
	assert.Equal(t, 1, ranges[0].Start.Line)
	assert.Equal(t, 1, ranges[0].End.Line)
}

func TestSegmentForVirtualLineBinarySearch(t *testing.T) {
	_, bm := setup(t)
	seg, ok := SegmentForVirtualLine(bm, 2)
	require.True(t, ok)
	assert.Equal(t, 9, seg.HostStartLine)

	_, ok = SegmentForVirtualLine(bm, 99)
	assert.False(t, ok)
}

func TestByteOffsetForColumnUTF16MultiByteRune(t *testing.T) {
	line := []byte("fn \xe2\x9c\x93() {}") // "fn " + a 3-byte BMP check-mark rune + "() {}"

	beforeRune := ByteOffsetForColumn(line, 3, UTF16)
	assert.Equal(t, 3, beforeRune)

	afterRune := ByteOffsetForColumn(line, 4, UTF16)
	assert.Equal(t, 6, afterRune) // one BMP rune is one UTF-16 unit but 3 bytes

	assert.Equal(t, 4, ColumnForByteOffset(line, afterRune, UTF16))
}

func TestByteOffsetForColumnUTF8IsIdentity(t *testing.T) {
	line := []byte("abcdef")
	assert.Equal(t, 3, ByteOffsetForColumn(line, 3, UTF8))
	assert.Equal(t, 3, ColumnForByteOffset(line, 3, UTF8))
}
