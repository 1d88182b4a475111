// Package block extracts fenced code blocks from literate documents
// (Markdown, Typst), generalizing the single-language fence scanner that
// simon-lentz/yammm uses for its own embedded ```yammm blocks (see
// lsp/markdown.go in the teacher) to blocks of any language tag and to a
// second dialect.
package block

import "strings"

// Dialect selects which literate-document fence grammar Extract uses.
type Dialect int

const (
	// DialectMarkdown extracts CommonMark-style fenced code blocks
	// (backtick or tilde fences, ≤3 spaces indent).
	DialectMarkdown Dialect = iota
	// DialectTypst extracts Typst raw blocks (backtick fences only).
	DialectTypst
)

// Block is an immutable fenced code block extracted from a host document at
// a particular text version (spec.md §3 CodeBlock).
type Block struct {
	// Language is the fence's info-string/tag, lowercased and trimmed.
	// Empty means the fence had no language tag.
	Language string
	// Content is the block's body, content lines joined by "\n",
	// excluding the fence delimiters themselves.
	Content string
	// StartLine and EndLine are 0-based host-document line numbers
	// bounding the block's *content* (StartLine is the line after the
	// opening fence; EndLine is the closing fence's own line, exclusive
	// of content — i.e. content occupies [StartLine, EndLine)).
	StartLine int
	EndLine   int
	// FenceChar is '`' or '~'.
	FenceChar byte
	// Index is the block's 0-based position within the document's block
	// list, in document order.
	Index int
}

// ContentLines reports the number of content lines in the block, 0 for an
// empty block (spec.md §8 "Empty code block").
func (b Block) ContentLines() int {
	if b.EndLine <= b.StartLine {
		return 0
	}
	return b.EndLine - b.StartLine
}

// Contains reports whether the 0-based host line falls strictly inside the
// block's content span.
func (b Block) Contains(line int) bool {
	return line >= b.StartLine && line < b.EndLine
}

// Extract parses text (host document content, LF-normalized) into an
// ordered list of fenced code blocks per the given Dialect. Parsing is
// always whole-document (spec.md §4.2: "not incremental"); malformed tails
// (an opening fence with no matching close) are excluded, never reported
// as an error.
func Extract(text string, dialect Dialect) []Block {
	switch dialect {
	case DialectTypst:
		return extractTypst(text)
	default:
		return extractMarkdown(text)
	}
}

type fenceState int

const (
	stateNormal fenceState = iota
	stateInBlock
)

// extractMarkdown mirrors the teacher's ExtractCodeBlocks state machine
// (lsp/markdown.go), generalized to accept any non-empty language tag
// instead of hardcoding "yammm".
func extractMarkdown(content string) []Block {
	lines := strings.Split(content, "\n")
	state := stateNormal

	var blocks []Block
	var fenceChar byte
	var fenceLen int
	var blockStartLine int
	var language string
	var contentLines []string

	for lineNum, line := range lines {
		switch state {
		case stateNormal:
			trimmed := strings.TrimLeft(line, " ")
			indent := len(line) - len(trimmed)

			// 4+ spaces is indented-code territory, not a fence.
			if indent > 3 {
				continue
			}

			ch, count := scanFenceChars(trimmed)
			if count < 3 {
				continue
			}

			infoString := strings.TrimSpace(trimmed[count:])
			lang := firstToken(infoString)
			if lang == "" {
				continue
			}

			fenceChar = ch
			fenceLen = count
			blockStartLine = lineNum + 1
			language = strings.ToLower(lang)
			contentLines = nil
			state = stateInBlock

		case stateInBlock:
			stripped, closingIndent := stripUpTo3Spaces(line)

			if closingIndent <= 3 && len(stripped) > 0 && stripped[0] == fenceChar {
				count := countLeadingChar(stripped, fenceChar)
				if count >= fenceLen && isBlankOrEmpty(stripped[count:]) {
					blocks = append(blocks, Block{
						Language:  language,
						Content:   strings.Join(contentLines, "\n"),
						StartLine: blockStartLine,
						EndLine:   lineNum,
						FenceChar: fenceChar,
						Index:     len(blocks),
					})
					state = stateNormal
					continue
				}
			}

			contentLines = append(contentLines, line)
		}
	}

	// An unterminated trailing fence (state still stateInBlock at EOF) is
	// excluded per spec.md §8 "Unterminated final fence".
	return blocks
}

// extractTypst parses Typst raw blocks. Typst fences are backtick-only
// (no tilde variant) but otherwise follow the same length-matching and
// first-token tag rule per spec.md §4.2 and §9's Open Question.
func extractTypst(content string) []Block {
	lines := strings.Split(content, "\n")
	state := stateNormal

	var blocks []Block
	var fenceLen int
	var blockStartLine int
	var language string
	var contentLines []string

	for lineNum, line := range lines {
		switch state {
		case stateNormal:
			trimmed := strings.TrimLeft(line, " ")
			indent := len(line) - len(trimmed)
			if indent != 0 {
				continue
			}

			ch, count := scanFenceChars(line)
			if ch != '`' || count < 3 {
				continue
			}

			infoString := strings.TrimSpace(line[count:])
			language = strings.ToLower(firstToken(infoString)) // may be "" (no tag)

			fenceLen = count
			blockStartLine = lineNum + 1
			contentLines = nil
			state = stateInBlock

		case stateInBlock:
			if len(line) > 0 && line[0] == '`' {
				count := countLeadingChar(line, '`')
				if count >= fenceLen && isBlankOrEmpty(line[count:]) {
					blocks = append(blocks, Block{
						Language:  language,
						Content:   strings.Join(contentLines, "\n"),
						StartLine: blockStartLine,
						EndLine:   lineNum,
						FenceChar: '`',
						Index:     len(blocks),
					})
					state = stateNormal
					continue
				}
			}
			contentLines = append(contentLines, line)
		}
	}

	return blocks
}

// firstToken returns the first whitespace-separated token of s, or "" if s
// is empty/all whitespace.
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func scanFenceChars(line string) (byte, int) {
	if len(line) == 0 {
		return 0, 0
	}
	ch := line[0]
	if ch != '`' && ch != '~' {
		return 0, 0
	}
	count := 0
	for count < len(line) && line[count] == ch {
		count++
	}
	return ch, count
}

func stripUpTo3Spaces(line string) (string, int) {
	indent := 0
	for indent < 3 && indent < len(line) && line[indent] == ' ' {
		indent++
	}
	return line[indent:], indent
}

func countLeadingChar(s string, ch byte) int {
	count := 0
	for count < len(s) && s[count] == ch {
		count++
	}
	return count
}

func isBlankOrEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}
