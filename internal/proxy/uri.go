package proxy

import (
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/AlexanderBrevig/literate-lsp/internal/block"
)

// URIToPath converts a file:// URI to a filesystem path, carried over from
// the teacher's lsp/workspace.go verbatim: the byte-level URI/path
// conversion rules don't change across domains.
func URIToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse URI %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("not a file URI: %s", uri)
	}

	path := u.Path
	if runtime.GOOS == "windows" {
		if len(path) >= 3 && path[0] == '/' && isWindowsDriveLetter(path[1]) && path[2] == ':' {
			path = path[1:]
		}
		path = filepath.FromSlash(path)
	}
	return path, nil
}

func isWindowsDriveLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// dialectForURI reports which literate-document grammar applies to uri,
// and false if the URI's extension isn't one literate-lsp recognizes
// (spec.md §1: Markdown, Typst).
func dialectForURI(uri string) (block.Dialect, bool) {
	path, err := URIToPath(uri)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return block.DialectMarkdown, true
	case ".typ":
		return block.DialectTypst, true
	default:
		return 0, false
	}
}
