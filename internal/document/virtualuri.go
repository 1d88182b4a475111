package document

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// tmpDirOnce lazily computes a per-process temp directory for materialized
// virtual documents, namespaced with a google/uuid nonce (SPEC_FULL.md §2,
// §3.3) so two literate-lsp instances sharing a system temp dir never
// collide on the same virtual file name.
var (
	tmpDirOnce sync.Once
	tmpDir     string
)

func sessionTmpDir() string {
	tmpDirOnce.Do(func() {
		tmpDir = filepath.Join(os.TempDir(), "literate-lsp-"+uuid.NewString())
	})
	return tmpDir
}

// DefaultExtension maps a language tag to a conventional file extension,
// used when no `file_extension` override is configured (spec.md §6).
func DefaultExtension(language string) string {
	if ext, ok := defaultExtensions[language]; ok {
		return ext
	}
	return "txt"
}

var defaultExtensions = map[string]string{
	"rust":       "rs",
	"go":         "go",
	"golang":     "go",
	"typescript": "ts",
	"javascript": "js",
	"python":     "py",
	"forth":      "fth",
	"c":          "c",
	"cpp":        "cpp",
	"c++":        "cpp",
	"java":       "java",
	"ruby":       "rb",
	"lua":        "lua",
	"zig":        "zig",
	"sh":         "sh",
	"bash":       "sh",
}

// SynthesizeURI builds the synthetic file:// URI for a (host URI,
// language) virtual document per spec.md §6:
// file:///<tmpdir>/virtual-<hash>.<ext>, where hash is a stable hash of
// the host URI and language.
//
// hash/fnv is used rather than a third-party hashing library: this is a
// short, non-cryptographic, stable-identifier hash, the same kind of job
// the standard library's hash/fnv and hash/maphash exist for, and no repo
// in the retrieval pack reaches for a hashing library for this purpose
// (see DESIGN.md).
func SynthesizeURI(hostURI, language, ext string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(hostURI))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(language))
	sum := h.Sum64()

	name := fmt.Sprintf("virtual-%016x.%s", sum, ext)
	return "file://" + filepath.ToSlash(filepath.Join(sessionTmpDir(), name))
}

// VirtualPath returns the filesystem path a virtual URI produced by
// SynthesizeURI would materialize to, for use by the optional on-disk
// mirror (spec.md §6 "Virtual files MAY be materialized on disk").
func VirtualPath(virtualURI string) (string, error) {
	if len(virtualURI) < len("file://") || virtualURI[:7] != "file://" {
		return "", fmt.Errorf("not a file:// URI: %s", virtualURI)
	}
	return virtualURI[7:], nil
}
