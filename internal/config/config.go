// Package config implements the Config Resolver (spec.md §4.7, §6):
// resolving a language tag to a child server command and options from a
// JSONC key/value table.
//
// Parsing follows simon-lentz/yammm's adapter/json package: input is
// preprocessed with tidwall/jsonc before being handed to encoding/json, so
// the table may carry comments and trailing commas the way editor
// settings files conventionally do.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/tidwall/jsonc"
)

// Entry is one language's configuration (spec.md §6 table).
type Entry struct {
	Command               string            `json:"command"`
	Args                  []string          `json:"args,omitempty"`
	Env                   map[string]string `json:"env,omitempty"`
	InitializationOptions json.RawMessage   `json:"initialization_options,omitempty"`
	Settings              json.RawMessage   `json:"settings,omitempty"`
	FileExtension         string            `json:"file_extension,omitempty"`
}

// ErrNoServerConfigured is returned by Resolve when the language has no
// table entry (spec.md §7 NoServerConfigured). The router treats this as
// "silently don't forward", never a JSON-RPC error to the editor.
var ErrNoServerConfigured = errors.New("no server configured for language")

// ConfigError wraps a startup configuration failure (spec.md §7
// ConfigError: "exit 1 with diagnostic to stderr").
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Table is the parsed, language-keyed configuration table.
type Table map[string]Entry

// Load reads and parses a JSONC configuration file at path into a Table.
// An entry missing `command` is a ConfigError. An Entry does not record its
// own language tag; callers already have it as the map key.
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return Parse(data, path)
}

// Parse parses JSONC-encoded configuration bytes into a Table. path is
// used only for error messages.
func Parse(data []byte, path string) (Table, error) {
	processed := jsonc.ToJSON(data)

	var table Table
	if err := json.Unmarshal(processed, &table); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("invalid JSON: %w", err)}
	}

	for lang, entry := range table {
		if entry.Command == "" {
			return nil, &ConfigError{Path: path, Err: fmt.Errorf("language %q: missing required \"command\"", lang)}
		}
	}

	return table, nil
}

// Resolver resolves language tags to child-server Entries and supports
// hot-reload of its backing Table (SPEC_FULL.md §3.7).
type Resolver struct {
	mu    sync.RWMutex
	table Table
}

// NewResolver creates a Resolver backed by the given Table.
func NewResolver(table Table) *Resolver {
	if table == nil {
		table = Table{}
	}
	return &Resolver{table: table}
}

// Resolve returns the Entry configured for language, or
// ErrNoServerConfigured if none exists.
func (r *Resolver) Resolve(language string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.table[language]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNoServerConfigured, language)
	}
	return entry, nil
}

// Languages returns the sorted set of configured language tags, used by
// the CLI's `--languages` (spec.md §6) and by Session's
// completion-trigger-character union (spec.md §4.8).
func (r *Resolver) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]string, 0, len(r.table))
	for lang := range r.table {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Replace atomically swaps in a new Table, used by the fsnotify-backed
// reload path (watch.go).
func (r *Resolver) Replace(table Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table = table
}
