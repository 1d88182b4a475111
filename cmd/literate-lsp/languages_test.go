package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "literate-lsp.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunLanguagesListsSortedTags(t *testing.T) {
	configPath = writeTestConfig(t, `{
		"python": {"command": "pylsp"},
		"go": {"command": "gopls"}
	}`)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	require.NoError(t, runLanguages(cmd, nil))
	assert.Equal(t, "go\npython\n", out.String())
}

func TestRunLanguagesWithMissingConfigIsConfigError(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "missing.jsonc")

	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})

	err := runLanguages(cmd, nil)
	require.Error(t, err)
	ec, ok := err.(exitCoder)
	require.True(t, ok)
	assert.Equal(t, 1, ec.ExitCode())
}

func TestRunLanguagesWithEmptyTablePrintsNothing(t *testing.T) {
	configPath = writeTestConfig(t, `{}`)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	require.NoError(t, runLanguages(cmd, nil))
	assert.Empty(t, out.String())
}
