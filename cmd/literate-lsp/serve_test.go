package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AlexanderBrevig/literate-lsp/internal/config"
)

func TestExtensionForUsesConfiguredExtension(t *testing.T) {
	resolver := config.NewResolver(config.Table{
		"python": {Command: "pylsp", FileExtension: "py"},
	})
	assert.Equal(t, "py", extensionFor(resolver)("python"))
}

func TestExtensionForFallsBackToDefaultExtension(t *testing.T) {
	resolver := config.NewResolver(config.Table{
		"go": {Command: "gopls"},
	})
	assert.Equal(t, "go", extensionFor(resolver)("go"))
}

func TestExtensionForUnconfiguredLanguageFallsBackToDefaultExtension(t *testing.T) {
	resolver := config.NewResolver(config.Table{})
	assert.Equal(t, "rs", extensionFor(resolver)("rust"))
}
