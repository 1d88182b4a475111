package child

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexanderBrevig/literate-lsp/internal/config"
)

func TestManagerGetOrStartStartsOnce(t *testing.T) {
	resolver := config.NewResolver(config.Table{
		"forth": {Command: "cat"},
	})
	m := NewManager(resolver, testLogger())

	a, err := m.GetOrStart("forth")
	require.NoError(t, err)

	b, err := m.GetOrStart("forth")
	require.NoError(t, err)

	assert.Same(t, a, b)
}

func TestManagerGetOrStartUnconfiguredLanguageIsErrNoServerConfigured(t *testing.T) {
	resolver := config.NewResolver(nil)
	m := NewManager(resolver, testLogger())

	_, err := m.GetOrStart("cobol")
	assert.True(t, errors.Is(err, config.ErrNoServerConfigured))
}

func TestManagerGetReturnsFalseBeforeStart(t *testing.T) {
	resolver := config.NewResolver(config.Table{"forth": {Command: "cat"}})
	m := NewManager(resolver, testLogger())

	_, ok := m.Get("forth")
	assert.False(t, ok)

	_, err := m.GetOrStart("forth")
	require.NoError(t, err)

	_, ok = m.Get("forth")
	assert.True(t, ok)
}

func TestManagerAllListsStartedChildren(t *testing.T) {
	resolver := config.NewResolver(config.Table{
		"forth": {Command: "cat"},
		"rust":  {Command: "cat"},
	})
	m := NewManager(resolver, testLogger())

	_, err := m.GetOrStart("forth")
	require.NoError(t, err)
	_, err = m.GetOrStart("rust")
	require.NoError(t, err)

	assert.Len(t, m.All(), 2)
}
