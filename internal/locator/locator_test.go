package locator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")

	l, err := OpenBolt(path)
	require.NoError(t, err)
	got, err := l.Fragment()
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, l.SetFragment("abc123"))
	require.NoError(t, l.Close())

	l, err = OpenBolt(path)
	require.NoError(t, err)
	defer l.Close()
	got, err = l.Fragment()
	require.NoError(t, err)
	assert.Equal(t, "abc123", got)

	require.NoError(t, l.SetFragment(""))
	got, err = l.Fragment()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryHistory(t *testing.T) {
	l := NewMemory("")
	require.NoError(t, l.SetFragment("abc"))
	require.NoError(t, l.SetFragment(""))
	got, _ := l.Fragment()
	assert.Empty(t, got)
	assert.Equal(t, []string{"abc", ""}, l.History())
}
