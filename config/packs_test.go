package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePackCatalog(t *testing.T) {
	data := []byte(`
[[pack]]
id = "small"
tokens = 20

[[pack]]
id = "forever"
tokens = 100
lifetime = true
monthly_tokens = 40
`)

	catalog, err := ParsePackCatalog(data)
	require.NoError(t, err)
	require.Len(t, catalog.Packs, 2)

	small, ok := catalog.Lookup("small")
	require.True(t, ok)
	assert.Equal(t, int64(20), small.Tokens)
	assert.False(t, small.Lifetime)

	forever, ok := catalog.Lookup("forever")
	require.True(t, ok)
	assert.True(t, forever.Lifetime)
	assert.Equal(t, int64(40), forever.MonthlyTokens)

	_, ok = catalog.Lookup("missing")
	assert.False(t, ok)
}

func TestParsePackCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing id", "[[pack]]\ntokens = 5\n"},
		{"duplicate id", "[[pack]]\nid = \"a\"\ntokens = 5\n[[pack]]\nid = \"a\"\ntokens = 6\n"},
		{"zero tokens", "[[pack]]\nid = \"a\"\ntokens = 0\n"},
		{"lifetime without refill", "[[pack]]\nid = \"a\"\ntokens = 5\nlifetime = true\n"},
		{"not toml", "this is = = not toml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePackCatalog([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadPackCatalog_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packs.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[pack]]\nid = \"file\"\ntokens = 9\n"), 0o600))

	catalog, err := LoadPackCatalog(path)
	require.NoError(t, err)

	p, ok := catalog.Lookup("file")
	require.True(t, ok)
	assert.Equal(t, int64(9), p.Tokens)
}

func TestLoadPackCatalog_DefaultWhenUnset(t *testing.T) {
	catalog, err := LoadPackCatalog("")
	require.NoError(t, err)

	p, ok := catalog.Lookup("lifetime")
	require.True(t, ok)
	assert.True(t, p.Lifetime)
}
