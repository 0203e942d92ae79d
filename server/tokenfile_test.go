package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// §8 scenario 6.
func TestTokenFileLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.conf")
	require.NoError(t, os.WriteFile(path, []byte("tok1: host.example:5901\n"), 0o644))

	r, err := NewTokenFileResolver(path, NewLogger(nil))
	require.NoError(t, err)

	target, ok := r.Lookup("tok1")
	require.True(t, ok)
	assert.Equal(t, TCPTarget("host.example", 5901), target)

	_, ok = r.Lookup("other")
	assert.False(t, ok)
}

func TestTokenFileIgnoresCommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.conf")
	content := "# a comment\n\ntok1: host.example:5901\n  # indented comment\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r, err := NewTokenFileResolver(path, NewLogger(nil))
	require.NoError(t, err)
	_, ok := r.Lookup("tok1")
	assert.True(t, ok)
}

func TestTokenFileDirectoryUnion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.conf"), []byte("tok1: h1:1001\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.conf"), []byte("tok2: h2:1002\n"), 0o644))

	r, err := NewTokenFileResolver(dir, NewLogger(nil))
	require.NoError(t, err)

	_, ok := r.Lookup("tok1")
	assert.True(t, ok)
	_, ok = r.Lookup("tok2")
	assert.True(t, ok)
}

func TestTokenFileSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.conf")
	content := "malformed-line-no-colon\ntok1: host.example:5901\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r, err := NewTokenFileResolver(path, NewLogger(nil))
	require.NoError(t, err)
	_, ok := r.Lookup("tok1")
	assert.True(t, ok)
}
