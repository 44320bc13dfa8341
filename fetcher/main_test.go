package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveFeedFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"public_fr.jsonl", "tech.jsonl", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{"url":"http://a"}`), 0o644))
	}

	path, err := resolveFeedFile(dir, "public_fr.jsonl")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "public_fr.jsonl"), path)

	_, err = resolveFeedFile(dir, "README.md")
	require.ErrorContains(t, err, "choose from: public_fr.jsonl, tech.jsonl")

	_, err = resolveFeedFile(filepath.Join(dir, "missing"), "public_fr.jsonl")
	require.Error(t, err)
}
