package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePairs(t *testing.T) {
	got, err := parsePairs([]string{"category=a", "lang=go", "category=b", "category=c", "expr=x=y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"category": []string{"a", "b", "c"},
		"lang":     "go",
		"expr":     "x=y",
	}, got)

	got, err = parsePairs(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parsePairs([]string{"novalue"})
	assert.Error(t, err)
	_, err = parsePairs([]string{"=x"})
	assert.Error(t, err)
}

func TestHasValidExtension(t *testing.T) {
	exts := []string{".md", ".txt"}
	assert.True(t, hasValidExtension("notes/README.MD", exts))
	assert.True(t, hasValidExtension("a.txt", exts))
	assert.False(t, hasValidExtension("main.go", exts))
}

func TestSelectChunker(t *testing.T) {
	for _, name := range []string{"", "paragraph", "window", "lines"} {
		chunker, err := selectChunker(name, 100, 10, 5)
		require.NoError(t, err, name)
		assert.NotNil(t, chunker)
	}
	_, err := selectChunker("sentences", 100, 10, 5)
	assert.Error(t, err)
}
