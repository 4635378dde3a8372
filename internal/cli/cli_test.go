package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMeta(t *testing.T) {
	meta, err := parseMeta([]string{"vendor=acme", " year = 2024", "note=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"vendor": "acme",
		"year":   "2024",
		"note":   "a=b",
		"empty":  "",
	}, meta)

	meta, err = parseMeta(nil)
	require.NoError(t, err)
	assert.Nil(t, meta)

	for _, bad := range []string{"novalue", "=x"} {
		_, err := parseMeta([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KB", formatBytes(1024))
	assert.Equal(t, "1.5 MB", formatBytes(3<<19))
	assert.Equal(t, "50.0 MB", formatBytes(50<<20))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "unknown", formatTime(time.Time{}))
	assert.Contains(t, formatTime(time.Now()), "today at ")
	assert.Equal(t, "Mar 4, 2001 at 05:06", formatTime(time.Date(2001, 3, 4, 5, 6, 0, 0, time.UTC)))
}

func TestTruncatePath(t *testing.T) {
	assert.Equal(t, "short.pdf", truncatePath("short.pdf", 20))
	assert.Equal(t, ".../papers/report.pdf", truncatePath("/home/user/papers/report.pdf", 21))
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "(not set)", maskKey(""))
	assert.Equal(t, "****", maskKey("abc"))
	assert.Equal(t, "****wxyz", maskKey("sk-abcdefwxyz"))
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"ingest", "context", "ask", "list", "delete", "status", "config", "watch", "mcp", "version"} {
		assert.Contains(t, names, want)
	}

	assert.NotNil(t, contextCmd.Flags().ShorthandLookup("k"))
	assert.NotNil(t, askCmd.Flags().Lookup("no-context"))
	assert.NotNil(t, deleteCmd.Flags().Lookup("yes"))
	assert.NotNil(t, deleteCmd.Flags().Lookup("drop"))
	assert.NotNil(t, askCmd.Flags().Lookup("role"))
	assert.NotNil(t, ingestCmd.Flags().Lookup("meta"))
}
