package promptcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_ReadsFileContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system_prompt.md")
	require.NoError(t, os.WriteFile(path, []byte("be helpful"), 0o644))

	c := New(path, "default")
	assert.Equal(t, "be helpful", c.Get())
}

func TestCache_FallsBackWhenAbsent(t *testing.T) {
	c := New("/nonexistent/system_prompt.md", "default prompt")
	assert.Equal(t, "default prompt", c.Get())
}

func TestCache_ReReadsOnModTimeChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system_prompt.md")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	c := New(path, "default")
	assert.Equal(t, "v1", c.Get())

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	assert.Equal(t, "v2", c.Get())
}

func TestCache_DoesNotReReadWhenUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system_prompt.md")
	require.NoError(t, os.WriteFile(path, []byte("stable"), 0o644))

	c := New(path, "default")
	first := c.Get()
	second := c.Get()
	assert.Equal(t, first, second)
	assert.Equal(t, "stable", second)
}
