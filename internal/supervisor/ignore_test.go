package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiltererWithoutIgnoreFilesStillIgnoresTargetDir(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFilterer(dir, nil, false)
	require.NoError(t, err)

	assert.True(t, f.Ignores(filepath.Join(dir, "target", "debug", "out")))
	assert.False(t, f.Ignores(filepath.Join(dir, "src", "main.go")))
}

func TestFiltererIgnoreChangesIgnoresEverything(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFilterer(dir, nil, true)
	require.NoError(t, err)

	assert.True(t, f.Ignores(filepath.Join(dir, "src", "main.go")))
}

func TestFiltererComposesMultipleIgnoreFiles(t *testing.T) {
	dir := t.TempDir()
	fooDir := filepath.Join(dir, "foo")
	require.NoError(t, os.MkdirAll(fooDir, 0o755))

	ignoreFile := filepath.Join(fooDir, ".lambdaignore")
	require.NoError(t, os.WriteFile(ignoreFile, []byte("*\n"), 0o644))

	f, err := NewFilterer(dir, []string{ignoreFile}, false)
	require.NoError(t, err)
	assert.Len(t, f.filters, 2)

	assert.True(t, f.Ignores(filepath.Join(dir, "target", "debug", "out")))
	assert.True(t, f.Ignores(filepath.Join(fooDir, "main.go")))
	assert.False(t, f.Ignores(filepath.Join(dir, "src", "main.go")))
}

func TestFiltererIgnoreFileScopedOutsideItsOwnDirectoryDoesNotApply(t *testing.T) {
	dir := t.TempDir()
	scopedDir := filepath.Join(dir, "scoped")
	otherDir := filepath.Join(dir, "other")
	require.NoError(t, os.MkdirAll(scopedDir, 0o755))
	require.NoError(t, os.MkdirAll(otherDir, 0o755))

	ignoreFile := filepath.Join(scopedDir, ".lambdaignore")
	require.NoError(t, os.WriteFile(ignoreFile, []byte("*\n"), 0o644))

	f, err := NewFilterer(dir, []string{ignoreFile}, false)
	require.NoError(t, err)

	assert.True(t, f.Ignores(filepath.Join(scopedDir, "main.go")))
	assert.False(t, f.Ignores(filepath.Join(otherDir, "main.go")))
}
