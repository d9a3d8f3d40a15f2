package markdownify

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveThenRead(t *testing.T) {
	store := NewStore(t.TempDir(), "")

	markdown := "# Title\n\nSome *text* with unicode: ☃\n"
	path, err := store.Save(OpPDF, markdown)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "pdf-"))
	assert.Equal(t, ".md", filepath.Ext(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	result, err := store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, markdown, result.Text)
	assert.Equal(t, path, result.Path)
}

func TestStore_Read(t *testing.T) {
	share := t.TempDir()
	outside := t.TempDir()

	inShare := filepath.Join(share, "notes.markdown")
	require.NoError(t, os.WriteFile(inShare, []byte("hello"), 0600))
	outsideFile := filepath.Join(outside, "notes.md")
	require.NoError(t, os.WriteFile(outsideFile, []byte("hello"), 0600))
	textFile := filepath.Join(share, "notes.txt")
	require.NoError(t, os.WriteFile(textFile, []byte("hello"), 0600))
	badUTF8 := filepath.Join(share, "bad.md")
	require.NoError(t, os.WriteFile(badUTF8, []byte{0xff, 0xfe, 0xfd}, 0600))

	store := NewStore(t.TempDir(), share)

	t.Run("inside share dir", func(t *testing.T) {
		result, err := store.Read(inShare)
		require.NoError(t, err)
		assert.Equal(t, "hello", result.Text)
	})

	t.Run("uppercase extension", func(t *testing.T) {
		upper := filepath.Join(share, "UPPER.MD")
		require.NoError(t, os.WriteFile(upper, []byte("x"), 0600))
		_, err := store.Read(upper)
		assert.NoError(t, err)
	})

	t.Run("outside share dir", func(t *testing.T) {
		_, err := store.Read(outsideFile)
		var outsideErr *OutsideShareDirError
		require.ErrorAs(t, err, &outsideErr)
		assert.Equal(t, "only files in "+share+" are allowed", err.Error())
	})

	t.Run("traversal out of share dir", func(t *testing.T) {
		_, err := store.Read(filepath.Join(share, "..", filepath.Base(outside), "notes.md"))
		var outsideErr *OutsideShareDirError
		assert.ErrorAs(t, err, &outsideErr)
	})

	t.Run("not markdown", func(t *testing.T) {
		_, err := store.Read(textFile)
		var notMarkdown *NotMarkdownError
		assert.ErrorAs(t, err, &notMarkdown)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := store.Read(filepath.Join(share, "missing.md"))
		var notFound *SourceNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("invalid utf8", func(t *testing.T) {
		_, err := store.Read(badUTF8)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "UTF-8")
	})
}

func TestStore_ReadUnrestricted(t *testing.T) {
	file := filepath.Join(t.TempDir(), "free.md")
	require.NoError(t, os.WriteFile(file, []byte("free"), 0600))

	result, err := NewStore(t.TempDir(), "").Read(file)
	require.NoError(t, err)
	assert.Equal(t, "free", result.Text)
}
