package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile_CreatesParentsAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pxelinux.cfg", "01-aa-bb-cc-dd-ee-ff")

	require.NoError(t, WriteFile(path, []byte("first"), 0644))
	require.NoError(t, WriteFile(path, []byte("second"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestCopyFile_ReturnsDigest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.img")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0600))

	dst := filepath.Join(dir, "out", "dst.img")
	sum, err := CopyFile(src, dst, 0644)
	require.NoError(t, err)
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)

	hash, size, err := HashFile(dst)
	require.NoError(t, err)
	assert.Equal(t, sum, hash)
	assert.Equal(t, int64(5), size)
}

func TestCopyFile_MissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := CopyFile(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"), 0644)
	require.Error(t, err)

	exists, err := Exists(filepath.Join(dir, "dst"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	removed, err := RemoveIfExists(path)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = RemoveIfExists(path)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPublishFile_NeverReplaces(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.img")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0600))
	const helloSHA = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	dst := filepath.Join(dir, "images", "base.img")
	require.NoError(t, PublishFile(src, dst, 0644, helloSHA))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	other := filepath.Join(dir, "other.img")
	require.NoError(t, os.WriteFile(other, []byte("other"), 0600))
	sum, _, err := HashFile(other)
	require.NoError(t, err)

	err = PublishFile(other, dst, 0644, sum)
	assert.ErrorIs(t, err, os.ErrExist)

	data, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data), "existing file kept")

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestPublishFile_DigestMismatch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.img")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0600))

	dst := filepath.Join(dir, "out", "base.img")
	err := PublishFile(src, dst, 0644, "0000")
	assert.ErrorIs(t, err, ErrDigestMismatch)

	exists, err := Exists(dst)
	require.NoError(t, err)
	assert.False(t, exists)

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
