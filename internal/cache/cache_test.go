package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"new.lopezb.com/internal/bloom"
	"new.lopezb.com/internal/mmh3"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestHome(t *testing.T) {
	t.Setenv("HOME", "/home/someone")
	home, err := Home()
	require.NoError(t, err)
	assert.Equal(t, "/home/someone", home)
	assert.Equal(t, "/home/someone/.new", Dir(home))
}

func TestEnsureDir(t *testing.T) {
	t.Run("creates", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), ".new")
		require.NoError(t, EnsureDir(dir))

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, DirPerm, info.Mode().Perm())
	})

	t.Run("tightens permissions", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), ".new")
		require.NoError(t, os.Mkdir(dir, 0o755))
		require.NoError(t, os.Chmod(dir, 0o755))

		require.NoError(t, EnsureDir(dir))
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.Equal(t, DirPerm, info.Mode().Perm())
	})

	t.Run("rejects a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".new")
		writeFile(t, path, "not a dir")

		err := EnsureDir(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})
}

func TestPathFor(t *testing.T) {
	got := PathFor("/home/u/.new", "/var/log/words.txt")
	assert.Equal(t, "/home/u/.new/"+mmh3.HexDigest("/var/log/words.txt", 0), got)
	assert.Len(t, filepath.Base(got), 16)

	assert.Equal(t, got, PathFor("/home/u/.new", "/var/log/words.txt"))
	assert.NotEqual(t, got, PathFor("/home/u/.new", "/var/log/words.txt2"))
}

func TestCountLines(t *testing.T) {
	dir := t.TempDir()

	testCases := []struct {
		name    string
		content string
		want    uint64
	}{
		{"empty", "", DefaultInitialSize},
		{"no newline", "single line", DefaultInitialSize},
		{"three lines", "a\nb\nc\n", 3},
		{"unterminated tail", "a\nb\nc", 2},
		{"blank lines", "\n\n\n\n", 4},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tc.name, " ", "_"))
			writeFile(t, path, tc.content)

			got, err := CountLines(path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := CountLines(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExpectedFor(t *testing.T) {
	dir := t.TempDir()

	small := filepath.Join(dir, "small")
	writeFile(t, small, "a\nb\n")
	assert.False(t, IsLarge(small))
	assert.Equal(t, uint64(500), ExpectedFor(small, 500))

	// 20000 lines of 10 bytes is just under 200 KiB.
	var sb strings.Builder
	for i := 0; i < 20000; i++ {
		sb.WriteString("123456789\n")
	}
	large := filepath.Join(dir, "large")
	writeFile(t, large, sb.String())
	assert.True(t, IsLarge(large))
	assert.Equal(t, uint64(40000), ExpectedFor(large, 500))

	missing := filepath.Join(dir, "missing")
	assert.False(t, IsLarge(missing))
	assert.Equal(t, uint64(500), ExpectedFor(missing, 500))
}

func TestStaleAndStamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus")
	writeFile(t, path, "a\n")

	f, err := bloom.New(100, 0.01, 1)
	require.NoError(t, err)
	defer f.Release()

	assert.True(t, Stale(f, path), "unstamped filter must be stale")

	require.NoError(t, Stamp(f, path))
	assert.False(t, Stale(f, path))

	id, err := Stat(path)
	require.NoError(t, err)
	assert.Equal(t, id, f.Identity())
	assert.NotZero(t, id.Mtime)

	// Move the mtime forward; whole seconds are enough to notice.
	later := time.Now().Add(10 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))
	assert.True(t, Stale(f, path))

	require.NoError(t, Stamp(f, path))
	assert.False(t, Stale(f, path))

	require.NoError(t, os.Remove(path))
	assert.True(t, Stale(f, path), "missing corpus must be stale")
	assert.Error(t, Stamp(f, path))
}
