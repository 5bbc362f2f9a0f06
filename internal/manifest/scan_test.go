package manifest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestScanEmptyTree(t *testing.T) {
	s := NewScanner("lib", t.TempDir())
	m, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, m.FileCount())
	assert.NotEmpty(t, m.Hash, "empty tree still has a digest")
}

func TestScanFingerprints(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "game.exe", "binary")
	writeFile(t, root, "data/pak0.pak", "assets")

	s := NewScanner("lib", root)
	m, err := s.Scan(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, m.FileCount())
	assert.Equal(t, "data/pak0.pak", m.Files[0].Path)
	assert.Equal(t, "game.exe", m.Files[1].Path)
	assert.Equal(t, int64(6), m.Files[1].Size)

	// hash of "binary"
	assert.Len(t, m.Files[1].Hash, 64)
}

func TestScanDeterministicDigest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.dat", "aaa")
	writeFile(t, root, "b/c.dat", "ccc")

	m1, err := NewScanner("lib", root).Scan(context.Background())
	require.NoError(t, err)
	m2, err := NewScanner("lib", root).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, m1.Hash, m2.Hash)
}

func TestScanCacheReuseAndForceRehash(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "a.dat", "original")

	s := NewScanner("lib", root)
	m1, err := s.Scan(context.Background())
	require.NoError(t, err)

	// rewrite content but restore size and mtime so the cache cannot tell
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("0riginal"), 0o644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	m2, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, m1.Files[0].Hash, m2.Files[0].Hash, "unchanged size+mtime reuses cached hash")

	s.ForceRehash()
	m3, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, m1.Files[0].Hash, m3.Files[0].Hash, "force rehash must detect the corruption")
}

func TestScanDetectsSameSecondRewrite(t *testing.T) {
	// fingerprints carry second-truncated mtimes, but the cache must compare
	// at full precision: a same-size rewrite landing in the same second is
	// still a change
	root := t.TempDir()
	path := writeFile(t, root, "a.dat", "v1")
	early := time.Unix(1700000000, 100*int64(time.Millisecond))
	require.NoError(t, os.Chtimes(path, early, early))

	s := NewScanner("lib", root)
	m1, err := s.Scan(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	late := time.Unix(1700000000, 900*int64(time.Millisecond))
	require.NoError(t, os.Chtimes(path, late, late))

	m2, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, m1.Files[0].Hash, m2.Files[0].Hash, "same-second rewrite must be re-hashed")
	assert.NotEqual(t, m1.Hash, m2.Hash)
	assert.Equal(t, m1.Files[0].ModTime, m2.Files[0].ModTime, "recorded mtime stays second-truncated")
}

func TestScanDetectsModification(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "a.dat", "v1")

	s := NewScanner("lib", root)
	m1, err := s.Scan(context.Background())
	require.NoError(t, err)

	// push mtime forward so the cache misses
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte("v2 longer"), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))

	m2, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, m1.Files[0].Hash, m2.Files[0].Hash)
	assert.NotEqual(t, m1.Hash, m2.Hash)
}

func TestScanExcludesJunkAndStaging(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.dat", "x")
	writeFile(t, root, ".DS_Store", "junk")
	writeFile(t, root, "sub/Thumbs.db", "junk")
	writeFile(t, root, "cache/partial.tmp", "junk")
	writeFile(t, root, ".openshelf/staging/abc.partial", "junk")

	m, err := NewScanner("lib", root).Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, m.FileCount())
	assert.Equal(t, "keep.dat", m.Files[0].Path)
}

func TestScanSkipsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	target := writeFile(t, root, "real.dat", "x")
	require.NoError(t, os.Symlink(target, filepath.Join(root, "link.dat")))

	m, err := NewScanner("lib", root).Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, m.FileCount())
	assert.Equal(t, "real.dat", m.Files[0].Path)
}

func TestScanMissingRootFails(t *testing.T) {
	s := NewScanner("lib", filepath.Join(t.TempDir(), "does-not-exist"))
	m, err := s.Scan(context.Background())
	assert.Nil(t, m)

	var se *ScanError
	assert.ErrorAs(t, err, &se)
}

func TestScanCancellation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.dat", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScanner("lib", root).Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
