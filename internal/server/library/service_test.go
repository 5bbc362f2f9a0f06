package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/openshelf/internal/manifest"
)

func newTestService(t *testing.T) (*LibraryService, string) {
	t.Helper()
	root := t.TempDir()
	svc, err := NewLibraryService(root, openTestDB(t))
	require.NoError(t, err)
	return svc, root
}

func writeLibraryFile(t *testing.T, root, libraryID, relPath, content string) {
	t.Helper()
	abs := filepath.Join(root, libraryID, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestServiceRescanAll(t *testing.T) {
	svc, root := newTestService(t)
	writeLibraryFile(t, root, "alpha", "a.dat", "aaa")
	writeLibraryFile(t, root, "beta", "sub/b.dat", "bbb")

	digests, err := svc.RescanAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, digests, 2)
	assert.NotEmpty(t, digests["alpha"])
	assert.NotEmpty(t, digests["beta"])

	records, err := svc.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alpha", records[0].ID)
}

func TestServiceRescanAllPrunesDeletedLibrary(t *testing.T) {
	svc, root := newTestService(t)
	writeLibraryFile(t, root, "doomed", "a.dat", "aaa")

	_, err := svc.RescanAll(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "doomed")))
	_, err = svc.RescanAll(context.Background())
	require.NoError(t, err)

	records, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, records)
	_, err = svc.Digest("doomed")
	assert.ErrorIs(t, err, ErrLibraryNotFound)
}

func TestServiceRescanUnknownLibrary(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Rescan(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrLibraryNotFound)
}

func TestServiceDigestChangesWithTree(t *testing.T) {
	svc, root := newTestService(t)
	writeLibraryFile(t, root, "lib1", "a.dat", "v1")

	first, err := svc.Rescan(context.Background(), "lib1")
	require.NoError(t, err)

	writeLibraryFile(t, root, "lib1", "a.dat", "v2")
	second, err := svc.Rescan(context.Background(), "lib1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	digest, err := svc.Digest("lib1")
	require.NoError(t, err)
	assert.Equal(t, second, digest)
}

func TestServiceManifestRawDecodes(t *testing.T) {
	svc, root := newTestService(t)
	writeLibraryFile(t, root, "lib1", "a.dat", "payload")
	_, err := svc.Rescan(context.Background(), "lib1")
	require.NoError(t, err)

	data, err := svc.ManifestRaw("lib1")
	require.NoError(t, err)

	m, err := manifest.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "lib1", m.LibraryID)
	require.Equal(t, 1, m.FileCount())
	assert.Equal(t, "a.dat", m.Files[0].Path)
}

func TestServiceFilePath(t *testing.T) {
	svc, root := newTestService(t)
	writeLibraryFile(t, root, "lib1", "sub/a.dat", "data")
	_, err := svc.Rescan(context.Background(), "lib1")
	require.NoError(t, err)

	abs, err := svc.FilePath("lib1", "sub/a.dat")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "lib1", "sub", "a.dat"), abs)

	// traversal is rejected before any disk access
	_, err = svc.FilePath("lib1", "../secrets")
	var pathErr *manifest.PathValidationError
	assert.ErrorAs(t, err, &pathErr)

	// files outside the manifest are unreachable even if they exist
	writeLibraryFile(t, root, "lib1", "unscanned.dat", "junk")
	_, err = svc.FilePath("lib1", "unscanned.dat")
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = svc.FilePath("ghost", "sub/a.dat")
	assert.ErrorIs(t, err, ErrLibraryNotFound)
}

func TestServiceExcludesJunkFromManifest(t *testing.T) {
	svc, root := newTestService(t)
	writeLibraryFile(t, root, "lib1", "a.dat", "keep")
	writeLibraryFile(t, root, "lib1", ".DS_Store", "junk")
	writeLibraryFile(t, root, "lib1", "cache.tmp", "junk")

	_, err := svc.Rescan(context.Background(), "lib1")
	require.NoError(t, err)

	data, err := svc.ManifestRaw("lib1")
	require.NoError(t, err)
	m, err := manifest.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 1, m.FileCount())
}

func TestWatcherLibraryOf(t *testing.T) {
	root := t.TempDir()
	w := NewTreeWatcher(root, nil)

	assert.Equal(t, "lib1", w.libraryOf(filepath.Join(root, "lib1", "sub", "file.dat")))
	assert.Equal(t, "lib1", w.libraryOf(filepath.Join(root, "lib1")))
	assert.Equal(t, "", w.libraryOf(root))
	assert.Equal(t, "", w.libraryOf(filepath.Join(root, ".hidden", "x")))
	assert.Equal(t, "", w.libraryOf(filepath.Join(filepath.Dir(root), "outside")))
}
