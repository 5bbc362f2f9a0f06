package sync

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/openshelf/internal/manifest"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, j.Open())
	t.Cleanup(func() { j.Close() })
	return j
}

func journalFp(path string, size int64, hash string) *manifest.FileFingerprint {
	return &manifest.FileFingerprint{
		Path:    path,
		Size:    size,
		ModTime: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Hash:    hash,
	}
}

func TestJournalFileRoundTrip(t *testing.T) {
	j := openTestJournal(t)

	fps := []*manifest.FileFingerprint{
		journalFp("b/b.dat", 20, "hash-b"),
		journalFp("a.dat", 10, "hash-a"),
	}
	for _, fp := range fps {
		require.NoError(t, j.SetFile("lib1", fp))
	}

	count, err := j.FileCount("lib1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// rebuilding the manifest must reproduce the digest of a direct seal
	want := manifest.New("lib1")
	want.Files = append(want.Files, fps...)
	want.Seal()

	got, err := j.Manifest("lib1")
	require.NoError(t, err)
	assert.Equal(t, want.Hash, got.Hash)
	assert.Equal(t, int64(30), got.TotalSize)

	require.NoError(t, j.DeleteFile("lib1", "a.dat"))
	count, err = j.FileCount("lib1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestJournalFileUpsert(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.SetFile("lib1", journalFp("a.dat", 10, "old")))
	require.NoError(t, j.SetFile("lib1", journalFp("a.dat", 12, "new")))

	m, err := j.Manifest("lib1")
	require.NoError(t, err)
	require.Equal(t, 1, m.FileCount())
	assert.Equal(t, "new", m.Files[0].Hash)
	assert.Equal(t, int64(12), m.Files[0].Size)
}

func TestJournalLibrariesAreIsolated(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.SetFile("lib1", journalFp("a.dat", 10, "h1")))
	require.NoError(t, j.SetFile("lib2", journalFp("a.dat", 99, "h2")))

	m, err := j.Manifest("lib1")
	require.NoError(t, err)
	require.Equal(t, 1, m.FileCount())
	assert.Equal(t, "h1", m.Files[0].Hash)
}

func TestJournalDigest(t *testing.T) {
	j := openTestJournal(t)

	digest, err := j.Digest("lib1")
	require.NoError(t, err)
	assert.Empty(t, digest, "unknown library has no digest")

	require.NoError(t, j.SetDigest("lib1", "abc123"))
	digest, err = j.Digest("lib1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", digest)

	require.NoError(t, j.SetDigest("lib1", "def456"))
	digest, err = j.Digest("lib1")
	require.NoError(t, err)
	assert.Equal(t, "def456", digest)
}

func TestJournalCursorRoundTrip(t *testing.T) {
	j := openTestJournal(t)

	c, err := j.Cursor("lib1", "a.dat")
	require.NoError(t, err)
	assert.Nil(t, c)

	require.NoError(t, j.SetCursor(&ResumeCursor{
		LibraryID:    "lib1",
		Path:         "a.dat",
		TempName:     "cafe.partial",
		BytesWritten: 4096,
		ExpectedHash: "cafe",
		Attempts:     2,
	}))

	c, err = j.Cursor("lib1", "a.dat")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(4096), c.BytesWritten)
	assert.Equal(t, "cafe", c.ExpectedHash)
	assert.Equal(t, 2, c.Attempts)
	assert.NotEmpty(t, c.UpdatedAt)

	require.NoError(t, j.DeleteCursor("lib1", "a.dat"))
	c, err = j.Cursor("lib1", "a.dat")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestJournalOpenTwice(t *testing.T) {
	j := openTestJournal(t)
	assert.Error(t, j.Open())
}
