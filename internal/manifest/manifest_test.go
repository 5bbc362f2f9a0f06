package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(path, hash string, size int64) *FileFingerprint {
	return &FileFingerprint{
		Path:    path,
		Size:    size,
		ModTime: time.Unix(1700000000, 0).UTC(),
		Hash:    hash,
	}
}

func TestSealSortsAndHashes(t *testing.T) {
	m := New("half-life-3")
	m.Files = []*FileFingerprint{
		fp("maps/c1.bsp", "h3", 30),
		fp("hl3.exe", "h1", 10),
		fp("maps/a0.bsp", "h2", 20),
	}
	m.Seal()

	assert.Equal(t, "hl3.exe", m.Files[0].Path)
	assert.Equal(t, "maps/a0.bsp", m.Files[1].Path)
	assert.Equal(t, "maps/c1.bsp", m.Files[2].Path)
	assert.Equal(t, int64(60), m.TotalSize)
	assert.NotEmpty(t, m.Hash)
}

func TestHashOrderIndependent(t *testing.T) {
	a := New("lib")
	a.Files = []*FileFingerprint{fp("a.dat", "x", 1), fp("b.dat", "y", 2), fp("c.dat", "z", 3)}
	a.Seal()

	b := New("lib")
	b.Files = []*FileFingerprint{fp("c.dat", "z", 3), fp("a.dat", "x", 1), fp("b.dat", "y", 2)}
	b.Seal()

	assert.Equal(t, a.Hash, b.Hash)
}

func TestHashChangesWithAnyField(t *testing.T) {
	base := func() *Manifest {
		m := New("lib")
		m.Files = []*FileFingerprint{fp("a.dat", "x", 1)}
		m.Seal()
		return m
	}
	ref := base().Hash

	m := base()
	m.Files[0].Size = 2
	m.Seal()
	assert.NotEqual(t, ref, m.Hash, "size change must change digest")

	m = base()
	m.Files[0].Hash = "other"
	m.Seal()
	assert.NotEqual(t, ref, m.Hash, "content hash change must change digest")

	m = base()
	m.Files[0].ModTime = m.Files[0].ModTime.Add(time.Second)
	m.Seal()
	assert.NotEqual(t, ref, m.Hash, "mtime change must change digest")

	m = base()
	m.Files = append(m.Files, fp("b.dat", "y", 2))
	m.Seal()
	assert.NotEqual(t, ref, m.Hash, "added file must change digest")
}

func TestLookup(t *testing.T) {
	m := New("lib")
	m.Files = []*FileFingerprint{fp("b.dat", "y", 2), fp("a.dat", "x", 1)}
	m.Seal()

	assert.NotNil(t, m.Lookup("a.dat"))
	assert.Equal(t, "y", m.Lookup("b.dat").Hash)
	assert.Nil(t, m.Lookup("c.dat"))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := New("portal-2")
	m.Files = []*FileFingerprint{fp("bin/portal2.exe", "abc", 42)}
	m.Seal()

	data, err := m.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, m.Hash, got.Hash)
	assert.Equal(t, m.LibraryID, got.LibraryID)
	require.Len(t, got.Files, 1)
	assert.Equal(t, m.Files[0].Path, got.Files[0].Path)
}

func TestDecodeRejectsBadSchemaVersion(t *testing.T) {
	m := New("lib")
	m.SchemaVersion = 99
	data, err := m.Encode()
	require.NoError(t, err)

	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrSchemaVersion)
}

func TestDecodeRejectsTraversalPaths(t *testing.T) {
	m := New("lib")
	m.Files = []*FileFingerprint{fp("../../etc/passwd", "x", 1)}
	data, err := m.Encode()
	require.NoError(t, err)

	_, err = Decode(data)
	var pve *PathValidationError
	assert.ErrorAs(t, err, &pve)
}

func TestValidateRelPath(t *testing.T) {
	valid := []string{"a.dat", "dir/a.dat", "deep/nested/dir/file.bin", "with space.txt"}
	for _, p := range valid {
		assert.NoError(t, ValidateRelPath(p), p)
	}

	invalid := []string{
		"",
		".",
		"..",
		"../a.dat",
		"dir/../../a.dat",
		"/etc/passwd",
		"dir\\file.dat",
		"C:/windows/system32",
		"dir//file",
		"./a.dat",
		"a.dat\x00",
	}
	for _, p := range invalid {
		assert.Error(t, ValidateRelPath(p), "expected rejection: %q", p)
	}
}
