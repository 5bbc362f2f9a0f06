package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// SchemaVersion is the current manifest wire format version.
// Decoding a manifest with a different version is a permanent error.
const SchemaVersion = 1

// FileFingerprint describes a single regular file within a library tree.
// Path is tree-relative with forward slashes, unique within a manifest.
type FileFingerprint struct {
	Path    string    `json:"path" db:"path"`
	Size    int64     `json:"size" db:"size"`
	ModTime time.Time `json:"mod_time"`
	Hash    string    `json:"hash" db:"hash"`
}

// Manifest is the authoritative description of a library tree: per-file
// fingerprints sorted by path plus a single digest over all of them.
type Manifest struct {
	SchemaVersion int                `json:"schema_version"`
	LibraryID     string             `json:"library_id"`
	GeneratedAt   time.Time          `json:"generated_at"`
	Files         []*FileFingerprint `json:"files"`
	TotalSize     int64              `json:"total_size"`
	Hash          string             `json:"hash"`
}

// New returns an empty, sealed manifest for the given library.
func New(libraryID string) *Manifest {
	m := &Manifest{
		SchemaVersion: SchemaVersion,
		LibraryID:     libraryID,
		GeneratedAt:   time.Now().UTC(),
	}
	m.Seal()
	return m
}

// Seal sorts the file list by path, recomputes TotalSize and the tree digest.
// It must be called after any mutation of Files. The digest is computed over
// the canonical sorted order, so it is independent of insertion order.
func (m *Manifest) Seal() {
	sort.Slice(m.Files, func(i, j int) bool {
		return m.Files[i].Path < m.Files[j].Path
	})

	var total int64
	h := sha256.New()
	for _, f := range m.Files {
		total += f.Size
		// one canonical record per file, NUL-separated fields
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(f.Size, 10)))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(f.ModTime.UTC().Unix(), 10)))
		h.Write([]byte{0})
		h.Write([]byte(f.Hash))
		h.Write([]byte{'\n'})
	}
	m.TotalSize = total
	m.Hash = hex.EncodeToString(h.Sum(nil))
}

// FileCount returns the number of fingerprinted files.
func (m *Manifest) FileCount() int {
	return len(m.Files)
}

// Lookup returns the fingerprint for a path, or nil.
func (m *Manifest) Lookup(path string) *FileFingerprint {
	i := sort.Search(len(m.Files), func(i int) bool {
		return m.Files[i].Path >= path
	})
	if i < len(m.Files) && m.Files[i].Path == path {
		return m.Files[i]
	}
	return nil
}

// Encode serializes the manifest to JSON.
func (m *Manifest) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a manifest payload and validates its schema version and
// every file path. A manifest with traversal paths is rejected outright.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSchemaVersion, m.SchemaVersion, SchemaVersion)
	}
	for _, f := range m.Files {
		if err := ValidateRelPath(f.Path); err != nil {
			return nil, err
		}
	}
	return &m, nil
}
