package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const hashChunkSize = 64 * 1024

// DefaultExcludes are junk files never included in a manifest.
// The staging dir must stay excluded or in-flight temp files would
// show up as tree changes mid-sync.
var DefaultExcludes = []string{
	"**/.DS_Store",
	"**/Thumbs.db",
	"**/*.tmp",
	".git/**",
	".openshelf/**",
}

// Scanner fingerprints a library tree. It keeps the fingerprints of the last
// successful scan and skips re-hashing files whose size and mtime are
// unchanged; hashing is by far the expensive step. The cache is a pure
// optimization and can be bypassed with ForceRehash when corruption is
// suspected.
type Scanner struct {
	libraryID string
	root      string
	excludes  []string

	mu        sync.Mutex
	lastScan  map[string]*scanEntry
	forceHash bool
}

// scanEntry caches one fingerprint together with the file's full-precision
// mtime. The fingerprint itself carries a second-truncated mtime, which is
// too coarse for the skip heuristic: a same-size rewrite within the same
// second would be missed.
type scanEntry struct {
	fp      *FileFingerprint
	modTime time.Time
}

type ScannerOption func(*Scanner)

// WithExcludes replaces the default exclude globs.
func WithExcludes(globs []string) ScannerOption {
	return func(s *Scanner) {
		s.excludes = globs
	}
}

func NewScanner(libraryID, root string, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		libraryID: libraryID,
		root:      root,
		excludes:  DefaultExcludes,
		lastScan:  make(map[string]*scanEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ForceRehash makes the next Scan ignore the fingerprint cache and re-hash
// every file.
func (s *Scanner) ForceRehash() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceHash = true
}

// Scan walks the tree and produces a sealed manifest. Symlinks and
// non-regular files are excluded and logged. Any enumeration or read error
// aborts the whole scan with a ScanError; a partial manifest is never
// returned.
func (s *Scanner) Scan(ctx context.Context) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	force := s.forceHash
	s.forceHash = false

	newState := make(map[string]*scanEntry)

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk: %w", walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(s.root, path)
		if err != nil {
			return fmt.Errorf("rel path: %w", err)
		}
		relPath = NormPath(relPath)

		if d.IsDir() {
			return nil
		}

		if s.excluded(relPath) {
			return nil
		}

		if !d.Type().IsRegular() {
			slog.Debug("scan skip non-regular", "library", s.libraryID, "path", relPath, "mode", d.Type())
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", relPath, err)
		}

		rawMod := info.ModTime()
		// mtime is recorded at second precision so a committed file whose
		// mtime is restored with Chtimes reproduces the same fingerprint
		// on any filesystem
		modTime := rawMod.Truncate(time.Second).UTC()

		var hash string
		prev, cached := s.lastScan[relPath]
		if !force && cached && prev.fp.Size == info.Size() && prev.modTime.Equal(rawMod) {
			hash = prev.fp.Hash
		} else {
			hash, err = HashFile(path)
			if err != nil {
				return fmt.Errorf("hash %s: %w", relPath, err)
			}
		}

		newState[relPath] = &scanEntry{
			fp: &FileFingerprint{
				Path:    relPath,
				Size:    info.Size(),
				ModTime: modTime,
				Hash:    hash,
			},
			modTime: rawMod,
		}
		return nil
	})

	if err != nil {
		return nil, &ScanError{Root: s.root, Err: err}
	}

	s.lastScan = newState

	m := &Manifest{
		SchemaVersion: SchemaVersion,
		LibraryID:     s.libraryID,
		GeneratedAt:   time.Now().UTC(),
		Files:         make([]*FileFingerprint, 0, len(newState)),
	}
	for _, e := range newState {
		m.Files = append(m.Files, e.fp)
	}
	m.Seal()
	return m, nil
}

func (s *Scanner) excluded(relPath string) bool {
	for _, pattern := range s.excludes {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}

// HashFile streams a file through sha256 in fixed-size chunks, so memory use
// is constant regardless of file size.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
