package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openshelf/openshelf/internal/manifest"
	"github.com/openshelf/openshelf/internal/utils"
)

var (
	ErrLibraryNotFound = errors.New("library not found")
	ErrLibraryScanning = errors.New("library scan in progress")
	ErrFileNotFound    = errors.New("file not in library manifest")
)

// LibraryService publishes the libraries under one root directory. Every
// direct subdirectory is a library; its name is the library id. Each library
// keeps its own scanner so the fingerprint cache survives across rescans.
type LibraryService struct {
	root  string
	store *ManifestStore

	mu        sync.RWMutex
	scanners  map[string]*manifest.Scanner
	manifests map[string]*manifest.Manifest
	scanning  map[string]bool

	watcher *TreeWatcher
}

func NewLibraryService(root string, db *sqlx.DB) (*LibraryService, error) {
	resolved, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolve libraries root: %w", err)
	}
	if !utils.DirExists(resolved) {
		return nil, fmt.Errorf("libraries root %s does not exist", resolved)
	}

	store, err := NewManifestStore(db)
	if err != nil {
		return nil, err
	}

	s := &LibraryService{
		root:      resolved,
		store:     store,
		scanners:  make(map[string]*manifest.Scanner),
		manifests: make(map[string]*manifest.Manifest),
		scanning:  make(map[string]bool),
	}
	s.watcher = NewTreeWatcher(resolved, s.onTreeChanged)
	return s, nil
}

func (s *LibraryService) Store() *ManifestStore {
	return s.store
}

// Start scans every library once and begins watching the root for changes.
func (s *LibraryService) Start(ctx context.Context) error {
	slog.Info("library service start", "root", s.root)

	if _, err := s.RescanAll(ctx); err != nil {
		return err
	}

	return s.watcher.Start(ctx)
}

func (s *LibraryService) Shutdown(ctx context.Context) error {
	s.watcher.Stop()
	return nil
}

// discover lists the library ids currently on disk.
func (s *LibraryService) discover() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read libraries root: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// RescanAll re-fingerprints every library on disk and drops catalog entries
// whose directory is gone. Returns the digests per library id.
func (s *LibraryService) RescanAll(ctx context.Context) (map[string]string, error) {
	ids, err := s.discover()
	if err != nil {
		return nil, err
	}

	onDisk := make(map[string]bool, len(ids))
	digests := make(map[string]string, len(ids))
	for _, id := range ids {
		onDisk[id] = true
		digest, err := s.Rescan(ctx, id)
		if err != nil {
			return nil, err
		}
		digests[id] = digest
	}

	// prune catalog rows for deleted directories
	records, err := s.store.List()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if onDisk[rec.ID] {
			continue
		}
		slog.Info("library removed from disk", "library", rec.ID)
		if err := s.store.Delete(rec.ID); err != nil {
			return nil, err
		}
		s.mu.Lock()
		delete(s.manifests, rec.ID)
		delete(s.scanners, rec.ID)
		s.mu.Unlock()
	}

	return digests, nil
}

// Rescan re-fingerprints one library and publishes the new manifest. While a
// scan runs the previous manifest keeps being served; the scanning flag only
// matters for libraries that never completed a scan.
func (s *LibraryService) Rescan(ctx context.Context, libraryID string) (string, error) {
	dir := filepath.Join(s.root, libraryID)
	if !utils.DirExists(dir) {
		return "", ErrLibraryNotFound
	}

	s.mu.Lock()
	scanner, ok := s.scanners[libraryID]
	if !ok {
		scanner = manifest.NewScanner(libraryID, dir)
		s.scanners[libraryID] = scanner
	}
	s.scanning[libraryID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.scanning[libraryID] = false
		s.mu.Unlock()
	}()

	start := time.Now()
	m, err := scanner.Scan(ctx)
	if err != nil {
		return "", fmt.Errorf("scan library %s: %w", libraryID, err)
	}

	if err := s.store.Put(m); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.manifests[libraryID] = m
	s.mu.Unlock()

	slog.Info("library scanned",
		"library", libraryID,
		"files", m.FileCount(),
		"size", m.TotalSize,
		"digest", m.Hash[:12],
		"took", time.Since(start))
	return m.Hash, nil
}

// List returns the current catalog.
func (s *LibraryService) List() ([]*LibraryRecord, error) {
	return s.store.List()
}

// Info returns the catalog entry of one library.
func (s *LibraryService) Info(libraryID string) (*LibraryRecord, error) {
	rec, err := s.store.GetRecord(libraryID)
	if err != nil {
		if errors.Is(err, ErrManifestNotFound) {
			return nil, s.notFoundOrScanning(libraryID)
		}
		return nil, err
	}
	return rec, nil
}

// Digest returns the current manifest digest of a library.
func (s *LibraryService) Digest(libraryID string) (string, error) {
	digest, err := s.store.Digest(libraryID)
	if err != nil {
		if errors.Is(err, ErrManifestNotFound) {
			return "", s.notFoundOrScanning(libraryID)
		}
		return "", err
	}
	return digest, nil
}

// ManifestRaw returns the encoded manifest of a library as stored.
func (s *LibraryService) ManifestRaw(libraryID string) ([]byte, error) {
	data, err := s.store.GetRaw(libraryID)
	if err != nil {
		if errors.Is(err, ErrManifestNotFound) {
			return nil, s.notFoundOrScanning(libraryID)
		}
		return nil, err
	}
	return data, nil
}

// FilePath validates a relative path against the published manifest and
// returns the absolute path to serve. Only files the manifest owns are
// served, so temp files or junk in the tree stay unreachable.
func (s *LibraryService) FilePath(libraryID, relPath string) (string, error) {
	if err := manifest.ValidateRelPath(relPath); err != nil {
		return "", err
	}

	s.mu.RLock()
	m, ok := s.manifests[libraryID]
	s.mu.RUnlock()
	if !ok {
		return "", s.notFoundOrScanning(libraryID)
	}

	if m.Lookup(relPath) == nil {
		return "", ErrFileNotFound
	}

	return filepath.Join(s.root, libraryID, filepath.FromSlash(relPath)), nil
}

func (s *LibraryService) notFoundOrScanning(libraryID string) error {
	if !utils.DirExists(filepath.Join(s.root, libraryID)) {
		return ErrLibraryNotFound
	}
	s.mu.RLock()
	scanning := s.scanning[libraryID]
	s.mu.RUnlock()
	if scanning {
		return ErrLibraryScanning
	}
	return ErrLibraryNotFound
}

// onTreeChanged is the debounced watcher callback.
func (s *LibraryService) onTreeChanged(libraryID string) {
	slog.Debug("library tree changed", "library", libraryID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if _, err := s.Rescan(ctx, libraryID); err != nil {
		if errors.Is(err, ErrLibraryNotFound) {
			// directory deleted, prune on the next full rescan
			return
		}
		slog.Error("watch rescan failed", "library", libraryID, "error", err)
	}
}
