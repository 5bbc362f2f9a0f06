package library

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"

	"github.com/openshelf/openshelf/internal/manifest"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS manifests (
    library_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    digest TEXT NOT NULL,
    file_count INTEGER NOT NULL,
    total_size INTEGER NOT NULL,
    generated_at TEXT NOT NULL, -- RFC3339
    manifest BLOB NOT NULL
);
`

const digestCacheSize = 256

var ErrManifestNotFound = errors.New("manifest not found")

// LibraryRecord is one catalog row, cheap enough to list without decoding
// the manifest blob.
type LibraryRecord struct {
	ID          string `db:"library_id"`
	Name        string `db:"name"`
	Digest      string `db:"digest"`
	FileCount   int    `db:"file_count"`
	TotalSize   int64  `db:"total_size"`
	GeneratedAt string `db:"generated_at"`
}

// ManifestStore persists published manifests in SQLite. A manifest is only
// replaced wholesale inside one transaction, so readers always see either
// the previous or the next revision, never a mix. Digests sit in front of
// the table in an LRU since clients poll them every cycle.
type ManifestStore struct {
	db      *sqlx.DB
	digests *lru.Cache[string, string]
}

func NewManifestStore(db *sqlx.DB) (*ManifestStore, error) {
	if _, err := db.Exec(storeSchema); err != nil {
		return nil, fmt.Errorf("init manifest store schema: %w", err)
	}

	digests, err := lru.New[string, string](digestCacheSize)
	if err != nil {
		return nil, err
	}

	return &ManifestStore{db: db, digests: digests}, nil
}

// Put publishes a sealed manifest. The encoded blob is what clients will
// download verbatim from the manifest endpoint.
func (s *ManifestStore) Put(m *manifest.Manifest) error {
	if m.Hash == "" {
		return fmt.Errorf("refusing to store unsealed manifest for %s", m.LibraryID)
	}

	data, err := m.Encode()
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO manifests (library_id, name, digest, file_count, total_size, generated_at, manifest)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.LibraryID, m.LibraryID, m.Hash, m.FileCount(), m.TotalSize,
		m.GeneratedAt.UTC().Format(time.RFC3339), data,
	)
	if err != nil {
		return fmt.Errorf("store manifest for %s: %w", m.LibraryID, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.digests.Add(m.LibraryID, m.Hash)
	return nil
}

// GetRaw returns the encoded manifest blob as stored.
func (s *ManifestStore) GetRaw(libraryID string) ([]byte, error) {
	var data []byte
	err := s.db.Get(&data, "SELECT manifest FROM manifests WHERE library_id = ?", libraryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("query manifest: %w", err)
	}
	return data, nil
}

// Get decodes the stored manifest of a library.
func (s *ManifestStore) Get(libraryID string) (*manifest.Manifest, error) {
	data, err := s.GetRaw(libraryID)
	if err != nil {
		return nil, err
	}
	return manifest.Decode(data)
}

// Digest answers from the LRU when possible.
func (s *ManifestStore) Digest(libraryID string) (string, error) {
	if digest, ok := s.digests.Get(libraryID); ok {
		return digest, nil
	}

	var digest string
	err := s.db.Get(&digest, "SELECT digest FROM manifests WHERE library_id = ?", libraryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrManifestNotFound
		}
		return "", fmt.Errorf("query digest: %w", err)
	}

	s.digests.Add(libraryID, digest)
	return digest, nil
}

// GetRecord returns one catalog row without decoding the manifest blob.
func (s *ManifestStore) GetRecord(libraryID string) (*LibraryRecord, error) {
	var rec LibraryRecord
	err := s.db.Get(&rec,
		"SELECT library_id, name, digest, file_count, total_size, generated_at FROM manifests WHERE library_id = ?", libraryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("query manifest record: %w", err)
	}
	return &rec, nil
}

// List returns all catalog rows ordered by id.
func (s *ManifestStore) List() ([]*LibraryRecord, error) {
	var records []*LibraryRecord
	err := s.db.Select(&records,
		"SELECT library_id, name, digest, file_count, total_size, generated_at FROM manifests ORDER BY library_id")
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	return records, nil
}

// Delete drops a library that no longer exists on disk.
func (s *ManifestStore) Delete(libraryID string) error {
	if _, err := s.db.Exec("DELETE FROM manifests WHERE library_id = ?", libraryID); err != nil {
		return fmt.Errorf("delete manifest for %s: %w", libraryID, err)
	}
	s.digests.Remove(libraryID)
	return nil
}
