package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openshelf/openshelf/internal/db"
	"github.com/openshelf/openshelf/internal/manifest"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS manifest_files (
    library_id TEXT NOT NULL,
    path TEXT NOT NULL,
    size INTEGER NOT NULL,
    mod_time TEXT NOT NULL, -- RFC3339
    hash TEXT NOT NULL,
    PRIMARY KEY (library_id, path)
);

CREATE TABLE IF NOT EXISTS library_state (
    library_id TEXT PRIMARY KEY,
    digest TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transfer_cursors (
    library_id TEXT NOT NULL,
    path TEXT NOT NULL,
    temp_name TEXT NOT NULL,
    bytes_written INTEGER NOT NULL,
    expected_hash TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (library_id, path)
);

CREATE INDEX IF NOT EXISTS idx_manifest_files_library ON manifest_files(library_id);
`

// dbFingerprint mirrors a manifest_files row; time is stored as TEXT.
type dbFingerprint struct {
	LibraryID string `db:"library_id"`
	Path      string `db:"path"`
	Size      int64  `db:"size"`
	ModTime   string `db:"mod_time"`
	Hash      string `db:"hash"`
}

// ResumeCursor records how much of an in-flight download already landed on
// disk, so a restarted process resumes instead of starting over.
type ResumeCursor struct {
	LibraryID    string `db:"library_id"`
	Path         string `db:"path"`
	TempName     string `db:"temp_name"`
	BytesWritten int64  `db:"bytes_written"`
	ExpectedHash string `db:"expected_hash"`
	Attempts     int    `db:"attempts"`
	UpdatedAt    string `db:"updated_at"`
}

// Journal is the client's persistent sync state: the last-known-good
// fingerprints per library plus resume cursors for in-flight transfers.
// Backed by SQLite so every mutation is durable on its own.
type Journal struct {
	db     *sqlx.DB
	dbPath string
}

func NewJournal(dbPath string) *Journal {
	return &Journal{dbPath: dbPath}
}

func (j *Journal) Open() error {
	if j.db != nil {
		return fmt.Errorf("journal already open")
	}

	sqldb, err := db.NewSqliteDb(db.WithPath(j.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	if _, err := sqldb.Exec(journalSchema); err != nil {
		sqldb.Close()
		return fmt.Errorf("init journal schema: %w", err)
	}

	j.db = sqldb
	return nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return fmt.Errorf("journal not open")
	}
	if err := j.db.Close(); err != nil {
		return err
	}
	j.db = nil
	slog.Debug("journal closed", "path", j.dbPath)
	return nil
}

// Manifest rebuilds the last-known-good manifest of a library from the
// journal rows. The returned manifest is sealed, so its digest reflects
// exactly what the journal believes is on disk.
func (j *Journal) Manifest(libraryID string) (*manifest.Manifest, error) {
	var rows []dbFingerprint
	err := j.db.Select(&rows, "SELECT library_id, path, size, mod_time, hash FROM manifest_files WHERE library_id = ?", libraryID)
	if err != nil {
		return nil, fmt.Errorf("query manifest files: %w", err)
	}

	m := manifest.New(libraryID)
	for _, row := range rows {
		modTime, err := time.Parse(time.RFC3339, row.ModTime)
		if err != nil {
			return nil, fmt.Errorf("parse mod_time for %s: %w", row.Path, err)
		}
		m.Files = append(m.Files, &manifest.FileFingerprint{
			Path:    row.Path,
			Size:    row.Size,
			ModTime: modTime,
			Hash:    row.Hash,
		})
	}
	m.Seal()
	return m, nil
}

// SetFile upserts one file fingerprint. Called once per committed transfer.
func (j *Journal) SetFile(libraryID string, fp *manifest.FileFingerprint) error {
	if fp == nil {
		return fmt.Errorf("cannot set nil fingerprint")
	}
	_, err := j.db.Exec(
		`INSERT OR REPLACE INTO manifest_files (library_id, path, size, mod_time, hash) VALUES (?, ?, ?, ?, ?)`,
		libraryID, fp.Path, fp.Size, fp.ModTime.UTC().Format(time.RFC3339), fp.Hash,
	)
	if err != nil {
		return fmt.Errorf("set fingerprint for %s: %w", fp.Path, err)
	}
	return nil
}

func (j *Journal) DeleteFile(libraryID, path string) error {
	_, err := j.db.Exec("DELETE FROM manifest_files WHERE library_id = ? AND path = ?", libraryID, path)
	if err != nil {
		return fmt.Errorf("delete fingerprint for %s: %w", path, err)
	}
	return nil
}

func (j *Journal) FileCount(libraryID string) (int, error) {
	var count int
	err := j.db.Get(&count, "SELECT COUNT(*) FROM manifest_files WHERE library_id = ?", libraryID)
	if err != nil {
		return 0, fmt.Errorf("count fingerprints: %w", err)
	}
	return count, nil
}

// Digest returns the digest of the last fully completed sync cycle, or ""
// when the library has never completed one.
func (j *Journal) Digest(libraryID string) (string, error) {
	var digest string
	err := j.db.Get(&digest, "SELECT digest FROM library_state WHERE library_id = ?", libraryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query digest: %w", err)
	}
	return digest, nil
}

func (j *Journal) SetDigest(libraryID, digest string) error {
	_, err := j.db.Exec(
		`INSERT OR REPLACE INTO library_state (library_id, digest, updated_at) VALUES (?, ?, ?)`,
		libraryID, digest, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("set digest: %w", err)
	}
	return nil
}

// Cursor returns the resume cursor for a path, or nil when none exists.
func (j *Journal) Cursor(libraryID, path string) (*ResumeCursor, error) {
	var c ResumeCursor
	err := j.db.Get(&c, "SELECT library_id, path, temp_name, bytes_written, expected_hash, attempts, updated_at FROM transfer_cursors WHERE library_id = ? AND path = ?", libraryID, path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query cursor for %s: %w", path, err)
	}
	return &c, nil
}

func (j *Journal) SetCursor(c *ResumeCursor) error {
	if c == nil {
		return fmt.Errorf("cannot set nil cursor")
	}
	c.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	_, err := j.db.NamedExec(
		`INSERT OR REPLACE INTO transfer_cursors (library_id, path, temp_name, bytes_written, expected_hash, attempts, updated_at)
		 VALUES (:library_id, :path, :temp_name, :bytes_written, :expected_hash, :attempts, :updated_at)`, c)
	if err != nil {
		return fmt.Errorf("set cursor for %s: %w", c.Path, err)
	}
	return nil
}

func (j *Journal) DeleteCursor(libraryID, path string) error {
	_, err := j.db.Exec("DELETE FROM transfer_cursors WHERE library_id = ? AND path = ?", libraryID, path)
	if err != nil {
		return fmt.Errorf("delete cursor for %s: %w", path, err)
	}
	return nil
}
