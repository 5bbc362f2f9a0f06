package client

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/openshelf/openshelf/internal/utils"
)

const (
	librariesDir = "libraries"
	metadataDir  = ".openshelf"
	logsDir      = "logs"
	lockFile     = "openshelf.lock"
	journalFile  = "journal.db"
)

var ErrWorkspaceLocked = errors.New("workspace locked by another process")

// Workspace is the client's on-disk layout: library trees plus the metadata
// dir holding the journal, logs and the instance lock.
type Workspace struct {
	Root         string
	LibrariesDir string
	MetadataDir  string
	LogsDir      string
	JournalPath  string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", rootDir, err)
	}

	metadata := filepath.Join(root, metadataDir)
	return &Workspace{
		Root:         root,
		LibrariesDir: filepath.Join(root, librariesDir),
		MetadataDir:  metadata,
		LogsDir:      filepath.Join(metadata, logsDir),
		JournalPath:  filepath.Join(metadata, journalFile),
		flock:        flock.New(filepath.Join(metadata, lockFile)),
	}, nil
}

// Lock takes the single-instance lock. Two daemons sharing a journal would
// fight over cursors and staging files.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return err
	}
	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	return w.flock.Unlock()
}

// Bootstrap creates the workspace directory skeleton.
func (w *Workspace) Bootstrap() error {
	for _, dir := range []string{w.Root, w.LibrariesDir, w.MetadataDir, w.LogsDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
