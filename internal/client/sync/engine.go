package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/openshelf/openshelf/internal/manifest"
	"github.com/openshelf/openshelf/internal/shelfsdk"
	"github.com/openshelf/openshelf/internal/utils"
)

const DefaultSyncInterval = 30 * time.Second

var ErrSyncInProgress = errors.New("sync already in progress")

// Options tune a SyncEngine. Zero values fall back to defaults.
type Options struct {
	Workers     int
	MaxAttempts int
}

// SyncEngine reconciles local library trees against the server's manifests.
// One engine serves many libraries; cycles are serialized by a try-lock so
// overlapping triggers (timer, manual, watch) collapse instead of racing.
type SyncEngine struct {
	sdk          *shelfsdk.ShelfSDK
	journal      *Journal
	librariesDir string
	opts         Options

	syncMu stdsync.Mutex

	progMu   stdsync.Mutex
	progress map[string]*Progress
}

func NewSyncEngine(sdk *shelfsdk.ShelfSDK, journal *Journal, librariesDir string, opts Options) *SyncEngine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &SyncEngine{
		sdk:          sdk,
		journal:      journal,
		librariesDir: librariesDir,
		opts:         opts,
		progress:     make(map[string]*Progress),
	}
}

// Progress returns the live progress aggregate for a library, creating it on
// first use so callers can subscribe before the first cycle starts.
func (se *SyncEngine) Progress(libraryID string) *Progress {
	se.progMu.Lock()
	defer se.progMu.Unlock()
	p, ok := se.progress[libraryID]
	if !ok {
		p = NewProgress(libraryID)
		se.progress[libraryID] = p
	}
	return p
}

// LibraryRoot returns the local install dir of a library.
func (se *SyncEngine) LibraryRoot(libraryID string) string {
	return filepath.Join(se.librariesDir, libraryID)
}

// SyncLibrary runs one full sync cycle for a library: digest check, manifest
// fetch, diff, transfers, then a full-tree verification. The target digest
// becomes last-known-good only when everything committed and verified clean.
func (se *SyncEngine) SyncLibrary(ctx context.Context, libraryID string) (*CycleResult, error) {
	if !se.syncMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer se.syncMu.Unlock()

	start := time.Now()
	result := &CycleResult{
		CycleID:   uuid.NewString(),
		LibraryID: libraryID,
	}
	log := slog.With("library", libraryID, "cycle", result.CycleID)

	remoteDigest, err := se.sdk.Library.GetDigest(ctx, libraryID)
	if err != nil {
		return nil, fmt.Errorf("fetch digest: %w", err)
	}

	localDigest, err := se.journal.Digest(libraryID)
	if err != nil {
		return nil, err
	}
	if localDigest != "" && localDigest == remoteDigest {
		log.Debug("digests match, skipping cycle", "digest", shortDigest(remoteDigest))
		result.Succeeded = true
		result.Skipped = true
		return result, nil
	}

	target, err := se.sdk.Library.GetManifest(ctx, libraryID)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}

	root := se.LibraryRoot(libraryID)
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create library root: %w", err)
	}

	current, err := se.currentManifest(ctx, libraryID, root)
	if err != nil {
		return nil, err
	}

	plan := manifest.Diff(target, current)
	if plan.IsEmpty() {
		// tree already matches the target, only the digest record is stale
		if err := se.journal.SetDigest(libraryID, target.Hash); err != nil {
			return nil, err
		}
		log.Info("tree already up to date", "files", target.FileCount())
		result.Succeeded = true
		return result, nil
	}

	log.Info("cycle planned",
		"add", len(plan.ToAdd), "replace", len(plan.ToReplace), "remove", len(plan.ToRemove),
		"bytes", plan.TransferBytes())

	progress := se.Progress(libraryID)
	progress.Begin(plan.TransferCount(), plan.TransferBytes())

	emitCtx, stopEmit := context.WithCancel(ctx)
	go progress.Emit(emitCtx)
	defer stopEmit()

	transferer := NewTransferer(se.sdk, se.journal, libraryID, root, progress, se.opts.Workers, se.opts.MaxAttempts)
	result.Committed, result.Removed = transferer.Run(ctx, plan)

	for path, task := range transferer.Tasks() {
		switch task.State {
		case TaskFailed:
			result.FailedPaths = append(result.FailedPaths, path)
		case TaskAbandoned:
			result.AbandonedPaths = append(result.AbandonedPaths, path)
		}
	}
	sort.Strings(result.FailedPaths)
	sort.Strings(result.AbandonedPaths)

	if err := ctx.Err(); err != nil {
		return result, err
	}

	// end-of-cycle verification over everything the journal now claims;
	// a demoted file is dropped from the journal so the next diff re-plans it
	owned, err := se.journal.Manifest(libraryID)
	if err != nil {
		return result, err
	}
	demoted, err := verifyTree(ctx, root, owned, se.opts.Workers)
	if err != nil {
		return result, fmt.Errorf("verify tree: %w", err)
	}
	for _, path := range demoted {
		if err := se.journal.DeleteFile(libraryID, path); err != nil {
			return result, err
		}
	}
	result.DemotedPaths = demoted

	clean := len(result.FailedPaths) == 0 && len(result.AbandonedPaths) == 0 && len(demoted) == 0
	if clean {
		if err := se.journal.SetDigest(libraryID, target.Hash); err != nil {
			return result, err
		}
		result.Succeeded = true
	}

	log.Info("cycle finished",
		"committed", result.Committed,
		"removed", result.Removed,
		"failed", len(result.FailedPaths),
		"abandoned", len(result.AbandonedPaths),
		"demoted", len(demoted),
		"clean", clean,
		"took", time.Since(start))
	return result, nil
}

// currentManifest is the journal's view of the tree. When the journal is
// empty but files exist on disk (fresh journal over an old install), the
// tree is fingerprinted once and adopted instead of re-downloaded.
func (se *SyncEngine) currentManifest(ctx context.Context, libraryID, root string) (*manifest.Manifest, error) {
	count, err := se.journal.FileCount(libraryID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return se.journal.Manifest(libraryID)
	}

	if !utils.DirExists(root) {
		m := manifest.New(libraryID)
		m.Seal()
		return m, nil
	}

	scanned, err := manifest.NewScanner(libraryID, root).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("adopt local tree: %w", err)
	}
	for _, fp := range scanned.Files {
		if err := se.journal.SetFile(libraryID, fp); err != nil {
			return nil, err
		}
	}
	if scanned.FileCount() > 0 {
		slog.Info("adopted existing tree", "library", libraryID, "files", scanned.FileCount())
	}
	return scanned, nil
}

// VerifyLibrary force re-hashes the whole local tree against the journal and
// demotes every mismatch, so the next cycle repairs them.
func (se *SyncEngine) VerifyLibrary(ctx context.Context, libraryID string) ([]string, error) {
	if !se.syncMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer se.syncMu.Unlock()

	owned, err := se.journal.Manifest(libraryID)
	if err != nil {
		return nil, err
	}

	demoted, err := verifyTree(ctx, se.LibraryRoot(libraryID), owned, se.opts.Workers)
	if err != nil {
		return nil, err
	}
	for _, path := range demoted {
		if err := se.journal.DeleteFile(libraryID, path); err != nil {
			return nil, err
		}
	}
	if len(demoted) > 0 {
		// force the next cycle to re-plan even if the remote digest matches
		if err := se.journal.SetDigest(libraryID, ""); err != nil {
			return nil, err
		}
	}
	return demoted, nil
}

// Watch syncs a library on an interval until the context ends. The timer is
// re-armed after each cycle completes, so slow cycles never pile up.
func (se *SyncEngine) Watch(ctx context.Context, libraryID string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	t := time.NewTimer(0) // first cycle immediately
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := se.SyncLibrary(ctx, libraryID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				slog.Error("sync cycle failed", "library", libraryID, "error", err)
			}
			t.Reset(interval)
		}
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
