package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	stdsync "sync"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/openshelf/openshelf/internal/manifest"
	"github.com/openshelf/openshelf/internal/queue"
	"github.com/openshelf/openshelf/internal/shelfsdk"
	"github.com/openshelf/openshelf/internal/utils"
)

const (
	// StagingDirName lives inside the library root so the final rename never
	// crosses a volume boundary and stays atomic.
	StagingDirName = ".openshelf/staging"

	copyChunkSize = 256 * 1024
)

// Transferer executes one plan's downloads and removals against a single
// library root. Downloads land in the staging dir, are verified against the
// manifest hash, and only then renamed into place.
type Transferer struct {
	sdk         *shelfsdk.ShelfSDK
	journal     *Journal
	libraryID   string
	root        string
	stagingDir  string
	progress    *Progress
	workers     int
	maxAttempts int

	mu    stdsync.Mutex
	tasks map[string]*TransferTask
}

func NewTransferer(sdk *shelfsdk.ShelfSDK, journal *Journal, libraryID, root string, progress *Progress, workers, maxAttempts int) *Transferer {
	if workers <= 0 {
		workers = 4
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Transferer{
		sdk:         sdk,
		journal:     journal,
		libraryID:   libraryID,
		root:        root,
		stagingDir:  filepath.Join(root, filepath.FromSlash(StagingDirName)),
		progress:    progress,
		workers:     workers,
		maxAttempts: maxAttempts,
	}
}

// Tasks returns the task table, keyed by relative path. Only meaningful
// after Run returned.
func (t *Transferer) Tasks() map[string]*TransferTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tasks
}

// Run applies the plan: removals first (cheap, no bandwidth), then downloads
// via a worker pool that drains a smallest-first priority queue, so many
// small files are not starved behind one huge one.
func (t *Transferer) Run(ctx context.Context, plan *manifest.Plan) (committed, removed int) {
	removed = t.removeFiles(plan.ToRemove)

	t.mu.Lock()
	t.tasks = make(map[string]*TransferTask, plan.TransferCount())
	t.mu.Unlock()

	pq := queue.NewPriorityQueue[*TransferTask]()
	enqueue := func(fp *manifest.FileFingerprint) {
		task := &TransferTask{
			LibraryID: t.libraryID,
			RelPath:   fp.Path,
			Expected:  fp,
			State:     TaskPending,
			TempPath:  filepath.Join(t.stagingDir, fp.Hash+".partial"),
		}
		t.mu.Lock()
		t.tasks[fp.Path] = task
		t.mu.Unlock()
		pq.Enqueue(task, sizePriority(fp.Size))
	}
	for _, fp := range plan.ToAdd {
		enqueue(fp)
	}
	for _, pair := range plan.ToReplace {
		enqueue(pair.New)
	}

	if pq.Len() == 0 {
		return 0, removed
	}

	if err := utils.EnsureDir(t.stagingDir); err != nil {
		slog.Error("create staging dir", "library", t.libraryID, "error", err)
		t.mu.Lock()
		for _, task := range t.tasks {
			task.State = TaskFailed
			task.Err = err
		}
		t.mu.Unlock()
		return 0, removed
	}

	var wg stdsync.WaitGroup
	for i := 0; i < t.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := pq.Dequeue()
				if !ok {
					return
				}
				t.runTask(ctx, task)
			}
		}()
	}
	wg.Wait()

	t.mu.Lock()
	for _, task := range t.tasks {
		if task.State == TaskCommitted {
			committed++
		}
	}
	t.mu.Unlock()
	return committed, removed
}

// removeFiles deletes files the target manifest no longer owns. A failed
// removal is logged and skipped; it never blocks the downloads.
func (t *Transferer) removeFiles(toRemove []*manifest.FileFingerprint) int {
	removed := 0
	for _, fp := range toRemove {
		abs := filepath.Join(t.root, filepath.FromSlash(fp.Path))
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove failed", "library", t.libraryID, "path", fp.Path, "error", err)
			continue
		}
		if err := t.journal.DeleteFile(t.libraryID, fp.Path); err != nil {
			slog.Warn("journal delete failed", "library", t.libraryID, "path", fp.Path, "error", err)
			continue
		}
		t.pruneEmptyParents(abs)
		removed++
	}
	return removed
}

// pruneEmptyParents removes now-empty directories left behind by a file
// removal, walking up until the library root.
func (t *Transferer) pruneEmptyParents(abs string) {
	dir := filepath.Dir(abs)
	for dir != t.root && len(dir) > len(t.root) {
		if err := os.Remove(dir); err != nil {
			return // not empty or gone already
		}
		dir = filepath.Dir(dir)
	}
}

// runTask drives one task through its states until it commits, is abandoned,
// or the context ends. Transient failures loop back to pending with backoff.
func (t *Transferer) runTask(ctx context.Context, task *TransferTask) {
	for {
		if err := ctx.Err(); err != nil {
			t.failTask(task, err)
			return
		}

		task.State = TaskDownloading
		err := t.download(ctx, task)
		if err == nil {
			task.State = TaskVerifying
			err = t.verifyAndCommit(task)
			if err == nil {
				task.State = TaskCommitted
				task.Err = nil
				t.progress.FileCompleted()
				return
			}
		}

		task.Err = err
		if ctx.Err() != nil {
			// cycle is being torn down, keep the cursor for next run
			t.persistCursor(task)
			task.State = TaskFailed
			return
		}

		var integrityErr *IntegrityError
		if errors.As(err, &integrityErr) {
			// corrupt bytes: discard and restart from zero
			t.discardTemp(task)
		}

		if isPermanent(err) {
			slog.Warn("transfer abandoned", "library", t.libraryID, "path", task.RelPath, "error", err)
			t.discardTemp(task)
			task.State = TaskAbandoned
			return
		}

		task.Attempts++
		if task.Attempts >= t.maxAttempts {
			slog.Warn("transfer failed, attempts exhausted",
				"library", t.libraryID, "path", task.RelPath, "attempts", task.Attempts, "error", err)
			t.persistCursor(task)
			task.State = TaskFailed
			return
		}

		delay := backoffDelay(task.Attempts - 1)
		slog.Debug("transfer retry", "library", t.libraryID, "path", task.RelPath,
			"attempt", task.Attempts, "backoff", delay, "error", err)
		t.persistCursor(task)
		if err := sleepCtx(ctx, delay); err != nil {
			task.State = TaskFailed
			task.Err = err
			return
		}
		task.State = TaskPending
	}
}

// download brings the staging file up to the expected size, resuming from
// whatever is already on disk. The temp file's size is the resume cursor;
// the journal row is advisory.
func (t *Transferer) download(ctx context.Context, task *TransferTask) error {
	cursor, err := t.loadCursor(task)
	if err != nil {
		return err
	}
	task.Cursor = cursor

	if task.Cursor > task.Expected.Size {
		// temp grew past the target, cannot be the right content
		return &IntegrityError{Path: task.RelPath, Want: task.Expected.Hash, Got: "oversized partial"}
	}
	if task.Cursor == task.Expected.Size {
		return nil // all bytes on disk, go straight to verify
	}

	if err := t.checkCapacity(task); err != nil {
		return err
	}

	stream, err := t.sdk.Library.OpenFileRange(ctx, t.libraryID, task.RelPath, task.Cursor)
	if err != nil {
		return err
	}
	defer stream.Body.Close()

	if stream.Offset == 0 && task.Cursor > 0 {
		// server ignored the range; restart the file
		t.progress.Uncredit(task.credited)
		task.credited = 0
		task.Cursor = 0
	}

	f, err := os.OpenFile(task.TempPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open staging file: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(task.Cursor); err != nil {
		return fmt.Errorf("truncate staging file: %w", err)
	}
	if _, err := f.Seek(task.Cursor, io.SeekStart); err != nil {
		return fmt.Errorf("seek staging file: %w", err)
	}

	buf := make([]byte, copyChunkSize)
	for {
		n, readErr := stream.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write staging file: %w", werr)
			}
			task.Cursor += int64(n)
			task.credited += int64(n)
			t.progress.Add(int64(n))
			if task.Cursor > task.Expected.Size {
				return &IntegrityError{Path: task.RelPath, Want: task.Expected.Hash, Got: "stream exceeded expected size"}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if err := f.Sync(); err == nil {
				t.persistCursor(task)
			}
			return fmt.Errorf("read stream: %w", readErr)
		}
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync staging file: %w", err)
	}
	if task.Cursor < task.Expected.Size {
		t.persistCursor(task)
		return fmt.Errorf("short download for %s: got %d of %d bytes", task.RelPath, task.Cursor, task.Expected.Size)
	}
	return nil
}

// loadCursor reconciles the journal cursor with what is actually on disk.
// Disk wins: the temp file's size is the only cursor that cannot lie.
func (t *Transferer) loadCursor(task *TransferTask) (int64, error) {
	info, err := os.Stat(task.TempPath)
	if err != nil {
		if os.IsNotExist(err) {
			_ = t.journal.DeleteCursor(t.libraryID, task.RelPath)
			return 0, nil
		}
		return 0, fmt.Errorf("stat staging file: %w", err)
	}

	rec, err := t.journal.Cursor(t.libraryID, task.RelPath)
	if err != nil {
		return 0, err
	}
	if rec != nil && rec.ExpectedHash != task.Expected.Hash {
		// leftover from an older manifest revision
		_ = os.Remove(task.TempPath)
		_ = t.journal.DeleteCursor(t.libraryID, task.RelPath)
		return 0, nil
	}
	if rec != nil {
		task.Attempts = rec.Attempts
	}

	// only the bytes this task has not yet accounted for get credited;
	// a retry within the cycle already counted the temp's bytes as it
	// wrote them
	if delta := info.Size() - task.credited; delta > 0 {
		t.progress.AddResumed(delta)
		task.credited += delta
	}
	return info.Size(), nil
}

func (t *Transferer) persistCursor(task *TransferTask) {
	err := t.journal.SetCursor(&ResumeCursor{
		LibraryID:    t.libraryID,
		Path:         task.RelPath,
		TempName:     filepath.Base(task.TempPath),
		BytesWritten: task.Cursor,
		ExpectedHash: task.Expected.Hash,
		Attempts:     task.Attempts,
	})
	if err != nil {
		slog.Warn("persist cursor failed", "library", t.libraryID, "path", task.RelPath, "error", err)
	}
}

func (t *Transferer) discardTemp(task *TransferTask) {
	if err := os.Remove(task.TempPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("discard staging file failed", "library", t.libraryID, "path", task.RelPath, "error", err)
	}
	_ = t.journal.DeleteCursor(t.libraryID, task.RelPath)
	t.progress.Uncredit(task.credited)
	task.credited = 0
	task.Cursor = 0
}

func (t *Transferer) failTask(task *TransferTask, err error) {
	task.State = TaskFailed
	task.Err = err
	t.persistCursor(task)
}

// checkCapacity refuses to start a download the volume cannot hold.
func (t *Transferer) checkCapacity(task *TransferTask) error {
	usage, err := disk.Usage(t.root)
	if err != nil {
		slog.Debug("disk usage unavailable", "path", t.root, "error", err)
		return nil // ENOSPC at write time still catches it
	}
	needed := uint64(task.Expected.Size - task.Cursor)
	if usage.Free < needed {
		return &CapacityError{Path: task.RelPath, Needed: needed, Free: usage.Free}
	}
	return nil
}

// verifyAndCommit hashes the staged file and, on match, renames it into
// place, restores the manifest mtime and records the fingerprint. The rename
// is the commit point; everything after it is repaired idempotently by the
// next verification pass if the process dies in between.
func (t *Transferer) verifyAndCommit(task *TransferTask) error {
	got, err := manifest.HashFile(task.TempPath)
	if err != nil {
		return fmt.Errorf("hash staged file: %w", err)
	}
	if got != task.Expected.Hash {
		return &IntegrityError{Path: task.RelPath, Want: task.Expected.Hash, Got: got}
	}

	dest := filepath.Join(t.root, filepath.FromSlash(task.RelPath))
	if err := utils.EnsureParent(dest); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.Rename(task.TempPath, dest); err != nil {
		return fmt.Errorf("commit rename: %w", err)
	}
	// restore the manifest mtime so a later scan reproduces the fingerprint
	if err := os.Chtimes(dest, task.Expected.ModTime, task.Expected.ModTime); err != nil {
		slog.Warn("restore mtime failed", "library", t.libraryID, "path", task.RelPath, "error", err)
	}
	if err := t.journal.SetFile(t.libraryID, task.Expected); err != nil {
		return fmt.Errorf("journal commit: %w", err)
	}
	if err := t.journal.DeleteCursor(t.libraryID, task.RelPath); err != nil {
		slog.Warn("delete cursor failed", "library", t.libraryID, "path", task.RelPath, "error", err)
	}
	return nil
}

func sizePriority(size int64) int {
	if size > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(size)
}
