package sync

import (
	"github.com/openshelf/openshelf/internal/manifest"
)

// TaskState is the lifecycle state of one file transfer.
type TaskState string

const (
	TaskPending     TaskState = "pending"
	TaskDownloading TaskState = "downloading"
	TaskVerifying   TaskState = "verifying"
	TaskCommitted   TaskState = "committed"
	TaskFailed      TaskState = "failed"
	TaskAbandoned   TaskState = "abandoned"
)

// TransferTask tracks one file from plan entry to committed bytes on disk.
// A task is owned by exactly one worker at a time; the transferer only reads
// it back after the worker is done with it.
type TransferTask struct {
	LibraryID string
	RelPath   string
	Expected  *manifest.FileFingerprint

	State    TaskState
	TempPath string
	Cursor   int64
	Attempts int
	Err      error

	// credited is how many of this task's bytes are already counted in the
	// progress totals, across attempts. Keeps a retry that resumes a
	// surviving temp file from counting the same bytes twice.
	credited int64
}

// CycleResult summarizes one sync cycle. A cycle "succeeds" only when every
// planned transfer committed and the full-tree verification came back clean;
// only then is the target digest recorded as last-known-good.
type CycleResult struct {
	CycleID   string
	LibraryID string
	Succeeded bool

	Committed int
	Removed   int
	Skipped   bool // digests matched, nothing to do

	FailedPaths    []string // transient failures, retried next cycle
	AbandonedPaths []string // permanent failures, not retried
	DemotedPaths   []string // committed but failed post-commit verification
}
