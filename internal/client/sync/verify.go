package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	stdsync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/openshelf/openshelf/internal/manifest"
)

// VerifyFile re-hashes one file and compares it against the expected
// fingerprint. A missing file or a hash mismatch both count as failed;
// only unexpected I/O errors are returned.
func VerifyFile(root string, fp *manifest.FileFingerprint) (bool, error) {
	abs := filepath.Join(root, filepath.FromSlash(fp.Path))

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.Size() != fp.Size {
		return false, nil
	}

	got, err := manifest.HashFile(abs)
	if err != nil {
		return false, err
	}
	return got == fp.Hash, nil
}

// verifyTree re-hashes every file the manifest claims and returns the paths
// that failed. Runs hashing across a bounded worker group; the first I/O
// error aborts the pass.
func verifyTree(ctx context.Context, root string, m *manifest.Manifest, workers int) ([]string, error) {
	if workers <= 0 {
		workers = 4
	}

	var mu stdsync.Mutex
	var failed []string

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, fp := range m.Files {
		fp := fp
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := VerifyFile(root, fp)
			if err != nil {
				return err
			}
			if !ok {
				slog.Warn("verification failed", "library", m.LibraryID, "path", fp.Path)
				mu.Lock()
				failed = append(failed, fp.Path)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(failed)
	return failed, nil
}
