package sync

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openshelf/openshelf/internal/manifest"
	"github.com/openshelf/openshelf/internal/shelfsdk"
)

const (
	defaultMaxAttempts = 5
	backoffBase        = 500 * time.Millisecond
	backoffMax         = 30 * time.Second
)

// CapacityError means the destination volume cannot hold the remaining bytes
// of a transfer. Retrying does not free disk space, so it is permanent.
type CapacityError struct {
	Path   string
	Needed uint64
	Free   uint64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("insufficient disk space for %s: need %s, %s free",
		e.Path, humanize.IBytes(e.Needed), humanize.IBytes(e.Free))
}

// IntegrityError means downloaded bytes do not hash to the manifest's
// expected digest. The partial data is discarded and the transfer restarts
// from offset zero.
type IntegrityError struct {
	Path string
	Want string
	Got  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity mismatch for %s: want %s, got %s", e.Path, e.Want, e.Got)
}

// isPermanent classifies a transfer failure. Permanent failures abandon the
// task for the rest of the cycle; everything else is retried with backoff.
func isPermanent(err error) bool {
	var capErr *CapacityError
	if errors.As(err, &capErr) {
		return true
	}

	var pathErr *manifest.PathValidationError
	if errors.As(err, &pathErr) {
		return true
	}

	if errors.Is(err, syscall.ENOSPC) {
		return true
	}

	// context cancellation is neither: the caller stops the whole cycle
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return !shelfsdk.IsTemporary(err)
}

// backoffDelay returns the wait before retry attempt n (0-based),
// doubling from backoffBase and capped at backoffMax.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << uint(attempt)
	if d > backoffMax || d <= 0 {
		return backoffMax
	}
	return d
}

// sleepCtx waits for d or until the context is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
