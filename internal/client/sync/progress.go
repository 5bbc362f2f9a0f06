package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	speedWindow  = 5 * time.Second
	emitInterval = 500 * time.Millisecond
	subBuffer    = 8
)

// ProgressEvent is one snapshot of a running sync cycle.
type ProgressEvent struct {
	LibraryID       string        `json:"library_id"`
	TotalFiles      int           `json:"total_files"`
	CompletedFiles  int           `json:"completed_files"`
	TotalBytes      int64         `json:"total_bytes"`
	DownloadedBytes int64         `json:"downloaded_bytes"`
	Speed           float64       `json:"speed"` // bytes per second over the recent window
	ETA             time.Duration `json:"eta"`   // zero when speed is unknown
}

func (e *ProgressEvent) String() string {
	return fmt.Sprintf("%s: %d/%d files, %s/%s, %s/s",
		e.LibraryID, e.CompletedFiles, e.TotalFiles,
		humanize.IBytes(uint64(e.DownloadedBytes)), humanize.IBytes(uint64(e.TotalBytes)),
		humanize.IBytes(uint64(e.Speed)))
}

type speedSample struct {
	at    time.Time
	bytes int64 // cumulative network bytes
}

// Progress aggregates transfer counters across all workers of a cycle and
// fans snapshots out to subscribers at a bounded rate, independent of how
// fast the counters move.
type Progress struct {
	libraryID string

	totalFiles      atomic.Int64
	completedFiles  atomic.Int64
	totalBytes      atomic.Int64
	downloadedBytes atomic.Int64

	mu      stdsync.Mutex
	netDone int64 // bytes counted into the speed window
	samples []speedSample

	subMu stdsync.Mutex
	subs  map[chan *ProgressEvent]struct{}
}

func NewProgress(libraryID string) *Progress {
	return &Progress{
		libraryID: libraryID,
		subs:      make(map[chan *ProgressEvent]struct{}),
	}
}

// Begin resets the counters for a new cycle.
func (p *Progress) Begin(totalFiles int, totalBytes int64) {
	p.totalFiles.Store(int64(totalFiles))
	p.totalBytes.Store(totalBytes)
	p.completedFiles.Store(0)
	p.downloadedBytes.Store(0)

	p.mu.Lock()
	p.netDone = 0
	p.samples = nil
	p.mu.Unlock()
}

// Add records n bytes received from the network. Feeds the speed window.
func (p *Progress) Add(n int64) {
	if n <= 0 {
		return
	}
	p.downloadedBytes.Add(n)

	p.mu.Lock()
	p.netDone += n
	p.samples = append(p.samples, speedSample{at: time.Now(), bytes: p.netDone})
	p.pruneLocked(time.Now())
	p.mu.Unlock()
}

// AddResumed credits bytes already on disk from a previous run. They count
// toward completion but not toward the speed window, so resuming a large
// file does not fake a burst of throughput.
func (p *Progress) AddResumed(n int64) {
	if n > 0 {
		p.downloadedBytes.Add(n)
	}
}

// Uncredit takes bytes back out of the completion counter, used when a
// corrupt partial download is discarded.
func (p *Progress) Uncredit(n int64) {
	if n > 0 {
		p.downloadedBytes.Add(-n)
	}
}

func (p *Progress) FileCompleted() {
	p.completedFiles.Add(1)
}

func (p *Progress) pruneLocked(now time.Time) {
	cutoff := now.Add(-speedWindow)
	i := 0
	for i < len(p.samples) && p.samples[i].at.Before(cutoff) {
		i++
	}
	// keep one sample past the cutoff as the window's baseline
	if i > 0 {
		p.samples = p.samples[i-1:]
	}
}

// Snapshot computes the current event. Speed is the byte delta across the
// retained sample window; ETA extrapolates the remaining bytes at that speed.
func (p *Progress) Snapshot() *ProgressEvent {
	ev := &ProgressEvent{
		LibraryID:       p.libraryID,
		TotalFiles:      int(p.totalFiles.Load()),
		CompletedFiles:  int(p.completedFiles.Load()),
		TotalBytes:      p.totalBytes.Load(),
		DownloadedBytes: p.downloadedBytes.Load(),
	}

	p.mu.Lock()
	p.pruneLocked(time.Now())
	if len(p.samples) >= 2 {
		first, last := p.samples[0], p.samples[len(p.samples)-1]
		if dt := last.at.Sub(first.at).Seconds(); dt > 0 {
			ev.Speed = float64(last.bytes-first.bytes) / dt
		}
	}
	p.mu.Unlock()

	if remaining := ev.TotalBytes - ev.DownloadedBytes; remaining > 0 && ev.Speed > 0 {
		ev.ETA = time.Duration(float64(remaining)/ev.Speed) * time.Second
	}
	return ev
}

// Subscribe registers a listener. The channel is buffered; a slow listener
// loses snapshots rather than stalling the emitter.
func (p *Progress) Subscribe() chan *ProgressEvent {
	ch := make(chan *ProgressEvent, subBuffer)
	p.subMu.Lock()
	p.subs[ch] = struct{}{}
	p.subMu.Unlock()
	return ch
}

func (p *Progress) Unsubscribe(ch chan *ProgressEvent) {
	p.subMu.Lock()
	if _, ok := p.subs[ch]; ok {
		delete(p.subs, ch)
		close(ch)
	}
	p.subMu.Unlock()
}

func (p *Progress) broadcast(ev *ProgressEvent) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- ev:
		default: // drop for slow consumers
		}
	}
}

// Emit broadcasts snapshots at a fixed cadence until the context ends, then
// sends one final snapshot so subscribers see the terminal counters.
func (p *Progress) Emit(ctx context.Context) {
	t := time.NewTicker(emitInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			p.broadcast(p.Snapshot())
			return
		case <-t.C:
			p.broadcast(p.Snapshot())
		}
	}
}
