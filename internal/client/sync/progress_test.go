package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressCounters(t *testing.T) {
	p := NewProgress("lib1")
	p.Begin(3, 1000)

	p.Add(400)
	p.AddResumed(100)
	p.FileCompleted()

	ev := p.Snapshot()
	assert.Equal(t, "lib1", ev.LibraryID)
	assert.Equal(t, 3, ev.TotalFiles)
	assert.Equal(t, 1, ev.CompletedFiles)
	assert.Equal(t, int64(1000), ev.TotalBytes)
	assert.Equal(t, int64(500), ev.DownloadedBytes)
}

func TestProgressUncredit(t *testing.T) {
	p := NewProgress("lib1")
	p.Begin(1, 100)

	p.Add(60)
	p.Uncredit(60) // corrupt partial thrown away

	assert.Equal(t, int64(0), p.Snapshot().DownloadedBytes)
}

func TestProgressBeginResets(t *testing.T) {
	p := NewProgress("lib1")
	p.Begin(2, 100)
	p.Add(100)
	p.FileCompleted()
	p.FileCompleted()

	p.Begin(5, 9000)
	ev := p.Snapshot()
	assert.Equal(t, 5, ev.TotalFiles)
	assert.Zero(t, ev.CompletedFiles)
	assert.Zero(t, ev.DownloadedBytes)
	assert.Zero(t, ev.Speed)
}

func TestProgressSubscribe(t *testing.T) {
	p := NewProgress("lib1")
	p.Begin(1, 10)

	ch := p.Subscribe()
	defer p.Unsubscribe(ch)

	p.Add(10)
	p.broadcast(p.Snapshot())

	ev := <-ch
	require.NotNil(t, ev)
	assert.Equal(t, int64(10), ev.DownloadedBytes)
}

func TestProgressSlowSubscriberDropsEvents(t *testing.T) {
	p := NewProgress("lib1")
	ch := p.Subscribe()
	defer p.Unsubscribe(ch)

	// overflow the buffer; broadcast must not block
	for i := 0; i < subBuffer*3; i++ {
		p.broadcast(p.Snapshot())
	}
	assert.Len(t, ch, subBuffer)
}

func TestProgressEventString(t *testing.T) {
	p := NewProgress("lib1")
	p.Begin(2, 2048)
	p.Add(1024)
	p.FileCompleted()

	s := p.Snapshot().String()
	assert.Contains(t, s, "lib1")
	assert.Contains(t, s, "1/2 files")
}
