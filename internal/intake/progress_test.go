package intake

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"course-intake/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressLifecycle(t *testing.T) {
	p := NewProgressTracker(20*time.Millisecond, time.Hour)
	c := model.NewCandidate("a.pdf", "application/pdf", 4, bytes.NewReader([]byte("%PDF")))

	var mu sync.Mutex
	var statuses []model.UploadStatus
	unsubscribe := p.Subscribe(func(snap []model.UploadProgress) {
		mu.Lock()
		defer mu.Unlock()
		if len(snap) > 0 {
			statuses = append(statuses, snap[0].Status)
		}
	})
	defer unsubscribe()

	p.Track(c)
	p.Update(c.LocalID, 40)
	p.Update(c.LocalID, 20)
	got, ok := p.Get(c.LocalID)
	require.True(t, ok)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, model.UploadUploading, got.Status)

	p.Complete(c.LocalID)
	got, _ = p.Get(c.LocalID)
	assert.Equal(t, model.UploadCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)

	// 终态之后的进度事件被忽略
	p.Update(c.LocalID, 10)
	got, _ = p.Get(c.LocalID)
	assert.Equal(t, 100, got.Progress)

	require.Eventually(t, func() bool {
		_, ok := p.Get(c.LocalID)
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, p.Snapshot())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []model.UploadStatus{model.UploadQueued, model.UploadUploading, model.UploadCompleted}, statuses)
}

func TestProgressOneEntryPerLocalID(t *testing.T) {
	p := NewProgressTracker(time.Hour, time.Hour)
	c := model.NewCandidate("a.pdf", "application/pdf", 1, nil)
	p.Track(c)
	p.Update(c.LocalID, 70)
	p.Track(c)

	snap := p.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, model.UploadQueued, snap[0].Status)
	assert.Zero(t, snap[0].Progress)
}

func TestProgressFailAndDismiss(t *testing.T) {
	p := NewProgressTracker(time.Hour, time.Hour)
	a := model.NewCandidate("a.pdf", "application/pdf", 1, nil)
	b := model.NewCandidate("b.pdf", "application/pdf", 1, nil)
	p.Track(a)
	p.Track(b)
	p.Fail(a.LocalID, "boom")

	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a.pdf", snap[0].FileName)
	assert.Equal(t, model.UploadError, snap[0].Status)
	assert.Equal(t, "boom", snap[0].Error)

	p.Dismiss(a.LocalID)
	snap = p.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "b.pdf", snap[0].FileName)
}

func TestProgressEventPercent(t *testing.T) {
	assert.Equal(t, 50, ProgressEvent{Loaded: 5, Total: 10}.Percent())
	assert.Equal(t, 0, ProgressEvent{Loaded: 5}.Percent())
	assert.Equal(t, 100, ProgressEvent{Loaded: 12, Total: 10}.Percent())
}

func TestConcurrentUpdatesDeliverLatestSnapshotLast(t *testing.T) {
	p := NewProgressTracker(time.Hour, time.Hour)
	cands := make([]*model.FileCandidate, 8)
	for i := range cands {
		cands[i] = model.NewCandidate("f.pdf", "application/pdf", 4, bytes.NewReader([]byte("%PDF")))
		p.Track(cands[i])
	}

	var mu sync.Mutex
	var last []model.UploadProgress
	p.Subscribe(func(snap []model.UploadProgress) {
		mu.Lock()
		last = snap
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for _, c := range cands {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for pct := 1; pct <= 100; pct++ {
				p.Update(id, pct)
			}
		}(c.LocalID)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, p.Snapshot(), last)
	for _, e := range last {
		assert.Equal(t, 100, e.Progress)
	}
}
