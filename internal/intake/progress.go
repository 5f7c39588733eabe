package intake

import (
	"sync"
	"time"

	"course-intake/internal/model"
)

const (
	DefaultCompletedGrace = 1500 * time.Millisecond
	DefaultErrorGrace     = time.Minute
)

// ProgressTracker 以本地 ID 为键保存上传进度，每个本地 ID 最多一条记录。
// 只有编排器写入，订阅者收到的是只读快照。
type ProgressTracker struct {
	completedGrace time.Duration
	errorGrace     time.Duration

	mu      sync.RWMutex
	entries map[string]*model.UploadProgress
	order   []string
	timers  map[string]*time.Timer

	subMu  sync.RWMutex
	subs   map[int]func([]model.UploadProgress)
	nextID int

	// pubMu 串行化快照与分发，最后送达的快照总是最新状态。
	pubMu sync.Mutex
}

// NewProgressTracker 创建进度跟踪器。completedGrace 是完成状态保留的时间，errorGrace 是失败状态保留的时间。
func NewProgressTracker(completedGrace, errorGrace time.Duration) *ProgressTracker {
	if completedGrace <= 0 {
		completedGrace = DefaultCompletedGrace
	}
	if errorGrace <= 0 {
		errorGrace = DefaultErrorGrace
	}
	return &ProgressTracker{
		completedGrace: completedGrace,
		errorGrace:     errorGrace,
		entries:        make(map[string]*model.UploadProgress),
		timers:         make(map[string]*time.Timer),
		subs:           make(map[int]func([]model.UploadProgress)),
	}
}

// Subscribe 注册一个订阅者，返回取消订阅的函数。
func (p *ProgressTracker) Subscribe(fn func([]model.UploadProgress)) func() {
	p.subMu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.subMu.Unlock()
	return func() {
		p.subMu.Lock()
		delete(p.subs, id)
		p.subMu.Unlock()
	}
}

// Track 为候选文件创建一条 queued 记录，已有记录会被覆盖。
func (p *ProgressTracker) Track(c *model.FileCandidate) {
	p.mu.Lock()
	if t, ok := p.timers[c.LocalID]; ok {
		t.Stop()
		delete(p.timers, c.LocalID)
	}
	if _, ok := p.entries[c.LocalID]; !ok {
		p.order = append(p.order, c.LocalID)
	}
	p.entries[c.LocalID] = &model.UploadProgress{
		FileID:    c.LocalID,
		FileName:  c.Name,
		Status:    model.UploadQueued,
		UpdatedAt: time.Now(),
	}
	p.mu.Unlock()
	p.publish()
}

// Update 记录上传进度，进度不会倒退，终态记录不再变化。
func (p *ProgressTracker) Update(localID string, progress int) {
	p.mu.Lock()
	e, ok := p.entries[localID]
	if !ok || e.Status == model.UploadCompleted || e.Status == model.UploadError {
		p.mu.Unlock()
		return
	}
	changed := false
	if progress > e.Progress {
		e.Progress = progress
		changed = true
	}
	if e.Status != model.UploadUploading {
		e.Status = model.UploadUploading
		changed = true
	}
	if !changed {
		p.mu.Unlock()
		return
	}
	e.UpdatedAt = time.Now()
	p.mu.Unlock()
	p.publish()
}

// Complete 标记上传完成，并在宽限期后移除记录。
func (p *ProgressTracker) Complete(localID string) {
	p.settle(localID, model.UploadCompleted, "", p.completedGrace)
}

// Fail 标记上传失败。
func (p *ProgressTracker) Fail(localID, message string) {
	p.settle(localID, model.UploadError, message, p.errorGrace)
}

func (p *ProgressTracker) settle(localID string, status model.UploadStatus, message string, grace time.Duration) {
	p.mu.Lock()
	e, ok := p.entries[localID]
	if !ok {
		p.mu.Unlock()
		return
	}
	e.Status = status
	e.Error = message
	if status == model.UploadCompleted {
		e.Progress = 100
	}
	e.UpdatedAt = time.Now()
	if t, ok := p.timers[localID]; ok {
		t.Stop()
	}
	p.timers[localID] = time.AfterFunc(grace, func() { p.remove(localID) })
	p.mu.Unlock()
	p.publish()
}

// Dismiss 立即移除一条记录。
func (p *ProgressTracker) Dismiss(localID string) {
	p.remove(localID)
}

func (p *ProgressTracker) remove(localID string) {
	p.mu.Lock()
	if _, ok := p.entries[localID]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.entries, localID)
	if t, ok := p.timers[localID]; ok {
		t.Stop()
		delete(p.timers, localID)
	}
	for i, id := range p.order {
		if id == localID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	p.publish()
}

// Get 返回单条记录的拷贝。
func (p *ProgressTracker) Get(localID string) (model.UploadProgress, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[localID]
	if !ok {
		return model.UploadProgress{}, false
	}
	return *e, true
}

// Snapshot 按登记顺序返回所有记录的拷贝。
func (p *ProgressTracker) Snapshot() []model.UploadProgress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.UploadProgress, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.entries[id])
	}
	return out
}

func (p *ProgressTracker) publish() {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	snap := p.Snapshot()
	p.subMu.RLock()
	defer p.subMu.RUnlock()
	for _, fn := range p.subs {
		fn(snap)
	}
}
