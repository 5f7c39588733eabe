package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"course-intake/internal/validation"
	"course-intake/pkg/log"
	"course-intake/pkg/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lthibault/jitterbug/v2"
)

const (
	DefaultConcurrency   = 3
	DefaultMaxRetries    = 3
	DefaultSweepInterval = 5 * time.Second
	DefaultRetention     = 24 * time.Hour
	DefaultTaskTimeout   = 2 * time.Minute
	DefaultSnapshotKey   = "intake:ai-processing-queue"

	persistTimeout = 3 * time.Second
)

// Options 控制队列的调度参数，零值字段使用默认值。RetryInterval 为 0 表示失败后立即可重新调度。
type Options struct {
	Concurrency   int
	MaxRetries    int
	RetryInterval time.Duration
	SweepInterval time.Duration
	Retention     time.Duration
	TaskTimeout   time.Duration
	SnapshotKey   string
}

// Queue 是进程内唯一的后台任务队列，由 main 创建后注入给需要它的组件。
//
// 调度协程负责认领任务，认领后把任务 ID 放入容量为并发数的 ready 通道，
// 固定数量的 worker 从通道取出任务执行。所有状态变更都在 mu 保护下完成并立即写入快照。
type Queue struct {
	opts     Options
	handlers Handlers
	store    Store
	validate *validator.Validate
	now      func() time.Time

	mu      sync.Mutex
	tasks   []*Task
	running int

	sinkMu sync.RWMutex
	sinks  []EventSink

	wake   chan struct{}
	ready  chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建队列。store 为 nil 时使用内存存储。
func New(opts Options, store Store, handlers Handlers) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryInterval < 0 {
		opts.RetryInterval = 0
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = DefaultTaskTimeout
	}
	if opts.SnapshotKey == "" {
		opts.SnapshotKey = DefaultSnapshotKey
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Queue{
		opts:     opts,
		handlers: handlers,
		store:    store,
		validate: validator.New(),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		ready:    make(chan string, opts.Concurrency),
	}
}

// Subscribe 注册一个任务状态订阅者。
func (q *Queue) Subscribe(sink EventSink) {
	q.sinkMu.Lock()
	defer q.sinkMu.Unlock()
	q.sinks = append(q.sinks, sink)
}

// Load 从存储中恢复快照，应在 Start 之前调用。处于 processing 的任务会被重置为 pending。
func (q *Queue) Load(ctx context.Context) error {
	raw, ok, err := q.store.Get(ctx, q.opts.SnapshotKey)
	if err != nil {
		return fmt.Errorf("读取队列快照失败: %w", err)
	}
	if !ok || raw == "" {
		log.Infof("[TaskQueue] 未找到队列快照, key: %s", q.opts.SnapshotKey)
		return nil
	}

	var loaded []*Task
	if err := json.Unmarshal([]byte(raw), &loaded); err != nil {
		return fmt.Errorf("解析队列快照失败: %w", err)
	}
	tasks := make([]*Task, 0, len(loaded))
	reset := 0
	for _, t := range loaded {
		if t == nil {
			continue
		}
		if t.Status == StatusProcessing {
			t.Status = StatusPending
			t.StartedAt = nil
			reset++
		}
		tasks = append(tasks, t)
	}

	q.mu.Lock()
	q.tasks = tasks
	q.persistLocked()
	q.mu.Unlock()
	log.Infof("[TaskQueue] 已恢复 %d 个任务, 其中 %d 个中断的任务重新排队", len(tasks), reset)
	return nil
}

// Start 启动调度协程与 worker，立即返回。
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.wg.Add(1)
	go q.dispatchLoop(ctx)
	q.signal()
	log.Infof("[TaskQueue] 任务队列已启动, 并发数: %d, 最大重试次数: %d", q.opts.Concurrency, q.opts.MaxRetries)
}

// Stop 停止调度并等待 worker 退出，未完成的任务回到 pending 以便下次启动继续执行。
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if t.Status == StatusProcessing {
			t.Status = StatusPending
			t.StartedAt = nil
		}
	}
	q.running = 0
drain:
	for {
		select {
		case <-q.ready:
		default:
			break drain
		}
	}
	q.persistLocked()
	log.Info("[TaskQueue] 任务队列已停止")
}

// AddTask 校验并加入一个任务，返回任务 ID。
func (q *Queue) AddTask(ctx context.Context, spec TaskSpec) (string, error) {
	if spec.Priority == "" {
		spec.Priority = PriorityMedium
	}
	if err := q.validate.StructCtx(ctx, spec); err != nil {
		return "", fmt.Errorf("invalid task spec: %w", err)
	}
	if err := q.validate.StructCtx(ctx, spec.Payload); err != nil {
		return "", fmt.Errorf("invalid %s payload: %w", spec.Payload.taskType(), err)
	}

	t := &Task{
		ID:        uuid.NewString(),
		FileID:    spec.FileID,
		OwnerID:   spec.OwnerID,
		FileName:  spec.FileName,
		FileType:  spec.FileType,
		TaskType:  spec.Payload.taskType(),
		Priority:  spec.Priority,
		Status:    StatusPending,
		CreatedAt: q.now(),
		Payload:   spec.Payload,
		DependsOn: spec.DependsOn,
	}

	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	snap := *t
	q.persistLocked()
	q.mu.Unlock()

	log.Infof("[TaskQueue] 新增任务, id: %s, type: %s, priority: %s, file: %s", t.ID, t.TaskType, t.Priority, t.FileName)
	q.emit(snap)
	q.signal()
	return t.ID, nil
}

// QueueFileProcessing 为一个上传成功的文件播种增强任务：分类任务总会创建，
// 文档与文本类文件额外创建文本抽取和摘要任务，摘要等抽取任务结束后才会被调度。
// 声明类型为空或 application/octet-stream 时按文件后缀还原类型。
func (q *Queue) QueueFileProcessing(ctx context.Context, ref FileRef) ([]string, error) {
	if err := q.validate.StructCtx(ctx, ref); err != nil {
		return nil, fmt.Errorf("invalid file reference: %w", err)
	}
	contentType := validation.ResolveContentType(ref.ContentType, ref.Name)
	base := TaskSpec{
		FileID:   ref.ID,
		OwnerID:  ref.OwnerID,
		FileName: ref.Name,
		FileType: contentType,
	}

	ids := make([]string, 0, 3)
	add := func(priority Priority, payload Payload, dependsOn string) (string, error) {
		spec := base
		spec.Priority = priority
		spec.Payload = payload
		spec.DependsOn = dependsOn
		id, err := q.AddTask(ctx, spec)
		if err != nil {
			return "", err
		}
		ids = append(ids, id)
		return id, nil
	}

	if _, err := add(PriorityHigh, CategorizationPayload{OwnerID: ref.OwnerID, CourseID: ref.CourseID, ContentType: contentType}, ""); err != nil {
		return ids, err
	}
	if !validation.IsDocumentLike(contentType) {
		return ids, nil
	}
	extractID, err := add(PriorityMedium, TextExtractionPayload{ObjectKey: ref.ObjectKey, ContentType: contentType}, "")
	if err != nil {
		return ids, err
	}
	if _, err := add(PriorityLow, SummaryPayload{}, extractID); err != nil {
		return ids, err
	}
	return ids, nil
}

// GetTaskStatus 返回任务的当前快照。
func (q *Queue) GetTaskStatus(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.findLocked(id)
	if t == nil {
		return Task{}, false
	}
	return *t, true
}

// Retry 将一个终态失败的任务重新放回调度池，重试计数清零。
func (q *Queue) Retry(id string) (Task, error) {
	q.mu.Lock()
	t := q.findLocked(id)
	if t == nil {
		q.mu.Unlock()
		return Task{}, ErrTaskNotFound
	}
	if t.Status != StatusFailed {
		snap := *t
		q.mu.Unlock()
		return snap, fmt.Errorf("task %s is %s, only failed tasks can be retried", id, snap.Status)
	}
	t.Status = StatusPending
	t.RetryCount = 0
	t.Error = ""
	t.StartedAt = nil
	t.CompletedAt = nil
	t.NextAttemptAt = nil
	snap := *t
	q.persistLocked()
	q.mu.Unlock()

	q.emit(snap)
	q.signal()
	return snap, nil
}

// Tasks 按入队顺序返回所有任务的快照。
func (q *Queue) Tasks() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, *t)
	}
	return out
}

// Stats 返回各状态的任务数量。
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

// Sweep 删除保留期之外的终态任务，返回删除数量。非终态任务不会被删除。
func (q *Queue) Sweep() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-q.opts.Retention)
	kept := make([]*Task, 0, len(q.tasks))
	removed := 0
	for _, t := range q.tasks {
		if t.Status.Terminal() {
			ref := t.CreatedAt
			if t.CompletedAt != nil {
				ref = *t.CompletedAt
			}
			if ref.Before(cutoff) {
				removed++
				continue
			}
		}
		kept = append(kept, t)
	}
	if removed > 0 {
		q.tasks = kept
		q.persistLocked()
		log.Infof("[TaskQueue] 清理了 %d 个过期任务", removed)
	}
	return removed
}

func (q *Queue) dispatchLoop(ctx context.Context) {
	defer q.wg.Done()
	sweepTicker := jitterbug.New(q.opts.SweepInterval, &jitterbug.Norm{Stdev: 30 * time.Millisecond, Mean: 0})
	defer sweepTicker.Stop()

	for {
		var retryC <-chan time.Time
		if wait := q.dispatch(); wait > 0 {
			retryC = time.After(wait)
		}
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-retryC:
		case <-sweepTicker.C:
			q.Sweep()
		}
	}
}

// dispatch 在并发上限内认领可执行任务，返回最近一个等待重试的任务还需等待的时间，没有则返回 0。
func (q *Queue) dispatch() time.Duration {
	q.mu.Lock()
	now := q.now()
	var claimed []Task
	for q.running < q.opts.Concurrency {
		t := q.nextEligibleLocked(now)
		if t == nil {
			break
		}
		started := now
		t.Status = StatusProcessing
		t.StartedAt = &started
		q.running++
		claimed = append(claimed, *t)
	}
	if len(claimed) > 0 {
		q.persistLocked()
	}
	wait := q.nextRetryLocked(now)
	q.mu.Unlock()

	for _, t := range claimed {
		q.emit(t)
		q.ready <- t.ID
	}
	return wait
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.ready:
			q.run(ctx, id)
		}
	}
}

func (q *Queue) run(ctx context.Context, id string) {
	q.mu.Lock()
	t := q.findLocked(id)
	if t == nil {
		q.running--
		q.mu.Unlock()
		q.signal()
		return
	}
	snap := *t
	q.mu.Unlock()

	log.Infof("[TaskQueue] 开始执行任务, id: %s, type: %s, attempt: %d", snap.ID, snap.TaskType, snap.RetryCount+1)
	start := time.Now()
	result, err := q.execute(ctx, snap)
	if err != nil && ctx.Err() != nil {
		q.requeue(id)
		return
	}
	q.finish(id, result, err, time.Since(start))
}

type outcome struct {
	result interface{}
	err    error
}

// execute 在独立协程中调用处理函数：超时后立即释放并发槽位，处理函数 panic 按失败处理。
func (q *Queue) execute(ctx context.Context, t Task) (interface{}, error) {
	tctx, cancel := context.WithTimeout(ctx, q.opts.TaskTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("[TaskQueue] 任务处理函数 panic, id: %s, panic: %v", t.ID, r)
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		res, err := q.handlers.dispatch(tctx, t)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("task timed out after %s", q.opts.TaskTimeout)
	}
}

func (q *Queue) finish(id string, result interface{}, runErr error, elapsed time.Duration) {
	q.mu.Lock()
	q.running--
	t := q.findLocked(id)
	if t == nil {
		q.mu.Unlock()
		q.signal()
		return
	}

	now := q.now()
	attempt := "success"
	if runErr == nil {
		raw, err := marshalResult(result)
		if err != nil {
			runErr = err
		} else {
			t.Status = StatusCompleted
			t.CompletedAt = &now
			t.Result = raw
			t.Error = ""
			t.NextAttemptAt = nil
		}
	}
	if runErr != nil {
		t.RetryCount++
		t.Error = runErr.Error()
		if t.RetryCount < q.opts.MaxRetries {
			attempt = "retry"
			next := now.Add(q.opts.RetryInterval)
			t.Status = StatusPending
			t.StartedAt = nil
			t.NextAttemptAt = &next
		} else {
			attempt = "failed"
			t.Status = StatusFailed
			t.CompletedAt = &now
			t.NextAttemptAt = nil
		}
	}
	snap := *t
	q.persistLocked()
	q.mu.Unlock()

	metrics.ObserveTaskAttempt(string(snap.TaskType), attempt, elapsed)
	switch attempt {
	case "success":
		log.Infof("[TaskQueue] 任务执行成功, id: %s, type: %s, 耗时: %s", snap.ID, snap.TaskType, elapsed)
	case "retry":
		log.Warnf("[TaskQueue] 任务执行失败, 将重试 (%d/%d), id: %s, error: %s", snap.RetryCount, q.opts.MaxRetries, snap.ID, snap.Error)
	default:
		log.Errorf("[TaskQueue] 任务多次失败(>=%d), 标记为 failed, id: %s, error: %s", q.opts.MaxRetries, snap.ID, snap.Error)
	}
	q.emit(snap)
	q.signal()
}

// requeue 把因关闭而中断的任务放回 pending，不计入重试次数。
func (q *Queue) requeue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running--
	if t := q.findLocked(id); t != nil {
		t.Status = StatusPending
		t.StartedAt = nil
		q.persistLocked()
	}
}

func (q *Queue) nextEligibleLocked(now time.Time) *Task {
	var best *Task
	for _, t := range q.tasks {
		if !t.eligible(now) || q.blockedLocked(t) {
			continue
		}
		if best == nil || t.Priority.rank() < best.Priority.rank() {
			best = t
		}
	}
	return best
}

// blockedLocked 判断前置任务是否仍未结束。前置任务已被清理时视为已结束。
func (q *Queue) blockedLocked(t *Task) bool {
	if t.DependsOn == "" {
		return false
	}
	dep := q.findLocked(t.DependsOn)
	return dep != nil && !dep.Status.Terminal()
}

func (q *Queue) nextRetryLocked(now time.Time) time.Duration {
	if q.running >= q.opts.Concurrency {
		return 0
	}
	var wait time.Duration
	for _, t := range q.tasks {
		if t.Status != StatusPending || t.NextAttemptAt == nil {
			continue
		}
		if d := t.NextAttemptAt.Sub(now); d > 0 && (wait == 0 || d < wait) {
			wait = d
		}
	}
	return wait
}

func (q *Queue) findLocked(id string) *Task {
	for _, t := range q.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (q *Queue) statsLocked() Stats {
	s := Stats{Total: len(q.tasks)}
	for _, t := range q.tasks {
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// persistLocked 把完整快照写入存储并刷新队列指标。写入失败只记录日志。
func (q *Queue) persistLocked() {
	s := q.statsLocked()
	metrics.UpdateQueueTasksMetric(string(StatusPending), s.Pending)
	metrics.UpdateQueueTasksMetric(string(StatusProcessing), s.Processing)
	metrics.UpdateQueueTasksMetric(string(StatusCompleted), s.Completed)
	metrics.UpdateQueueTasksMetric(string(StatusFailed), s.Failed)

	data, err := json.Marshal(q.tasks)
	if err != nil {
		log.Error("[TaskQueue] 序列化队列快照失败", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := q.store.Set(ctx, q.opts.SnapshotKey, string(data)); err != nil {
		log.Error("[TaskQueue] 持久化队列快照失败", err)
	}
}

func (q *Queue) emit(t Task) {
	q.sinkMu.RLock()
	sinks := make([]EventSink, len(q.sinks))
	copy(sinks, q.sinks)
	q.sinkMu.RUnlock()
	for _, s := range sinks {
		s.OnTaskUpdate(t)
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func marshalResult(result interface{}) (json.RawMessage, error) {
	switch r := result.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return r, nil
	default:
		b, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("序列化任务结果失败: %w", err)
		}
		return b, nil
	}
}
