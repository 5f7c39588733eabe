package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func okSummary(ctx context.Context, t Task, p SummaryPayload) (interface{}, error) {
	return map[string]string{"summary": "ok"}, nil
}

func startQueue(t *testing.T, opts Options, h Handlers) *Queue {
	t.Helper()
	q := New(opts, NewMemoryStore(), h)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func waitStatus(t *testing.T, q *Queue, id string, want Status) Task {
	t.Helper()
	require.Eventually(t, func() bool {
		task, ok := q.GetTaskStatus(id)
		return ok && task.Status == want
	}, waitFor, tick)
	task, _ := q.GetTaskStatus(id)
	return task
}

func TestQueueFileProcessingSeeding(t *testing.T) {
	q := New(Options{}, nil, Handlers{})
	ctx := context.Background()

	ids, err := q.QueueFileProcessing(ctx, FileRef{ID: "f1", Name: "lecture.pdf", ContentType: "application/pdf", OwnerID: 1, ObjectKey: "uploads/1/x/lecture.pdf"})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	tasks := q.Tasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, TaskCategorization, tasks[0].TaskType)
	assert.Equal(t, PriorityHigh, tasks[0].Priority)
	assert.Equal(t, TaskTextExtraction, tasks[1].TaskType)
	assert.Equal(t, PriorityMedium, tasks[1].Priority)
	assert.Equal(t, TaskSummary, tasks[2].TaskType)
	assert.Equal(t, PriorityLow, tasks[2].Priority)
	assert.Equal(t, tasks[1].ID, tasks[2].DependsOn)
	assert.Empty(t, tasks[1].DependsOn)
	for _, task := range tasks {
		assert.Equal(t, StatusPending, task.Status)
		assert.Equal(t, "f1", task.FileID)
		assert.Equal(t, uint(1), task.OwnerID)
	}

	ids, err = q.QueueFileProcessing(ctx, FileRef{ID: "f2", Name: "diagram.png", ContentType: "image/png"})
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	_, err = q.QueueFileProcessing(ctx, FileRef{Name: "missing-id.pdf"})
	assert.Error(t, err)
}

func TestQueueFileProcessingResolvesGenericContentType(t *testing.T) {
	q := New(Options{}, nil, Handlers{})

	ids, err := q.QueueFileProcessing(context.Background(), FileRef{ID: "f3", Name: "notes.pdf", ContentType: "application/octet-stream"})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	for _, task := range q.Tasks() {
		assert.Equal(t, "application/pdf", task.FileType)
	}
	extract, _ := q.GetTaskStatus(ids[1])
	assert.Equal(t, "application/pdf", extract.Payload.(TextExtractionPayload).ContentType)
}

func TestAddTaskValidation(t *testing.T) {
	q := New(Options{}, nil, Handlers{})
	ctx := context.Background()

	tests := []struct {
		name string
		spec TaskSpec
	}{
		{"missing file id", TaskSpec{FileName: "a.pdf", Payload: SummaryPayload{}}},
		{"missing payload", TaskSpec{FileID: "f", FileName: "a.pdf"}},
		{"bad priority", TaskSpec{FileID: "f", FileName: "a.pdf", Priority: "urgent", Payload: SummaryPayload{}}},
		{"translation without language", TaskSpec{FileID: "f", FileName: "a.pdf", Payload: TranslationPayload{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.AddTask(ctx, tt.spec)
			assert.Error(t, err)
		})
	}
	assert.Empty(t, q.Tasks())

	id, err := q.AddTask(ctx, TaskSpec{FileID: "f", FileName: "a.pdf", Payload: TranslationPayload{TargetLanguage: "fr"}})
	require.NoError(t, err)
	task, ok := q.GetTaskStatus(id)
	require.True(t, ok)
	assert.Equal(t, TaskTranslation, task.TaskType)
	assert.Equal(t, PriorityMedium, task.Priority)
}

func TestPriorityOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(ctx context.Context, task Task, p SummaryPayload) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, task.FileName)
		return nil, nil
	}

	q := New(Options{Concurrency: 1}, nil, Handlers{Summary: record})
	ctx := context.Background()
	for _, s := range []struct {
		name string
		p    Priority
	}{{"low-1", PriorityLow}, {"medium-1", PriorityMedium}, {"high-1", PriorityHigh}, {"high-2", PriorityHigh}, {"medium-2", PriorityMedium}} {
		_, err := q.AddTask(ctx, TaskSpec{FileID: s.name, FileName: s.name, Priority: s.p, Payload: SummaryPayload{}})
		require.NoError(t, err)
	}

	q.Start(ctx)
	t.Cleanup(q.Stop)
	require.Eventually(t, func() bool { return q.Stats().Completed == 5 }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high-1", "high-2", "medium-1", "medium-2", "low-1"}, order)
}

func TestRetryThenFail(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	h := Handlers{Summary: func(ctx context.Context, task Task, p SummaryPayload) (interface{}, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, errors.New("llm unavailable")
	}}
	q := startQueue(t, Options{}, h)

	id, err := q.AddTask(context.Background(), TaskSpec{FileID: "f", FileName: "a.pdf", Payload: SummaryPayload{}})
	require.NoError(t, err)

	task := waitStatus(t, q, id, StatusFailed)
	assert.Equal(t, 3, task.RetryCount)
	assert.Equal(t, "llm unavailable", task.Error)
	assert.NotNil(t, task.CompletedAt)

	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()

	// 终态失败后不会再被调度
	time.Sleep(100 * time.Millisecond)
	task, _ = q.GetTaskStatus(id)
	assert.Equal(t, StatusFailed, task.Status)
	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}

func TestDependentTaskWaitsForPrerequisite(t *testing.T) {
	var mu sync.Mutex
	extracted := false
	summaryCalls := 0
	h := Handlers{
		TextExtraction: func(ctx context.Context, task Task, p TextExtractionPayload) (interface{}, error) {
			time.Sleep(300 * time.Millisecond)
			mu.Lock()
			extracted = true
			mu.Unlock()
			return nil, nil
		},
		Summary: func(ctx context.Context, task Task, p SummaryPayload) (interface{}, error) {
			mu.Lock()
			defer mu.Unlock()
			summaryCalls++
			if !extracted {
				return nil, errors.New("text not ready")
			}
			return map[string]string{"summary": "ok"}, nil
		},
		Categorization: func(ctx context.Context, task Task, p CategorizationPayload) (interface{}, error) {
			return nil, nil
		},
	}
	q := startQueue(t, Options{RetryInterval: 20 * time.Millisecond}, h)

	ids, err := q.QueueFileProcessing(context.Background(), FileRef{ID: "f", Name: "lecture.pdf", ContentType: "application/pdf"})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	summary := waitStatus(t, q, ids[2], StatusCompleted)
	assert.Zero(t, summary.RetryCount)
	extraction, _ := q.GetTaskStatus(ids[1])
	assert.Equal(t, StatusCompleted, extraction.Status)
	require.NotNil(t, summary.StartedAt)
	assert.False(t, summary.StartedAt.Before(*extraction.CompletedAt))

	mu.Lock()
	assert.Equal(t, 1, summaryCalls)
	mu.Unlock()
}

func TestDependentTaskRunsAfterPrerequisiteFails(t *testing.T) {
	h := Handlers{
		TextExtraction: func(ctx context.Context, task Task, p TextExtractionPayload) (interface{}, error) {
			return nil, errors.New("tika down")
		},
		Summary: okSummary,
	}
	q := startQueue(t, Options{}, h)
	ctx := context.Background()

	extractID, err := q.AddTask(ctx, TaskSpec{FileID: "f", FileName: "a.pdf", Payload: TextExtractionPayload{}})
	require.NoError(t, err)
	summaryID, err := q.AddTask(ctx, TaskSpec{FileID: "f", FileName: "a.pdf", Priority: PriorityLow, Payload: SummaryPayload{}, DependsOn: extractID})
	require.NoError(t, err)

	waitStatus(t, q, extractID, StatusFailed)
	waitStatus(t, q, summaryID, StatusCompleted)
}

type deadlineStore struct {
	*MemoryStore
	mu          sync.Mutex
	hadDeadline bool
}

func (s *deadlineStore) Set(ctx context.Context, key, value string) error {
	_, ok := ctx.Deadline()
	s.mu.Lock()
	s.hadDeadline = ok
	s.mu.Unlock()
	return s.MemoryStore.Set(ctx, key, value)
}

func TestPersistUsesBoundedContext(t *testing.T) {
	store := &deadlineStore{MemoryStore: NewMemoryStore()}
	q := New(Options{}, store, Handlers{})

	_, err := q.AddTask(context.Background(), TaskSpec{FileID: "f", FileName: "a.pdf", Payload: SummaryPayload{}})
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.True(t, store.hadDeadline)
}

func TestRetryThenSucceed(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	h := Handlers{Categorization: func(ctx context.Context, task Task, p CategorizationPayload) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return json.RawMessage(`{"category":"lecture"}`), nil
	}}
	q := startQueue(t, Options{}, h)

	id, err := q.AddTask(context.Background(), TaskSpec{FileID: "f", FileName: "a.pdf", Priority: PriorityHigh, Payload: CategorizationPayload{}})
	require.NoError(t, err)

	task := waitStatus(t, q, id, StatusCompleted)
	assert.Equal(t, 2, task.RetryCount)
	assert.Empty(t, task.Error)
	assert.JSONEq(t, `{"category":"lecture"}`, string(task.Result))
}

func TestRetryIntervalDefersTask(t *testing.T) {
	q := New(Options{RetryInterval: time.Hour}, nil, Handlers{})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(30 * time.Minute)
	pending := &Task{ID: "a", Status: StatusPending, NextAttemptAt: &later}

	assert.False(t, pending.eligible(now))
	assert.True(t, pending.eligible(later))

	q.tasks = []*Task{pending}
	assert.Nil(t, q.nextEligibleLocked(now))
	assert.Equal(t, 30*time.Minute, q.nextRetryLocked(now))
}

func TestTimeoutFreesSlot(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	h := Handlers{
		// 忽略 ctx 的处理函数
		Translation: func(ctx context.Context, task Task, p TranslationPayload) (interface{}, error) {
			<-release
			return nil, nil
		},
		Summary: okSummary,
	}
	q := startQueue(t, Options{Concurrency: 1, MaxRetries: 1, TaskTimeout: 50 * time.Millisecond}, h)
	ctx := context.Background()

	stuck, err := q.AddTask(ctx, TaskSpec{FileID: "f", FileName: "stuck.pdf", Priority: PriorityHigh, Payload: TranslationPayload{TargetLanguage: "de"}})
	require.NoError(t, err)
	quick, err := q.AddTask(ctx, TaskSpec{FileID: "f", FileName: "quick.pdf", Priority: PriorityLow, Payload: SummaryPayload{}})
	require.NoError(t, err)

	task := waitStatus(t, q, stuck, StatusFailed)
	assert.Contains(t, task.Error, "timed out")
	waitStatus(t, q, quick, StatusCompleted)
}

func TestPanicAndMissingHandlerAreFailures(t *testing.T) {
	h := Handlers{Summary: func(ctx context.Context, task Task, p SummaryPayload) (interface{}, error) {
		panic("boom")
	}}
	q := startQueue(t, Options{MaxRetries: 1}, h)
	ctx := context.Background()

	panicked, err := q.AddTask(ctx, TaskSpec{FileID: "f", FileName: "a.pdf", Payload: SummaryPayload{}})
	require.NoError(t, err)
	unhandled, err := q.AddTask(ctx, TaskSpec{FileID: "f", FileName: "a.pdf", Payload: TextExtractionPayload{ObjectKey: "k"}})
	require.NoError(t, err)

	task := waitStatus(t, q, panicked, StatusFailed)
	assert.Contains(t, task.Error, "handler panic: boom")
	task = waitStatus(t, q, unhandled, StatusFailed)
	assert.Contains(t, task.Error, "no handler registered for text_extraction")

	// 调度循环在失败后仍然继续工作
	h2, err := q.AddTask(ctx, TaskSpec{FileID: "f", FileName: "b.pdf", Payload: CategorizationPayload{}})
	require.NoError(t, err)
	waitStatus(t, q, h2, StatusFailed)
}

func TestPersistAndRestore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	q1 := New(Options{SnapshotKey: "test:queue"}, store, Handlers{})

	first, err := q1.AddTask(ctx, TaskSpec{FileID: "f1", FileName: "a.pdf", Payload: TranslationPayload{TargetLanguage: "fr"}})
	require.NoError(t, err)
	second, err := q1.AddTask(ctx, TaskSpec{FileID: "f2", FileName: "b.pdf", Priority: PriorityHigh, Payload: CategorizationPayload{OwnerID: 7, CourseID: "c1"}})
	require.NoError(t, err)

	// 模拟进程在任务执行中退出
	q1.mu.Lock()
	started := time.Now()
	q1.tasks[0].Status = StatusProcessing
	q1.tasks[0].StartedAt = &started
	q1.persistLocked()
	q1.mu.Unlock()

	raw, ok, err := store.Get(ctx, "test:queue")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"targetLanguage":"fr"`)

	q2 := New(Options{SnapshotKey: "test:queue"}, store, Handlers{})
	require.NoError(t, q2.Load(ctx))

	tasks := q2.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, first, tasks[0].ID)
	assert.Equal(t, StatusPending, tasks[0].Status)
	assert.Nil(t, tasks[0].StartedAt)
	assert.Equal(t, TranslationPayload{TargetLanguage: "fr"}, tasks[0].Payload)

	orig, _ := q1.GetTaskStatus(second)
	assert.Equal(t, second, tasks[1].ID)
	assert.True(t, orig.CreatedAt.Equal(tasks[1].CreatedAt))
	assert.Equal(t, CategorizationPayload{OwnerID: 7, CourseID: "c1"}, tasks[1].Payload)
}

func TestLoadEmptyAndCorrupt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	q := New(Options{}, store, Handlers{})
	require.NoError(t, q.Load(ctx))
	assert.Empty(t, q.Tasks())

	require.NoError(t, store.Set(ctx, DefaultSnapshotKey, "{not json"))
	assert.Error(t, q.Load(ctx))
}

func TestSweepRemovesOnlyExpiredTerminalTasks(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := New(Options{}, nil, Handlers{})
	q.now = func() time.Time { return now }

	old := now.Add(-25 * time.Hour)
	recent := now.Add(-1 * time.Hour)
	q.tasks = []*Task{
		{ID: "old-completed", Status: StatusCompleted, CreatedAt: old, CompletedAt: &old},
		{ID: "recent-failed", Status: StatusFailed, CreatedAt: old, CompletedAt: &recent},
		{ID: "old-pending", Status: StatusPending, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "old-failed-no-completion", Status: StatusFailed, CreatedAt: old},
	}

	assert.Equal(t, 2, q.Sweep())
	var ids []string
	for _, task := range q.Tasks() {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"recent-failed", "old-pending"}, ids)
	assert.Equal(t, 0, q.Sweep())
}

func TestEventSinkAndStats(t *testing.T) {
	var mu sync.Mutex
	var seen []Status
	q := New(Options{}, nil, Handlers{Summary: okSummary})
	q.Subscribe(EventSinkFunc(func(task Task) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, task.Status)
	}))

	id, err := q.AddTask(context.Background(), TaskSpec{FileID: "f", FileName: "a.pdf", Payload: SummaryPayload{}})
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Pending: 1}, q.Stats())

	q.Start(context.Background())
	t.Cleanup(q.Stop)
	waitStatus(t, q, id, StatusCompleted)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, waitFor, tick)
	mu.Lock()
	assert.Equal(t, []Status{StatusPending, StatusProcessing, StatusCompleted}, seen)
	mu.Unlock()
	assert.Equal(t, Stats{Total: 1, Completed: 1}, q.Stats())
}

func TestRetryFailedTask(t *testing.T) {
	q := New(Options{}, nil, Handlers{})
	_, err := q.Retry("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	id, err := q.AddTask(context.Background(), TaskSpec{FileID: "f", FileName: "a.pdf", Payload: SummaryPayload{}})
	require.NoError(t, err)
	_, err = q.Retry(id)
	assert.Error(t, err)

	q.mu.Lock()
	q.tasks[0].Status = StatusFailed
	q.tasks[0].RetryCount = 3
	q.tasks[0].Error = "boom"
	q.mu.Unlock()

	task, err := q.Retry(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)
	assert.Zero(t, task.RetryCount)
	assert.Empty(t, task.Error)
}

func TestStopRequeuesInFlightTask(t *testing.T) {
	started := make(chan struct{})
	h := Handlers{Summary: func(ctx context.Context, task Task, p SummaryPayload) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	q := New(Options{}, nil, h)
	id, err := q.AddTask(context.Background(), TaskSpec{FileID: "f", FileName: "a.pdf", Payload: SummaryPayload{}})
	require.NoError(t, err)

	q.Start(context.Background())
	<-started
	q.Stop()

	task, ok := q.GetTaskStatus(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, task.Status)
	assert.Zero(t, task.RetryCount)
	assert.Nil(t, task.StartedAt)
}
