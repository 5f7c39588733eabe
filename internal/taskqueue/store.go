package taskqueue

import (
	"context"
	"sync"
)

// Store 是保存队列快照的键值存储。Get 在键不存在时返回 ok=false。
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// MemoryStore 是进程内的 Store 实现，用于测试和未配置 Redis 的 CLI 场景。
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// EventSink 接收任务状态变化后的快照。实现不能阻塞太久，调用发生在队列的调度路径上。
type EventSink interface {
	OnTaskUpdate(t Task)
}

// EventSinkFunc 让普通函数满足 EventSink。
type EventSinkFunc func(t Task)

func (f EventSinkFunc) OnTaskUpdate(t Task) { f(t) }
