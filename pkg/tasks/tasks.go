// Package tasks defines the events that are published to Kafka.
package tasks

import "time"

// EventKind 区分事件来源。
type EventKind string

const (
	KindTask     EventKind = "task"
	KindProgress EventKind = "upload_progress"
)

// Event 是写入 Kafka 的统一信封，Task 与 Progress 二选一。
type Event struct {
	Kind       EventKind      `json:"kind"`
	OccurredAt time.Time      `json:"occurred_at"`
	Task       *TaskEvent     `json:"task,omitempty"`
	Progress   *ProgressEvent `json:"progress,omitempty"`
}

// TaskEvent represents a status change of a background enrichment task.
type TaskEvent struct {
	TaskID     string `json:"task_id"`
	FileID     string `json:"file_id"`
	FileName   string `json:"file_name"`
	TaskType   string `json:"task_type"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`
}

// ProgressEvent represents an upload progress snapshot for one local file.
type ProgressEvent struct {
	LocalID  string `json:"local_id"`
	FileName string `json:"file_name"`
	Progress int    `json:"progress"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Key 返回分区键，同一文件的事件落在同一分区以保证顺序。
func (e Event) Key() string {
	switch {
	case e.Task != nil:
		return e.Task.FileID
	case e.Progress != nil:
		return e.Progress.LocalID
	}
	return ""
}
