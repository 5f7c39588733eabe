// Package taskqueue 实现上传后的后台增强任务队列：按优先级调度、失败重试、快照持久化与定期清理。
package taskqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrTaskNotFound 表示队列中不存在该任务。
var ErrTaskNotFound = errors.New("task not found")

type TaskType string

const (
	TaskCategorization TaskType = "categorization"
	TaskTextExtraction TaskType = "text_extraction"
	TaskSummary        TaskType = "summary"
	TaskTranslation    TaskType = "translation"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank 越小越先调度。
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal 表示任务不会再被调度。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task 是队列中的一条增强任务，对外总是以值拷贝的形式返回。
type Task struct {
	ID          string          `json:"id"`
	FileID      string          `json:"fileId"`
	OwnerID     uint            `json:"ownerId,omitempty"`
	FileName    string          `json:"fileName"`
	FileType    string          `json:"fileType"`
	TaskType    TaskType        `json:"taskType"`
	Priority    Priority        `json:"priority"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retryCount"`
	// NextAttemptAt 之前失败的任务不会被再次调度。
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	// DependsOn 指向的任务进入终态之前，本任务不会被调度。
	DependsOn string `json:"dependsOn,omitempty"`

	Payload Payload `json:"-"`
}

type taskAlias Task

// MarshalJSON 把载荷一起写入快照。
func (t Task) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if t.Payload != nil {
		b, err := json.Marshal(t.Payload)
		if err != nil {
			return nil, fmt.Errorf("序列化任务载荷失败: %w", err)
		}
		raw = b
	}
	return json.Marshal(struct {
		taskAlias
		Payload json.RawMessage `json:"payload,omitempty"`
	}{taskAlias(t), raw})
}

// UnmarshalJSON 按 taskType 还原载荷的具体类型。
func (t *Task) UnmarshalJSON(data []byte) error {
	aux := struct {
		*taskAlias
		Payload json.RawMessage `json:"payload"`
	}{taskAlias: (*taskAlias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p, err := decodePayload(t.TaskType, aux.Payload)
	if err != nil {
		return err
	}
	t.Payload = p
	return nil
}

func (t *Task) eligible(now time.Time) bool {
	return t.Status == StatusPending && (t.NextAttemptAt == nil || !now.Before(*t.NextAttemptAt))
}

// Stats 是各状态的任务数量。
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// FileRef 描述一个已经持久化的文件，是队列接收新文件的唯一入口。
type FileRef struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	ContentType string `json:"contentType"`
	OwnerID     uint   `json:"ownerId"`
	CourseID    string `json:"courseId,omitempty"`
	ObjectKey   string `json:"objectKey,omitempty"`
}

// TaskSpec 是 AddTask 的入参，任务类型由载荷决定。
type TaskSpec struct {
	FileID   string `validate:"required"`
	OwnerID  uint
	FileName string `validate:"required"`
	FileType string
	Priority Priority `validate:"omitempty,oneof=high medium low"`
	Payload  Payload  `validate:"required"`
	// DependsOn 为前置任务 ID，可为空。
	DependsOn string
}
