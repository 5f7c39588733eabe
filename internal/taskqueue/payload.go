package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Payload 是任务载荷的封闭联合类型，只有本包内的四种载荷实现它。
type Payload interface {
	taskType() TaskType
}

type CategorizationPayload struct {
	OwnerID     uint   `json:"ownerId"`
	CourseID    string `json:"courseId,omitempty"`
	ContentType string `json:"contentType"`
}

type TextExtractionPayload struct {
	ObjectKey   string `json:"objectKey"`
	ContentType string `json:"contentType"`
}

type SummaryPayload struct {
	MaxWords int `json:"maxWords,omitempty" validate:"omitempty,min=20,max=1000"`
}

type TranslationPayload struct {
	TargetLanguage string `json:"targetLanguage" validate:"required"`
}

func (CategorizationPayload) taskType() TaskType { return TaskCategorization }
func (TextExtractionPayload) taskType() TaskType { return TaskTextExtraction }
func (SummaryPayload) taskType() TaskType        { return TaskSummary }
func (TranslationPayload) taskType() TaskType    { return TaskTranslation }

func decodePayload(tt TaskType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	switch tt {
	case TaskCategorization:
		var p CategorizationPayload
		err := json.Unmarshal(raw, &p)
		return p, err
	case TaskTextExtraction:
		var p TextExtractionPayload
		err := json.Unmarshal(raw, &p)
		return p, err
	case TaskSummary:
		var p SummaryPayload
		err := json.Unmarshal(raw, &p)
		return p, err
	case TaskTranslation:
		var p TranslationPayload
		err := json.Unmarshal(raw, &p)
		return p, err
	default:
		return nil, fmt.Errorf("unknown task type %q", tt)
	}
}

// HandlerFunc 处理一种载荷，返回值会被序列化后写入 Task.Result。
type HandlerFunc[P Payload] func(ctx context.Context, t Task, p P) (interface{}, error)

// Handlers 为每种载荷提供一个处理函数。未设置的处理函数视为执行失败。
type Handlers struct {
	Categorization HandlerFunc[CategorizationPayload]
	TextExtraction HandlerFunc[TextExtractionPayload]
	Summary        HandlerFunc[SummaryPayload]
	Translation    HandlerFunc[TranslationPayload]
}

func (h Handlers) dispatch(ctx context.Context, t Task) (interface{}, error) {
	switch p := t.Payload.(type) {
	case CategorizationPayload:
		return call(ctx, t, p, h.Categorization)
	case TextExtractionPayload:
		return call(ctx, t, p, h.TextExtraction)
	case SummaryPayload:
		return call(ctx, t, p, h.Summary)
	case TranslationPayload:
		return call(ctx, t, p, h.Translation)
	default:
		return nil, fmt.Errorf("unsupported payload %T for task %s", t.Payload, t.ID)
	}
}

func call[P Payload](ctx context.Context, t Task, p P, fn HandlerFunc[P]) (interface{}, error) {
	if fn == nil {
		return nil, fmt.Errorf("no handler registered for %s", p.taskType())
	}
	return fn(ctx, t, p)
}
