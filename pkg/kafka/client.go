// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"course-intake/internal/config"
	"course-intake/internal/model"
	"course-intake/internal/taskqueue"
	"course-intake/pkg/log"
	"course-intake/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// ErrDisabled 表示没有配置 broker。
var ErrDisabled = errors.New("kafka is not configured")

// EventPublisher 把任务状态变化和上传进度写入 Kafka。未配置 broker 时所有方法都是空操作。
type EventPublisher struct {
	writer *kafka.Writer
	now    func() time.Time
}

// NewEventPublisher 初始化 Kafka 生产者。
func NewEventPublisher(cfg config.KafkaConfig) *EventPublisher {
	p := &EventPublisher{now: time.Now}
	if cfg.Brokers == "" {
		log.Info("[Kafka] 未配置 broker，事件发布已关闭")
		return p
	}
	p.writer = &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
		// 异步写入，队列的事件回调不能被网络阻塞
		Async: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Errorf("[Kafka] 发送 %d 条事件失败: %v", len(messages), err)
			}
		},
	}
	log.Infof("[Kafka] 生产者初始化成功, topic: %s", cfg.Topic)
	return p
}

// Enabled 报告是否配置了 broker。
func (p *EventPublisher) Enabled() bool {
	return p != nil && p.writer != nil
}

// Publish 发送一个事件。
func (p *EventPublisher) Publish(ctx context.Context, ev tasks.Event) error {
	if !p.Enabled() {
		return ErrDisabled
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.now()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Key()),
		Value: value,
	})
}

// OnTaskUpdate 实现 taskqueue.EventSink。
func (p *EventPublisher) OnTaskUpdate(t taskqueue.Task) {
	if !p.Enabled() {
		return
	}
	if err := p.Publish(context.Background(), TaskEventFrom(t)); err != nil {
		log.Errorf("[Kafka] 发布任务事件失败, taskID: %s, error: %v", t.ID, err)
	}
}

// OnProgress 作为 ProgressTracker 的订阅者，只发布发生变化的终态条目以控制消息量。
func (p *EventPublisher) OnProgress(snapshot []model.UploadProgress) {
	if !p.Enabled() {
		return
	}
	for _, e := range snapshot {
		if e.Status != model.UploadCompleted && e.Status != model.UploadError {
			continue
		}
		if err := p.Publish(context.Background(), ProgressEventFrom(e)); err != nil {
			log.Errorf("[Kafka] 发布上传进度事件失败, fileID: %s, error: %v", e.FileID, err)
		}
	}
}

// Close 刷新缓冲区并关闭生产者。
func (p *EventPublisher) Close() error {
	if !p.Enabled() {
		return nil
	}
	return p.writer.Close()
}

// TaskEventFrom 把任务快照转换为事件。
func TaskEventFrom(t taskqueue.Task) tasks.Event {
	return tasks.Event{
		Kind: tasks.KindTask,
		Task: &tasks.TaskEvent{
			TaskID:     t.ID,
			FileID:     t.FileID,
			FileName:   t.FileName,
			TaskType:   string(t.TaskType),
			Status:     string(t.Status),
			RetryCount: t.RetryCount,
			Error:      t.Error,
		},
	}
}

// ProgressEventFrom 把进度条目转换为事件。
func ProgressEventFrom(e model.UploadProgress) tasks.Event {
	return tasks.Event{
		Kind:       tasks.KindProgress,
		OccurredAt: e.UpdatedAt,
		Progress: &tasks.ProgressEvent{
			LocalID:  e.FileID,
			FileName: e.FileName,
			Progress: e.Progress,
			Status:   string(e.Status),
			Error:    e.Error,
		},
	}
}

// Consume 启动一个 Kafka 消费者，逐条把事件交给 fn 处理，直到 ctx 结束。
// fn 返回错误时不提交 offset，消息会在下次启动时重新投递。
func Consume(ctx context.Context, cfg config.KafkaConfig, groupID string, fn func(tasks.Event) error) error {
	if cfg.Brokers == "" {
		return ErrDisabled
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("[Kafka] 关闭消费者失败: %v", err)
		}
	}()

	log.Infof("[Kafka] 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("[Kafka] 读取消息失败", err)
			return err
		}

		var ev tasks.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Errorf("[Kafka] 无法解析消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("[Kafka] 提交错误消息失败: %v", err)
			}
			continue
		}

		if err := fn(ev); err != nil {
			log.Errorf("[Kafka] 处理事件失败, offset: %d, error: %v", m.Offset, err)
			continue
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("[Kafka] 提交消息 offset 失败: %v", err)
		}
	}
}
