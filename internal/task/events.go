package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// EventType 标识任务生命周期中的变化。
type EventType string

const (
	EventTaskCreated  EventType = "task.created"
	EventTaskUpdated  EventType = "task.updated"
	EventTaskFinished EventType = "task.finished"
	EventTaskDeleted  EventType = "task.deleted"
)

// Event 是一次任务变更的通知。
type Event struct {
	Type       EventType `json:"type"`
	TaskID     string    `json:"taskId"`
	Owner      string    `json:"user"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Encode 返回事件的 JSON 编码，供消息中间件使用。
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher 负责投递任务事件。投递是尽力而为的，失败不影响请求结果。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher 丢弃所有事件。
type NopPublisher struct{}

// Publish 实现 Publisher 接口。
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher 接口。
func (NopPublisher) Close() error { return nil }

// MemoryPublisher 使用 channel 缓存事件，主要用于测试。
type MemoryPublisher struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewMemoryPublisher 创建一个内存事件发布器。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 64
	}
	return &MemoryPublisher{ch: make(chan Event, size)}
}

// Publish 将事件写入缓冲区。
func (p *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("事件发布器已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.ch <- event:
		return nil
	}
}

// Events 返回只读事件通道。
func (p *MemoryPublisher) Events() <-chan Event {
	return p.ch
}

// Drain 取出当前缓冲的所有事件。
func (p *MemoryPublisher) Drain() []Event {
	var events []Event
	for {
		select {
		case event, ok := <-p.ch:
			if !ok {
				return events
			}
			events = append(events, event)
		default:
			return events
		}
	}
}

// Close 关闭事件通道。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		close(p.ch)
		p.closed = true
	}
	p.mu.Unlock()
	return nil
}

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*MemoryPublisher)(nil)
)
