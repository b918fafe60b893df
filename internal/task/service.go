package task

import (
	"context"
	"log/slog"
	"strings"
	"time"

	xerrors "TaskPulse/internal/errors"
	"TaskPulse/pkg/logger"
)

// Service 负责任务的校验、变更与查询，并在变更成功后发布事件。
type Service struct {
	store      Store
	publisher  Publisher
	aggregator *Aggregator
	now        func() time.Time
}

// ServiceOption 配置 Service。
type ServiceOption func(*Service)

// WithPublisher 设置事件发布器，默认丢弃所有事件。
func WithPublisher(publisher Publisher) ServiceOption {
	return func(s *Service) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

// WithServiceClock 替换时间来源，主要用于测试。
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 构造任务服务。
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, publisher: NopPublisher{}, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.aggregator = NewAggregator(store, WithClock(s.now))
	return s
}

// Create 校验并保存一个新任务，所属用户始终为 owner。
func (s *Service) Create(ctx context.Context, owner string, draft Draft) (*Task, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := RequireOwner(owner); err != nil {
		return nil, err
	}
	status := draft.Status
	if status == "" {
		status = StatusPending
	}
	task := &Task{
		Title:     strings.TrimSpace(draft.Title),
		StartTime: normalizeTime(draft.StartTime),
		EndTime:   normalizeTime(draft.EndTime),
		Priority:  draft.Priority,
		Status:    status,
		Owner:     owner,
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, owner, task); err != nil {
		return nil, storageError(err, "保存任务失败")
	}
	logger.Audit().Info("任务已创建",
		slog.String("task_id", task.ID),
		slog.String("user", owner),
		slog.Int("priority", task.Priority),
	)
	s.publish(ctx, EventTaskCreated, task)
	return task, nil
}

// List 返回 owner 的一页任务。
func (s *Service) List(ctx context.Context, owner string, opts ...ListOption) (Page, error) {
	if err := s.ready(); err != nil {
		return Page{}, err
	}
	options := buildListOptions(opts)
	page, err := s.store.List(ctx, owner, options)
	if err != nil {
		return Page{}, storageError(err, "查询任务失败")
	}
	return page, nil
}

// Update 将部分字段合并到已有任务。状态由 pending 变为 finished 时，
// EndTime 改为当前时间；合并后的记录不满足约束时拒绝更新，存储中的记录保持不变。
func (s *Service) Update(ctx context.Context, owner, id string, patch Patch) (*Task, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	current, err := s.store.Get(ctx, owner, id)
	if err != nil {
		return nil, storageError(err, "读取任务失败")
	}
	if patch.StartTime != nil {
		start := normalizeTime(*patch.StartTime)
		patch.StartTime = &start
	}
	if patch.EndTime != nil {
		end := normalizeTime(*patch.EndTime)
		patch.EndTime = &end
	}

	merged := current.Apply(patch, normalizeTime(s.now()))
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Replace(ctx, owner, &merged); err != nil {
		return nil, storageError(err, "更新任务失败")
	}

	eventType := EventTaskUpdated
	if current.Status == StatusPending && merged.Status == StatusFinished {
		eventType = EventTaskFinished
	}
	logger.Audit().Info("任务已更新",
		slog.String("task_id", merged.ID),
		slog.String("user", owner),
		slog.String("status", string(merged.Status)),
	)
	s.publish(ctx, eventType, &merged)
	return &merged, nil
}

// Delete 删除 owner 的任务，未命中时返回 ErrTaskNotFound。
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, owner, id); err != nil {
		return storageError(err, "删除任务失败")
	}
	logger.Audit().Info("任务已删除", slog.String("task_id", id), slog.String("user", owner))
	s.publish(ctx, EventTaskDeleted, &Task{ID: id, Owner: owner})
	return nil
}

// Stats 以当前时间计算 owner 的统计信息。
func (s *Service) Stats(ctx context.Context, owner string) (Stats, error) {
	if err := s.ready(); err != nil {
		return Stats{}, err
	}
	return s.aggregator.Compute(ctx, owner)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.publisher != nil {
		return s.publisher.Close()
	}
	return nil
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType EventType, task *Task) {
	event := Event{
		Type:       eventType,
		TaskID:     task.ID,
		Owner:      task.Owner,
		OccurredAt: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.L().Warn("发布任务事件失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("event", string(eventType)),
		)
	}
}

// normalizeTime 统一为 UTC 并截断到毫秒，与存储层的精度保持一致。
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}

// storageError 保留已分类的错误，其余错误归为存储失败。
func storageError(err error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}
