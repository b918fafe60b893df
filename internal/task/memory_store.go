package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "TaskPulse/internal/errors"
)

// MemoryStore 以内存方式保存任务，主要用于开发与测试。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	// order 记录插入顺序，作为未指定排序时的自然顺序。
	order []string
	now   func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, owner string, task *Task) error {
	if err := RequireOwner(owner); err != nil {
		return err
	}
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if _, ok := m.tasks[task.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "任务 ID 已存在")
	}
	now := m.now().UTC()
	task.Owner = owner
	task.CreatedAt = now
	task.UpdatedAt = now
	m.tasks[task.ID] = task.Clone()
	m.order = append(m.order, task.ID)
	return nil
}

// Get 返回属于 owner 的任务。
func (m *MemoryStore) Get(_ context.Context, owner, id string) (*Task, error) {
	if err := RequireOwner(owner); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok || task.Owner != owner {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

// Replace 覆盖已有任务的可变字段。
func (m *MemoryStore) Replace(_ context.Context, owner string, task *Task) error {
	if err := RequireOwner(owner); err != nil {
		return err
	}
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tasks[task.ID]
	if !ok || stored.Owner != owner {
		return ErrTaskNotFound
	}
	stored.Title = task.Title
	stored.StartTime = task.StartTime
	stored.EndTime = task.EndTime
	stored.Priority = task.Priority
	stored.Status = task.Status
	stored.UpdatedAt = m.now().UTC()

	task.Owner = stored.Owner
	task.CreatedAt = stored.CreatedAt
	task.UpdatedAt = stored.UpdatedAt
	return nil
}

// Delete 删除属于 owner 的任务。
func (m *MemoryStore) Delete(_ context.Context, owner, id string) error {
	if err := RequireOwner(owner); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok || task.Owner != owner {
		return ErrTaskNotFound
	}
	delete(m.tasks, id)
	for i, candidate := range m.order {
		if candidate == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// List 返回符合过滤条件的一页任务。
func (m *MemoryStore) List(_ context.Context, owner string, opts ListOptions) (Page, error) {
	if err := RequireOwner(owner); err != nil {
		return Page{}, err
	}
	opts.applyDefaults()

	matched := m.ownedTasks(owner, func(task *Task) bool {
		return matchesListFilters(task, opts)
	})

	switch opts.SortBy {
	case SortByStartTime:
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].StartTime.Before(matched[j].StartTime) })
	case SortByEndTime:
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].EndTime.Before(matched[j].EndTime) })
	}

	total := int64(len(matched))
	skip := opts.Skip()
	if skip >= total {
		return NewPage(nil, total, opts), nil
	}
	return NewPage(matched[skip:skip+opts.PageLen(total)], total, opts), nil
}

// CountByStatus 统计任务总数与已完成数量。
func (m *MemoryStore) CountByStatus(_ context.Context, owner string) (StatusCounts, error) {
	if err := RequireOwner(owner); err != nil {
		return StatusCounts{}, err
	}
	var counts StatusCounts
	for _, task := range m.ownedTasks(owner, nil) {
		counts.Total++
		if task.Status == StatusFinished {
			counts.Finished++
		}
	}
	return counts, nil
}

// PendingByPriority 按优先级汇总 pending 任务的工时。
func (m *MemoryStore) PendingByPriority(_ context.Context, owner string, now time.Time) ([]PriorityBucket, error) {
	if err := RequireOwner(owner); err != nil {
		return nil, err
	}
	return SummarizePending(m.ownedTasks(owner, nil), now), nil
}

// AverageCompletionHours 计算 finished 任务的平均耗时。
func (m *MemoryStore) AverageCompletionHours(_ context.Context, owner string) (float64, error) {
	if err := RequireOwner(owner); err != nil {
		return 0, err
	}
	return AverageCompletion(m.ownedTasks(owner, nil)), nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ownedTasks 按插入顺序返回 owner 的任务副本。
func (m *MemoryStore) ownedTasks(owner string, keep func(*Task) bool) []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Task, 0, len(m.order))
	for _, id := range m.order {
		task := m.tasks[id]
		if task == nil || task.Owner != owner {
			continue
		}
		if keep != nil && !keep(task) {
			continue
		}
		result = append(result, task.Clone())
	}
	return result
}

func matchesListFilters(task *Task, opts ListOptions) bool {
	if opts.Priority != nil && task.Priority != *opts.Priority {
		return false
	}
	if opts.Status != nil && task.Status != *opts.Status {
		return false
	}
	return true
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
