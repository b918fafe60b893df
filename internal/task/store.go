package task

import (
	"context"
	"time"
)

// Store 抽象了任务的持久化接口。
//
// 每个方法都以 owner 作为必填参数，实现必须把它作为查询条件，
// 不允许存在跨用户访问的路径。
type Store interface {
	Create(ctx context.Context, owner string, task *Task) error
	Get(ctx context.Context, owner, id string) (*Task, error)
	// Replace 用新的取值覆盖 (id, owner) 对应的任务，未命中时返回 ErrTaskNotFound。
	Replace(ctx context.Context, owner string, task *Task) error
	Delete(ctx context.Context, owner, id string) error
	List(ctx context.Context, owner string, opts ListOptions) (Page, error)

	CountByStatus(ctx context.Context, owner string) (StatusCounts, error)
	PendingByPriority(ctx context.Context, owner string, now time.Time) ([]PriorityBucket, error)
	AverageCompletionHours(ctx context.Context, owner string) (float64, error)

	Close() error
}

// Page 是分页查询的结果。
type Page struct {
	Tasks       []*Task `json:"tasks"`
	Total       int64   `json:"-"`
	TotalPages  int64   `json:"totalPages"`
	CurrentPage int     `json:"currentPage"`
}

// NewPage 根据总数和分页参数计算总页数。
func NewPage(tasks []*Task, total int64, opts ListOptions) Page {
	if tasks == nil {
		tasks = []*Task{}
	}
	return Page{
		Tasks:       tasks,
		Total:       total,
		TotalPages:  totalPages(total, opts.Limit),
		CurrentPage: opts.Page,
	}
}

func totalPages(total int64, limit int) int64 {
	if total <= 0 || limit <= 0 {
		return 0
	}
	l := int64(limit)
	pages := total / l
	if total%l != 0 {
		pages++
	}
	return pages
}
