package task

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	xerrors "TaskPulse/internal/errors"
)

// MillisPerHour 是所有工时换算使用的固定常量，不做日历或夏令时修正。
const MillisPerHour = 3600000

// Hours 将时间间隔换算为小时。
func Hours(d time.Duration) float64 {
	return float64(d.Milliseconds()) / MillisPerHour
}

// hoursBetween 按毫秒时间戳换算 to-from 的小时数，跨度超出 time.Duration 范围时也不会饱和。
func hoursBetween(from, to time.Time) float64 {
	return float64(to.UnixMilli()-from.UnixMilli()) / MillisPerHour
}

// StatusCounts 是某个用户任务的状态计数。
type StatusCounts struct {
	Total    int64
	Finished int64
}

// PriorityBucket 汇总了同一优先级下所有 pending 任务的工时。
type PriorityBucket struct {
	Priority    int     `json:"_id" bson:"_id"`
	TimeLapsed  float64 `json:"timeLapsed" bson:"timeLapsed"`
	BalanceTime float64 `json:"balanceTime" bson:"balanceTime"`
}

// StatusShare 是某一状态的数量与占比。
type StatusShare struct {
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// StatusBreakdown 对应仪表盘上的完成/待办占比。
type StatusBreakdown struct {
	Completed StatusShare `json:"completed"`
	Pending   StatusShare `json:"pending"`
}

// Stats 聚合了一个用户在某一时刻的任务统计信息，常用于仪表盘。
type Stats struct {
	TotalTasks             int64            `json:"totalTasks"`
	TaskStatus             StatusBreakdown  `json:"taskStatus"`
	PendingTasksByPriority []PriorityBucket `json:"pendingTasksByPriority"`
	AverageCompletionTime  float64          `json:"averageCompletionTime"`
}

// Aggregator 在每次请求时基于当前时间重新计算统计结果，不做缓存。
type Aggregator struct {
	store Store
	now   func() time.Time
}

// AggregatorOption 配置 Aggregator。
type AggregatorOption func(*Aggregator)

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator 构造统计聚合器。
func NewAggregator(store Store, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{store: store, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Compute 以当前时间计算 owner 的统计信息。
func (a *Aggregator) Compute(ctx context.Context, owner string) (Stats, error) {
	return a.ComputeAt(ctx, owner, a.now())
}

// ComputeAt 以给定时间计算统计信息。三个查询互不依赖，并发执行；
// 任一查询失败则整体失败，不返回部分结果。
func (a *Aggregator) ComputeAt(ctx context.Context, owner string, now time.Time) (Stats, error) {
	if a == nil || a.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	if err := RequireOwner(owner); err != nil {
		return Stats{}, err
	}

	var (
		counts  StatusCounts
		buckets []PriorityBucket
		average float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = a.store.CountByStatus(gctx, owner)
		return err
	})
	g.Go(func() error {
		var err error
		buckets, err = a.store.PendingByPriority(gctx, owner, now)
		return err
	})
	g.Go(func() error {
		var err error
		average, err = a.store.AverageCompletionHours(gctx, owner)
		return err
	})
	if err := g.Wait(); err != nil {
		if _, ok := xerrors.From(err); ok {
			return Stats{}, err
		}
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "计算任务统计失败")
	}

	return buildStats(counts, buckets, average), nil
}

func buildStats(counts StatusCounts, buckets []PriorityBucket, average float64) Stats {
	pending := counts.Total - counts.Finished
	sorted := make([]PriorityBucket, len(buckets))
	copy(sorted, buckets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	return Stats{
		TotalTasks: counts.Total,
		TaskStatus: StatusBreakdown{
			Completed: StatusShare{Count: counts.Finished, Percentage: percentage(counts.Finished, counts.Total)},
			Pending:   StatusShare{Count: pending, Percentage: percentage(pending, counts.Total)},
		},
		PendingTasksByPriority: sorted,
		AverageCompletionTime:  average,
	}
}

func percentage(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// SummarizePending 按优先级累加 pending 任务的已用工时与剩余工时。
// 分组只来自实际出现的优先级，不会为缺失的优先级补零值。
func SummarizePending(tasks []*Task, now time.Time) []PriorityBucket {
	groups := make(map[int]*PriorityBucket)
	for _, t := range tasks {
		if t == nil || t.Status != StatusPending {
			continue
		}
		bucket, ok := groups[t.Priority]
		if !ok {
			bucket = &PriorityBucket{Priority: t.Priority}
			groups[t.Priority] = bucket
		}
		if t.StartTime.Before(now) {
			bucket.TimeLapsed += hoursBetween(t.StartTime, now)
		}
		if t.EndTime.After(now) {
			bucket.BalanceTime += hoursBetween(now, t.EndTime)
		}
	}
	result := make([]PriorityBucket, 0, len(groups))
	for _, bucket := range groups {
		result = append(result, *bucket)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Priority < result[j].Priority })
	return result
}

// AverageCompletion 计算 finished 任务的平均耗时（小时），没有 finished 任务时为 0。
func AverageCompletion(tasks []*Task) float64 {
	var (
		sum   float64
		count int
	)
	for _, t := range tasks {
		if t == nil || t.Status != StatusFinished {
			continue
		}
		sum += hoursBetween(t.StartTime, t.EndTime)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
