package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	xerrors "TaskPulse/internal/errors"
	"TaskPulse/internal/task"
)

const mysqlErrDuplicateEntry = 1062

const taskColumns = `id, user_id, title, start_time, end_time, priority, status, created_at, updated_at`

// TaskStore 使用 MySQL 保存任务。
type TaskStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewTaskStore 基于已迁移的连接池创建任务存储。
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db, now: time.Now}
}

// Create 插入新的任务记录。
func (s *TaskStore) Create(ctx context.Context, owner string, t *task.Task) error {
	if err := task.RequireOwner(owner); err != nil {
		return err
	}
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	t.Owner = owner
	t.CreatedAt = now
	t.UpdatedAt = now

	const stmt = `INSERT INTO tasks (` + taskColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		t.ID,
		owner,
		t.Title,
		toMillis(t.StartTime),
		toMillis(t.EndTime),
		t.Priority,
		string(t.Status),
		toMillis(t.CreatedAt),
		toMillis(t.UpdatedAt),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return xerrors.Wrap(xerrors.CodeConflict, err, "任务 ID 已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询属于 owner 的任务。
func (s *TaskStore) Get(ctx context.Context, owner, id string) (*task.Task, error) {
	if err := task.RequireOwner(owner); err != nil {
		return nil, err
	}
	const stmt = `SELECT ` + taskColumns + ` FROM tasks WHERE id = ? AND user_id = ?`
	t, err := scanTask(s.db.QueryRowContext(ctx, stmt, id, owner))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, task.ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return t, nil
}

// Replace 覆盖任务的可变字段。
func (s *TaskStore) Replace(ctx context.Context, owner string, t *task.Task) error {
	if err := task.RequireOwner(owner); err != nil {
		return err
	}
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	t.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)

	const stmt = `UPDATE tasks SET title = ?, start_time = ?, end_time = ?, priority = ?, status = ?, updated_at = ?
        WHERE id = ? AND user_id = ?`
	res, err := s.db.ExecContext(ctx, stmt,
		t.Title,
		toMillis(t.StartTime),
		toMillis(t.EndTime),
		t.Priority,
		string(t.Status),
		toMillis(t.UpdatedAt),
		t.ID,
		owner,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取影响行数失败")
	}
	if rows == 0 {
		return task.ErrTaskNotFound
	}
	t.Owner = owner
	return nil
}

// Delete 删除属于 owner 的任务。
func (s *TaskStore) Delete(ctx context.Context, owner, id string) error {
	if err := task.RequireOwner(owner); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, owner)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除任务失败")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取影响行数失败")
	}
	if rows == 0 {
		return task.ErrTaskNotFound
	}
	return nil
}

// List 返回符合过滤条件的一页任务。
func (s *TaskStore) List(ctx context.Context, owner string, opts task.ListOptions) (task.Page, error) {
	if err := task.RequireOwner(owner); err != nil {
		return task.Page{}, err
	}
	opts = opts.Normalize()

	clause, args := buildFilterClause(owner, opts)

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE `+clause, args...).Scan(&total); err != nil {
		return task.Page{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计任务数量失败")
	}
	if opts.Skip() >= total {
		return task.NewPage(nil, total, opts), nil
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + clause + orderClause(opts.SortBy) + ` LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Skip())...)
	if err != nil {
		return task.Page{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	tasks := make([]*task.Task, 0, opts.PageLen(total))
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return task.Page{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return task.Page{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return task.NewPage(tasks, total, opts), nil
}

// CountByStatus 统计任务总数与已完成数量。
func (s *TaskStore) CountByStatus(ctx context.Context, owner string) (task.StatusCounts, error) {
	if err := task.RequireOwner(owner); err != nil {
		return task.StatusCounts{}, err
	}
	const stmt = `SELECT COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS finished
        FROM tasks WHERE user_id = ?`
	var counts task.StatusCounts
	if err := s.db.QueryRowContext(ctx, stmt, string(task.StatusFinished), owner).Scan(&counts.Total, &counts.Finished); err != nil {
		return task.StatusCounts{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计任务状态失败")
	}
	return counts, nil
}

// PendingByPriority 按优先级汇总 pending 任务的已用与剩余毫秒数，再换算为小时。
func (s *TaskStore) PendingByPriority(ctx context.Context, owner string, now time.Time) ([]task.PriorityBucket, error) {
	if err := task.RequireOwner(owner); err != nil {
		return nil, err
	}
	const stmt = `SELECT priority,
        COALESCE(SUM(CASE WHEN start_time < ? THEN ? - start_time ELSE 0 END), 0) AS time_lapsed,
        COALESCE(SUM(CASE WHEN end_time > ? THEN end_time - ? ELSE 0 END), 0) AS balance_time
        FROM tasks WHERE user_id = ? AND status = ?
        GROUP BY priority ORDER BY priority ASC`
	nowMillis := toMillis(now)
	rows, err := s.db.QueryContext(ctx, stmt, nowMillis, nowMillis, nowMillis, nowMillis, owner, string(task.StatusPending))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "汇总 pending 任务失败")
	}
	defer rows.Close()

	buckets := make([]task.PriorityBucket, 0, task.MaxPriority)
	for rows.Next() {
		var (
			priority        int
			lapsed, balance int64
		)
		if err := rows.Scan(&priority, &lapsed, &balance); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 pending 汇总失败")
		}
		buckets = append(buckets, task.PriorityBucket{
			Priority:    priority,
			TimeLapsed:  float64(lapsed) / task.MillisPerHour,
			BalanceTime: float64(balance) / task.MillisPerHour,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 pending 汇总失败")
	}
	return buckets, nil
}

// AverageCompletionHours 计算 finished 任务的平均耗时。
func (s *TaskStore) AverageCompletionHours(ctx context.Context, owner string) (float64, error) {
	if err := task.RequireOwner(owner); err != nil {
		return 0, err
	}
	const stmt = `SELECT COALESCE(AVG(end_time - start_time), 0) FROM tasks WHERE user_id = ? AND status = ?`
	var avgMillis float64
	if err := s.db.QueryRowContext(ctx, stmt, owner, string(task.StatusFinished)).Scan(&avgMillis); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "计算平均完成时间失败")
	}
	return avgMillis / task.MillisPerHour, nil
}

// Close 关闭底层数据库连接。
func (s *TaskStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t                    task.Task
		status               string
		start, end           int64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&t.ID, &t.Owner, &t.Title, &start, &end, &t.Priority, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	t.StartTime = fromMillis(start)
	t.EndTime = fromMillis(end)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

func buildFilterClause(owner string, opts task.ListOptions) (string, []any) {
	conditions := []string{"user_id = ?"}
	args := []any{owner}
	if opts.Priority != nil {
		conditions = append(conditions, "priority = ?")
		args = append(args, *opts.Priority)
	}
	if opts.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*opts.Status))
	}
	return strings.Join(conditions, " AND "), args
}

// orderClause 以 seq 作为自然顺序及排序的次级键，保证分页稳定。
func orderClause(field task.SortField) string {
	switch field {
	case task.SortByStartTime:
		return " ORDER BY start_time ASC, seq ASC"
	case task.SortByEndTime:
		return " ORDER BY end_time ASC, seq ASC"
	default:
		return " ORDER BY seq ASC"
	}
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var _ task.Store = (*TaskStore)(nil)
