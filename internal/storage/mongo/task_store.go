package mongo

import (
	"context"
	stdErrors "errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	xerrors "TaskPulse/internal/errors"
	"TaskPulse/internal/task"
)

// taskDocument 是 tasks 集合中的文档结构。
type taskDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	Title     string             `bson:"title"`
	StartTime time.Time          `bson:"startTime"`
	EndTime   time.Time          `bson:"endTime"`
	Priority  int                `bson:"priority"`
	Status    string             `bson:"status"`
	User      string             `bson:"user"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

func (d taskDocument) toTask() *task.Task {
	return &task.Task{
		ID:        d.ID.Hex(),
		Title:     d.Title,
		StartTime: d.StartTime.UTC(),
		EndTime:   d.EndTime.UTC(),
		Priority:  d.Priority,
		Status:    task.Status(d.Status),
		Owner:     d.User,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

// TaskStore 实现基于 MongoDB 的任务存储。
type TaskStore struct {
	coll    *mongo.Collection
	client  *mongo.Client
	timeout time.Duration
	now     func() time.Time
}

// NewTaskStore 基于已连接的数据库创建任务存储，Close 时断开客户端。
// timeout 限制单次操作耗时，非正值使用 defaultTimeout。
func NewTaskStore(db *mongo.Database, timeout time.Duration) *TaskStore {
	store := newTaskStore(db.Collection(tasksCollection))
	store.client = db.Client()
	store.timeout = operationTimeout(timeout)
	return store
}

func newTaskStore(coll *mongo.Collection) *TaskStore {
	return &TaskStore{coll: coll, timeout: defaultTimeout, now: time.Now}
}

// Create 实现 task.Store 接口。
func (s *TaskStore) Create(ctx context.Context, owner string, t *task.Task) error {
	if err := task.RequireOwner(owner); err != nil {
		return err
	}
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}

	id := primitive.NewObjectID()
	if t.ID != "" {
		parsed, err := primitive.ObjectIDFromHex(t.ID)
		if err != nil {
			return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 格式不正确")
		}
		id = parsed
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	doc := taskDocument{
		ID:        id,
		Title:     t.Title,
		StartTime: t.StartTime,
		EndTime:   t.EndTime,
		Priority:  t.Priority,
		Status:    string(t.Status),
		User:      owner,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return xerrors.Wrap(xerrors.CodeConflict, err, "任务 ID 已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务失败")
	}

	t.ID = id.Hex()
	t.Owner = owner
	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

// Get 返回属于 owner 的任务，ID 格式非法时视为不存在。
func (s *TaskStore) Get(ctx context.Context, owner, id string) (*task.Task, error) {
	if err := task.RequireOwner(owner); err != nil {
		return nil, err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, task.ErrTaskNotFound
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc taskDocument
	err = s.coll.FindOne(ctx, ownedFilter(owner, oid)).Decode(&doc)
	if err != nil {
		if stdErrors.Is(err, mongo.ErrNoDocuments) {
			return nil, task.ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return doc.toTask(), nil
}

// Replace 覆盖任务的可变字段。
func (s *TaskStore) Replace(ctx context.Context, owner string, t *task.Task) error {
	if err := task.RequireOwner(owner); err != nil {
		return err
	}
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	oid, err := primitive.ObjectIDFromHex(t.ID)
	if err != nil {
		return task.ErrTaskNotFound
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "title", Value: t.Title},
		{Key: "startTime", Value: t.StartTime},
		{Key: "endTime", Value: t.EndTime},
		{Key: "priority", Value: t.Priority},
		{Key: "status", Value: string(t.Status)},
		{Key: "updatedAt", Value: now},
	}}}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	result, err := s.coll.UpdateOne(ctx, ownedFilter(owner, oid), update)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
	}
	if result.MatchedCount == 0 {
		return task.ErrTaskNotFound
	}
	t.Owner = owner
	t.UpdatedAt = now
	return nil
}

// Delete 删除属于 owner 的任务。
func (s *TaskStore) Delete(ctx context.Context, owner, id string) error {
	if err := task.RequireOwner(owner); err != nil {
		return err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return task.ErrTaskNotFound
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	result, err := s.coll.DeleteOne(ctx, ownedFilter(owner, oid))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除任务失败")
	}
	if result.DeletedCount == 0 {
		return task.ErrTaskNotFound
	}
	return nil
}

// List 先统计总数再取出当前页，页码越界时不再查询。
func (s *TaskStore) List(ctx context.Context, owner string, opts task.ListOptions) (task.Page, error) {
	if err := task.RequireOwner(owner); err != nil {
		return task.Page{}, err
	}
	opts = opts.Normalize()
	filter := listFilter(owner, opts)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return task.Page{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计任务失败")
	}
	if opts.Skip() >= total {
		return task.NewPage(nil, total, opts), nil
	}

	cursor, err := s.coll.Find(ctx, filter, findOptions(opts))
	if err != nil {
		return task.Page{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	var docs []taskDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return task.Page{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务列表失败")
	}
	tasks := make([]*task.Task, 0, len(docs))
	for _, doc := range docs {
		tasks = append(tasks, doc.toTask())
	}
	return task.NewPage(tasks, total, opts), nil
}

// CountByStatus 在一次聚合中统计总数与已完成数量。
func (s *TaskStore) CountByStatus(ctx context.Context, owner string) (task.StatusCounts, error) {
	if err := task.RequireOwner(owner); err != nil {
		return task.StatusCounts{}, err
	}
	var rows []struct {
		Total    int64 `bson:"total"`
		Finished int64 `bson:"finished"`
	}
	if err := s.aggregate(ctx, statusCountPipeline(owner), &rows); err != nil {
		return task.StatusCounts{}, err
	}
	if len(rows) == 0 {
		return task.StatusCounts{}, nil
	}
	return task.StatusCounts{Total: rows[0].Total, Finished: rows[0].Finished}, nil
}

// PendingByPriority 按优先级汇总 pending 任务的工时。
func (s *TaskStore) PendingByPriority(ctx context.Context, owner string, now time.Time) ([]task.PriorityBucket, error) {
	if err := task.RequireOwner(owner); err != nil {
		return nil, err
	}
	buckets := []task.PriorityBucket{}
	if err := s.aggregate(ctx, pendingByPriorityPipeline(owner, now), &buckets); err != nil {
		return nil, err
	}
	return buckets, nil
}

// AverageCompletionHours 计算 finished 任务的平均耗时。
func (s *TaskStore) AverageCompletionHours(ctx context.Context, owner string) (float64, error) {
	if err := task.RequireOwner(owner); err != nil {
		return 0, err
	}
	var rows []struct {
		Average float64 `bson:"averageCompletionTime"`
	}
	if err := s.aggregate(ctx, averageCompletionPipeline(owner), &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Average, nil
}

// Close 断开 MongoDB 客户端。
func (s *TaskStore) Close() error {
	if s == nil {
		return nil
	}
	return disconnect(s.client)
}

func (s *TaskStore) aggregate(ctx context.Context, pipeline mongo.Pipeline, out any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行聚合查询失败")
	}
	if err := cursor.All(ctx, out); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取聚合结果失败")
	}
	return nil
}

func (s *TaskStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func ownedFilter(owner string, id primitive.ObjectID) bson.D {
	return bson.D{{Key: "_id", Value: id}, {Key: "user", Value: owner}}
}

func listFilter(owner string, opts task.ListOptions) bson.D {
	filter := bson.D{{Key: "user", Value: owner}}
	if opts.Priority != nil {
		filter = append(filter, bson.E{Key: "priority", Value: *opts.Priority})
	}
	if opts.Status != nil {
		filter = append(filter, bson.E{Key: "status", Value: string(*opts.Status)})
	}
	return filter
}

// findOptions 以 _id 作为次级排序键，保证同值时顺序稳定。
func findOptions(opts task.ListOptions) *options.FindOptions {
	var sort bson.D
	switch opts.SortBy {
	case task.SortByStartTime:
		sort = bson.D{{Key: "startTime", Value: 1}, {Key: "_id", Value: 1}}
	case task.SortByEndTime:
		sort = bson.D{{Key: "endTime", Value: 1}, {Key: "_id", Value: 1}}
	default:
		sort = bson.D{{Key: "_id", Value: 1}}
	}
	return options.Find().
		SetSort(sort).
		SetSkip(opts.Skip()).
		SetLimit(int64(opts.Limit))
}

func statusCountPipeline(owner string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "user", Value: owner}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "finished", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$status", string(task.StatusFinished)}}}, 1, 0,
			}}}}}},
		}}},
	}
}

// pendingByPriorityPipeline 只累加已开始部分与剩余部分，未越过 now 的一侧计为 0。
func pendingByPriorityPipeline(owner string, now time.Time) mongo.Pipeline {
	hoursSince := func(from, to any) bson.D {
		return bson.D{{Key: "$divide", Value: bson.A{
			bson.D{{Key: "$subtract", Value: bson.A{to, from}}}, task.MillisPerHour,
		}}}
	}
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "user", Value: owner},
			{Key: "status", Value: string(task.StatusPending)},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$priority"},
			{Key: "timeLapsed", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$lt", Value: bson.A{"$startTime", now}}}, hoursSince("$startTime", now), 0,
			}}}}}},
			{Key: "balanceTime", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$gt", Value: bson.A{"$endTime", now}}}, hoursSince(now, "$endTime"), 0,
			}}}}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
}

func averageCompletionPipeline(owner string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "user", Value: owner},
			{Key: "status", Value: string(task.StatusFinished)},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "averageCompletionTime", Value: bson.D{{Key: "$avg", Value: bson.D{{Key: "$divide", Value: bson.A{
				bson.D{{Key: "$subtract", Value: bson.A{"$endTime", "$startTime"}}}, task.MillisPerHour,
			}}}}}},
		}}},
	}
}

var _ task.Store = (*TaskStore)(nil)
