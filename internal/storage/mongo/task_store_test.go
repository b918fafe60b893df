package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"TaskPulse/internal/auth"
	xerrors "TaskPulse/internal/errors"
	"TaskPulse/internal/task"
)

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func namespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func newMockTaskStore(mt *mtest.T) *TaskStore {
	store := newTaskStore(mt.Coll)
	store.now = fixedNow
	return store
}

func taskDoc(id primitive.ObjectID, owner string, priority int, status string) bson.D {
	start := fixedNow().Add(-2 * time.Hour)
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "title", Value: "task-" + id.Hex()},
		{Key: "startTime", Value: start},
		{Key: "endTime", Value: start.Add(4 * time.Hour)},
		{Key: "priority", Value: priority},
		{Key: "status", Value: status},
		{Key: "user", Value: owner},
		{Key: "createdAt", Value: start},
		{Key: "updatedAt", Value: start},
	}
}

func TestTaskStoreWithMockDeployment(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("create assigns object id", func(mt *mtest.T) {
		store := newMockTaskStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		record := &task.Task{Title: "write", StartTime: fixedNow(), EndTime: fixedNow().Add(time.Hour), Priority: 2, Status: task.StatusPending}
		require.NoError(mt, store.Create(context.Background(), "alice", record))
		_, err := primitive.ObjectIDFromHex(record.ID)
		assert.NoError(mt, err)
		assert.Equal(mt, "alice", record.Owner)
		assert.True(mt, record.CreatedAt.Equal(fixedNow()))
	})

	mt.Run("create maps duplicate key to conflict", func(mt *mtest.T) {
		store := newMockTaskStore(mt)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key error"}))

		err := store.Create(context.Background(), "alice", &task.Task{ID: primitive.NewObjectID().Hex(), Title: "x"})
		assert.Equal(mt, xerrors.CodeConflict, xerrors.CodeOf(err))
	})

	mt.Run("get decodes document", func(mt *mtest.T) {
		store := newMockTaskStore(mt)
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, taskDoc(id, "alice", 3, "pending")))

		got, err := store.Get(context.Background(), "alice", id.Hex())
		require.NoError(mt, err)
		assert.Equal(mt, id.Hex(), got.ID)
		assert.Equal(mt, 3, got.Priority)
		assert.Equal(mt, task.StatusPending, got.Status)
		assert.Equal(mt, time.UTC, got.StartTime.Location())
	})

	mt.Run("get miss returns not found", func(mt *mtest.T) {
		store := newMockTaskStore(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		_, err := store.Get(context.Background(), "alice", primitive.NewObjectID().Hex())
		assert.ErrorIs(mt, err, task.ErrTaskNotFound)
	})

	mt.Run("malformed id never reaches the server", func(mt *mtest.T) {
		store := newMockTaskStore(mt)

		_, err := store.Get(context.Background(), "alice", "not-an-object-id")
		assert.ErrorIs(mt, err, task.ErrTaskNotFound)
		assert.ErrorIs(mt, store.Delete(context.Background(), "alice", "123"), task.ErrTaskNotFound)
		assert.ErrorIs(mt, store.Replace(context.Background(), "alice", &task.Task{ID: "zz"}), task.ErrTaskNotFound)
	})

	mt.Run("replace without match returns not found", func(mt *mtest.T) {
		store := newMockTaskStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		err := store.Replace(context.Background(), "bob", &task.Task{ID: primitive.NewObjectID().Hex(), Title: "x"})
		assert.ErrorIs(mt, err, task.ErrTaskNotFound)
	})

	mt.Run("replace stamps updatedAt", func(mt *mtest.T) {
		store := newMockTaskStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		record := &task.Task{ID: primitive.NewObjectID().Hex(), Title: "x", Status: task.StatusFinished}
		require.NoError(mt, store.Replace(context.Background(), "alice", record))
		assert.True(mt, record.UpdatedAt.Equal(fixedNow()))
	})

	mt.Run("delete", func(mt *mtest.T) {
		store := newMockTaskStore(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}),
		)

		id := primitive.NewObjectID().Hex()
		require.NoError(mt, store.Delete(context.Background(), "alice", id))
		assert.ErrorIs(mt, store.Delete(context.Background(), "alice", id), task.ErrTaskNotFound)
	})

	mt.Run("list pages after counting", func(mt *mtest.T) {
		store := newMockTaskStore(mt)
		first, second := primitive.NewObjectID(), primitive.NewObjectID()
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, bson.D{{Key: "_id", Value: 1}, {Key: "n", Value: int32(12)}}),
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
				taskDoc(first, "alice", 1, "pending"),
				taskDoc(second, "alice", 1, "finished"),
			),
		)

		page, err := store.List(context.Background(), "alice", task.ListOptions{Page: 2, Limit: 10})
		require.NoError(mt, err)
		assert.EqualValues(mt, 12, page.Total)
		assert.EqualValues(mt, 2, page.TotalPages)
		assert.Equal(mt, 2, page.CurrentPage)
		require.Len(mt, page.Tasks, 2)
		assert.Equal(mt, first.Hex(), page.Tasks[0].ID)
	})

	mt.Run("list beyond last page skips find", func(mt *mtest.T) {
		store := newMockTaskStore(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, bson.D{{Key: "_id", Value: 1}, {Key: "n", Value: int32(3)}}))

		page, err := store.List(context.Background(), "alice", task.ListOptions{Page: 4, Limit: 1})
		require.NoError(mt, err)
		assert.Empty(mt, page.Tasks)
		assert.EqualValues(mt, 3, page.TotalPages)
	})

	mt.Run("stats aggregations", func(mt *mtest.T) {
		store := newMockTaskStore(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, bson.D{{Key: "_id", Value: nil}, {Key: "total", Value: int64(4)}, {Key: "finished", Value: int64(1)}}),
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
				bson.D{{Key: "_id", Value: 1}, {Key: "timeLapsed", Value: 5.0}, {Key: "balanceTime", Value: 3.0}},
				bson.D{{Key: "_id", Value: 4}, {Key: "timeLapsed", Value: 0.5}, {Key: "balanceTime", Value: 0.0}},
			),
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, bson.D{{Key: "_id", Value: nil}, {Key: "averageCompletionTime", Value: 2.5}}),
		)

		counts, err := store.CountByStatus(context.Background(), "alice")
		require.NoError(mt, err)
		assert.Equal(mt, task.StatusCounts{Total: 4, Finished: 1}, counts)

		buckets, err := store.PendingByPriority(context.Background(), "alice", fixedNow())
		require.NoError(mt, err)
		assert.Equal(mt, []task.PriorityBucket{
			{Priority: 1, TimeLapsed: 5, BalanceTime: 3},
			{Priority: 4, TimeLapsed: 0.5, BalanceTime: 0},
		}, buckets)

		average, err := store.AverageCompletionHours(context.Background(), "alice")
		require.NoError(mt, err)
		assert.InDelta(mt, 2.5, average, 1e-9)
	})

	mt.Run("stats without documents", func(mt *mtest.T) {
		store := newMockTaskStore(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch),
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch),
		)

		counts, err := store.CountByStatus(context.Background(), "alice")
		require.NoError(mt, err)
		assert.Zero(mt, counts.Total)

		average, err := store.AverageCompletionHours(context.Background(), "alice")
		require.NoError(mt, err)
		assert.Zero(mt, average)
	})

	mt.Run("owner required", func(mt *mtest.T) {
		store := newMockTaskStore(mt)
		_, err := store.List(context.Background(), "", task.ListOptions{})
		assert.ErrorIs(mt, err, task.ErrOwnerRequired)
	})
}

func TestUserStoreWithMockDeployment(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("create and duplicate", func(mt *mtest.T) {
		store := newUserStore(mt.Coll)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key error"}),
		)

		user := &auth.User{Email: " Alice@Example.com ", PasswordHash: "hash", CreatedAt: fixedNow()}
		require.NoError(mt, store.CreateUser(context.Background(), user))
		assert.Equal(mt, "alice@example.com", user.Email)
		assert.Len(mt, user.ID, 24)

		err := store.CreateUser(context.Background(), &auth.User{Email: "alice@example.com", PasswordHash: "hash"})
		assert.ErrorIs(mt, err, auth.ErrUserExists)
	})

	mt.Run("find by email", func(mt *mtest.T) {
		store := newUserStore(mt.Coll)
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, bson.D{
			{Key: "_id", Value: id},
			{Key: "email", Value: "alice@example.com"},
			{Key: "password", Value: "hash"},
			{Key: "createdAt", Value: fixedNow()},
		}))

		user, err := store.FindUserByEmail(context.Background(), "ALICE@example.com")
		require.NoError(mt, err)
		assert.Equal(mt, id.Hex(), user.ID)
		assert.Equal(mt, "hash", user.PasswordHash)
	})

	mt.Run("missing user", func(mt *mtest.T) {
		store := newUserStore(mt.Coll)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		_, err := store.FindUserByID(context.Background(), primitive.NewObjectID().Hex())
		assert.ErrorIs(mt, err, auth.ErrUserNotFound)

		_, err = store.FindUserByID(context.Background(), "bogus")
		assert.ErrorIs(mt, err, auth.ErrUserNotFound)
	})
}

func TestStoresUseConfiguredTimeout(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("configured", func(mt *mtest.T) {
		tasks := NewTaskStore(mt.DB, 2*time.Second)
		users := NewUserStore(mt.DB, true, 2*time.Second)
		assert.Equal(mt, 2*time.Second, tasks.timeout)
		assert.Equal(mt, 2*time.Second, users.timeout)
		assert.Nil(mt, users.client)
	})

	mt.Run("unset falls back", func(mt *mtest.T) {
		tasks := NewTaskStore(mt.DB, 0)
		users := NewUserStore(mt.DB, false, -time.Second)
		assert.Equal(mt, defaultTimeout, tasks.timeout)
		assert.Equal(mt, defaultTimeout, users.timeout)
		assert.NotNil(mt, users.client)
	})
}
