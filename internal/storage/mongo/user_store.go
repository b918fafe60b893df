package mongo

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"TaskPulse/internal/auth"
	xerrors "TaskPulse/internal/errors"
)

type userDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	Email     string             `bson:"email"`
	Password  string             `bson:"password"`
	CreatedAt time.Time          `bson:"createdAt"`
}

// UserStore persists accounts in the users collection.
type UserStore struct {
	coll    *mongo.Collection
	client  *mongo.Client
	timeout time.Duration
}

// NewUserStore creates a user store. When shared is true, Close leaves the
// client connected for the task store. A non-positive timeout falls back to
// defaultTimeout.
func NewUserStore(db *mongo.Database, shared bool, timeout time.Duration) *UserStore {
	store := newUserStore(db.Collection(usersCollection))
	store.timeout = operationTimeout(timeout)
	if !shared {
		store.client = db.Client()
	}
	return store
}

func newUserStore(coll *mongo.Collection) *UserStore {
	return &UserStore{coll: coll, timeout: defaultTimeout}
}

// CreateUser implements auth.Store. The unique email index reports duplicates.
func (s *UserStore) CreateUser(ctx context.Context, user *auth.User) error {
	oid := primitive.NewObjectID()
	doc := userDocument{
		ID:        oid,
		Email:     strings.ToLower(strings.TrimSpace(user.Email)),
		Password:  user.PasswordHash,
		CreatedAt: user.CreatedAt.UTC().Truncate(time.Millisecond),
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return auth.ErrUserExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入用户失败")
	}
	user.ID = oid.Hex()
	user.Email = doc.Email
	return nil
}

// FindUserByEmail implements auth.Store.
func (s *UserStore) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findOne(ctx, bson.D{{Key: "email", Value: strings.ToLower(strings.TrimSpace(email))}})
}

// FindUserByID implements auth.Store.
func (s *UserStore) FindUserByID(ctx context.Context, id string) (*auth.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, auth.ErrUserNotFound
	}
	return s.findOne(ctx, bson.D{{Key: "_id", Value: oid}})
}

func (s *UserStore) findOne(ctx context.Context, filter bson.D) (*auth.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var doc userDocument
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if stdErrors.Is(err, mongo.ErrNoDocuments) {
			return nil, auth.ErrUserNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询用户失败")
	}
	return &auth.User{
		ID:           doc.ID.Hex(),
		Email:        doc.Email,
		PasswordHash: doc.Password,
		CreatedAt:    doc.CreatedAt.UTC(),
	}, nil
}

// Close disconnects the client unless it is shared.
func (s *UserStore) Close() error {
	if s == nil {
		return nil
	}
	return disconnect(s.client)
}

var _ auth.Store = (*UserStore)(nil)
