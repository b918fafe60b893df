package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"TaskPulse/internal/auth"
	xerrors "TaskPulse/internal/errors"
)

// UserStore persists accounts in the users table.
type UserStore struct {
	db *sql.DB
	// ownsDB 为 false 时连接池由 TaskStore 负责关闭。
	ownsDB bool
}

// NewUserStore creates a store over an already migrated pool. When shared is
// true, Close leaves the pool open for the other stores using it.
func NewUserStore(db *sql.DB, shared bool) *UserStore {
	return &UserStore{db: db, ownsDB: !shared}
}

// CreateUser implements auth.Store.
func (s *UserStore) CreateUser(ctx context.Context, user *auth.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	const stmt = `INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, user.ID, user.Email, user.PasswordHash, toMillis(user.CreatedAt))
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return auth.ErrUserExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入用户失败")
	}
	return nil
}

// FindUserByEmail implements auth.Store.
func (s *UserStore) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	const stmt = `SELECT id, email, password_hash, created_at FROM users WHERE email = ?`
	return s.findOne(ctx, stmt, strings.ToLower(strings.TrimSpace(email)))
}

// FindUserByID implements auth.Store.
func (s *UserStore) FindUserByID(ctx context.Context, id string) (*auth.User, error) {
	const stmt = `SELECT id, email, password_hash, created_at FROM users WHERE id = ?`
	return s.findOne(ctx, stmt, id)
}

func (s *UserStore) findOne(ctx context.Context, stmt string, arg any) (*auth.User, error) {
	var (
		user      auth.User
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, stmt, arg).Scan(&user.ID, &user.Email, &user.PasswordHash, &createdAt)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询用户失败")
	}
	user.CreatedAt = fromMillis(createdAt)
	return &user, nil
}

// Close releases the pool unless it is shared.
func (s *UserStore) Close() error {
	if s == nil || s.db == nil || !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

var _ auth.Store = (*UserStore)(nil)
