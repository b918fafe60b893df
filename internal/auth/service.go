package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	xerrors "TaskPulse/internal/errors"
	"TaskPulse/pkg/logger"
)

const defaultAccessTTL = 24 * time.Hour

// Service 负责用户注册、登录以及请求的身份验证。
type Service struct {
	store  Store
	tokens *tokenManager
	hasher passwordHasher
	audit  *slog.Logger
	now    func() time.Time
}

// Option 配置 Service。
type Option func(*Service)

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAuditLogger 指定审计日志输出。
func WithAuditLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config, store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "user store not configured")
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "jwt secret must be configured")
	}
	ttl := cfg.JWT.AccessTTL
	if ttl <= 0 {
		ttl = defaultAccessTTL
	}
	svc := &Service{
		store:  store,
		hasher: newPasswordHasher(cfg.BcryptCost),
		audit:  logger.Audit(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	svc.tokens = &tokenManager{
		secret: []byte(cfg.JWT.Secret),
		issuer: cfg.JWT.Issuer,
		ttl:    ttl,
		now:    svc.now,
	}
	return svc, nil
}

// Register 创建新用户并签发访问令牌。
func (s *Service) Register(ctx context.Context, creds Credentials) (*Session, error) {
	email, err := normalizeEmail(creds.Email)
	if err != nil {
		return nil, err
	}
	if len(creds.Password) < minPasswordLength {
		return nil, xerrors.New(CodeUserValidation, "Password must be at least 6 characters long")
	}
	if len(creds.Password) > maxPasswordLength {
		return nil, xerrors.New(CodeUserValidation, "Password must be at most 72 bytes long")
	}

	hashed, err := s.hasher.Hash(creds.Password)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "hash password")
	}
	user := &User{
		Email:        email,
		PasswordHash: hashed,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, ErrUserExists
		}
		return nil, storageError(err, "create user")
	}
	s.audit.Info("user_registered", slog.String("user", user.ID), slog.String("email", user.Email))
	return s.issue(user)
}

// Login 校验凭据并签发访问令牌。用户不存在与密码错误返回相同的错误。
func (s *Service) Login(ctx context.Context, creds Credentials) (*Session, error) {
	email, err := normalizeEmail(creds.Email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if creds.Password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.audit.Warn("login_failed", slog.String("email", email))
			return nil, ErrInvalidCredentials
		}
		return nil, storageError(err, "find user")
	}
	ok, err := s.hasher.Verify(user.PasswordHash, creds.Password)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "verify password")
	}
	if !ok {
		s.audit.Warn("login_failed", slog.String("email", email))
		return nil, ErrInvalidCredentials
	}
	s.audit.Info("user_logged_in", slog.String("user", user.ID))
	return s.issue(user)
}

// AuthenticateRequest 验证传入请求的 Authorization 头并返回主体信息。
func (s *Service) AuthenticateRequest(ctx context.Context, authorization string) (*Subject, error) {
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	raw := strings.TrimSpace(parts[1])
	if raw == "" {
		return nil, ErrMissingToken
	}
	return s.VerifyToken(ctx, raw)
}

// VerifyToken 校验访问令牌，并确认令牌中的用户仍然存在。
func (s *Service) VerifyToken(ctx context.Context, raw string) (*Subject, error) {
	subject, err := s.tokens.Verify(raw)
	if err != nil {
		return nil, err
	}
	user, err := s.store.FindUserByID(ctx, subject.ID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, storageError(err, "load user")
	}
	return &Subject{ID: user.ID, Email: user.Email}, nil
}

// Close 释放用户存储。
func (s *Service) Close() error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *Service) issue(user *User) (*Session, error) {
	subject := Subject{ID: user.ID, Email: user.Email}
	token, expires, err := s.tokens.Issue(subject)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "sign token")
	}
	return &Session{Token: token, ExpiresAt: expires, User: subject}, nil
}

// normalizeEmail 去除空白并转为小写，拒绝无法解析的地址。
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", xerrors.New(CodeUserValidation, "Please enter a valid email")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", xerrors.New(CodeUserValidation, "Please enter a valid email")
	}
	return email, nil
}

func storageError(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}
