package auth

import (
	"context"
	"net/http"
	"time"

	xerrors "TaskPulse/internal/errors"
)

const (
	CodeUserExists         xerrors.Code = "USER_EXISTS"
	CodeUserValidation     xerrors.Code = "USER_VALIDATION_FAILED"
	CodeInvalidCredentials xerrors.Code = "INVALID_CREDENTIALS"
)

// Common errors returned by the authentication subsystem.
var (
	ErrUserExists         = xerrors.New(CodeUserExists, "User already exists")
	ErrUserNotFound       = xerrors.New(xerrors.CodeNotFound, "user not found")
	ErrInvalidCredentials = xerrors.New(CodeInvalidCredentials, "Invalid credentials")
	ErrMissingToken       = xerrors.New(xerrors.CodeUnauthenticated, "No token, authorization denied")
	ErrInvalidToken       = xerrors.New(xerrors.CodeUnauthenticated, "Token is not valid")
)

func init() {
	xerrors.Register(CodeUserExists, xerrors.Attributes{
		Message:    "User already exists",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
		Expose:     true,
	})
	xerrors.Register(CodeUserValidation, xerrors.Attributes{
		Message:    "Invalid user data",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusBadRequest,
		Expose:     true,
	})
	xerrors.Register(CodeInvalidCredentials, xerrors.Attributes{
		Message:    "Invalid credentials",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusUnauthorized,
		Expose:     true,
	})
}

// Store abstracts the persistent user catalogue used by the authentication
// service. Implementations must be safe for concurrent use and treat e-mail
// addresses as unique.
type Store interface {
	// CreateUser persists a new account, returning ErrUserExists when the
	// e-mail is taken. An empty ID is assigned by the store.
	CreateUser(ctx context.Context, user *User) error
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	Close() error
}

// User represents a persisted account with credentials.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Subject captures the information embedded in access tokens and passed to
// request handlers via context.
type Subject struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Credentials is the payload accepted by the register and login endpoints.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is returned after a successful registration or login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      Subject   `json:"user"`
}

// Config configures the authentication service.
type Config struct {
	JWT        JWTOptions
	BcryptCost int
}

// JWTOptions contains parameters for local JWT issuance.
type JWTOptions struct {
	Secret    string
	Issuer    string
	AccessTTL time.Duration
}
