package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	xerrors "TaskPulse/internal/errors"
)

func newTestService(t *testing.T, now func() time.Time) *Service {
	t.Helper()
	opts := []Option{}
	if now != nil {
		opts = append(opts, WithClock(now))
	}
	svc, err := NewService(Config{
		JWT:        JWTOptions{Secret: "test-secret", Issuer: "taskpulse"},
		BcryptCost: bcrypt.MinCost,
	}, NewMemoryStore(), opts...)
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresSecretAndStore(t *testing.T) {
	_, err := NewService(Config{}, NewMemoryStore())
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))

	_, err = NewService(Config{JWT: JWTOptions{Secret: "s"}}, nil)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	session, err := svc.Register(ctx, Credentials{Email: "  Alice@Example.com ", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.NotEmpty(t, session.User.ID)
	assert.Equal(t, "alice@example.com", session.User.Email)

	login, err := svc.Login(ctx, Credentials{Email: "ALICE@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, login.User.ID)

	subject, err := svc.VerifyToken(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, subject.ID)
	assert.Equal(t, "alice@example.com", subject.Email)
}

func TestRegisterRejectsDuplicateAndInvalidInput(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, Credentials{Email: "bob@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, Credentials{Email: "BOB@example.com", Password: "another"})
	assert.ErrorIs(t, err, ErrUserExists)
	assert.Equal(t, http.StatusConflict, xerrors.HTTPStatusOf(err))

	_, err = svc.Register(ctx, Credentials{Email: "not-an-email", Password: "secret1"})
	assert.Equal(t, CodeUserValidation, xerrors.CodeOf(err))
	assert.Equal(t, http.StatusBadRequest, xerrors.HTTPStatusOf(err))

	_, err = svc.Register(ctx, Credentials{Email: "carol@example.com", Password: "12345"})
	assert.Equal(t, CodeUserValidation, xerrors.CodeOf(err))

	_, err = svc.Register(ctx, Credentials{Email: "carol@example.com", Password: strings.Repeat("x", 73)})
	assert.Equal(t, CodeUserValidation, xerrors.CodeOf(err))
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, Credentials{Email: "dave@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, wrongPassword := svc.Login(ctx, Credentials{Email: "dave@example.com", Password: "wrong-pass"})
	_, unknownUser := svc.Login(ctx, Credentials{Email: "nobody@example.com", Password: "secret1"})

	assert.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownUser, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
	assert.Equal(t, http.StatusUnauthorized, xerrors.HTTPStatusOf(wrongPassword))
}

func TestVerifyTokenRejectsExpiredAndForeignTokens(t *testing.T) {
	issuedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	current := issuedAt
	svc := newTestService(t, func() time.Time { return current })
	ctx := context.Background()

	session, err := svc.Register(ctx, Credentials{Email: "erin@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.True(t, session.ExpiresAt.Equal(issuedAt.Add(defaultAccessTTL)))

	current = issuedAt.Add(defaultAccessTTL + time.Minute)
	_, err = svc.VerifyToken(ctx, session.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	current = issuedAt
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Email: "erin@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.User.ID,
			Issuer:    "taskpulse",
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
		},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = svc.VerifyToken(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.VerifyToken(ctx, "garbage")
	assert.Equal(t, xerrors.CodeUnauthenticated, xerrors.CodeOf(err))
}

func TestAuthenticateRequestHeaderParsing(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	session, err := svc.Register(ctx, Credentials{Email: "frank@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = svc.AuthenticateRequest(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = svc.AuthenticateRequest(ctx, "Basic abc")
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = svc.AuthenticateRequest(ctx, "Bearer ")
	assert.ErrorIs(t, err, ErrMissingToken)

	subject, err := svc.AuthenticateRequest(ctx, "bearer "+session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, subject.ID)
}

func TestMiddleware(t *testing.T) {
	svc := newTestService(t, nil)
	session, err := svc.Register(context.Background(), Credentials{Email: "gina@example.com", Password: "secret1"})
	require.NoError(t, err)

	var seenOwner string
	handler := svc.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenOwner = OwnerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"UNAUTHENTICATED"`)
	assert.Empty(t, seenOwner)

	req = httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, session.User.ID, seenOwner)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, SubjectFromContext(ctx))
	assert.Empty(t, OwnerFromContext(ctx))
	assert.Equal(t, ctx, WithSubject(ctx, nil))

	ctx = WithSubject(ctx, &Subject{ID: "u1", Email: "u1@example.com"})
	assert.Equal(t, "u1", OwnerFromContext(ctx))
}
