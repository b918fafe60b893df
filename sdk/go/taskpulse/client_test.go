package taskpulse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"TaskPulse/internal/api"
	"TaskPulse/internal/auth"
	"TaskPulse/internal/task"
)

func newLiveServer(t *testing.T) *httptest.Server {
	t.Helper()
	authSvc, err := auth.NewService(auth.Config{
		JWT:        auth.JWTOptions{Secret: "sdk-secret"},
		BcryptCost: bcrypt.MinCost,
	}, auth.NewMemoryStore())
	require.NoError(t, err)
	srv := api.NewServer(":0", task.NewService(task.NewMemoryStore()), authSvc)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientAgainstServer(t *testing.T) {
	ts := newLiveServer(t)
	client, err := NewClient(ts.URL, ts.Client())
	require.NoError(t, err)
	ctx := context.Background()

	session, err := client.Register(ctx, Credentials{Email: "dev@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, session.Token, client.AccessToken())

	start := time.Now().UTC().Add(-time.Hour)
	created, err := client.CreateTask(ctx, NewTask{Title: "ship", StartTime: start, EndTime: start.Add(3 * time.Hour), Priority: 2})
	require.NoError(t, err)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, session.User.ID, created.User)

	page, err := client.ListTasks(ctx, ListOptions{Priority: 2, SortBy: "endTime"})
	require.NoError(t, err)
	require.Len(t, page.Tasks, 1)
	assert.EqualValues(t, 1, page.TotalPages)

	finished := "finished"
	updated, err := client.UpdateTask(ctx, created.ID, TaskUpdate{Status: &finished})
	require.NoError(t, err)
	assert.Equal(t, "finished", updated.Status)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalTasks)
	assert.EqualValues(t, 1, stats.TaskStatus.Completed.Count)
	assert.Empty(t, stats.PendingTasksByPriority)

	require.NoError(t, client.DeleteTask(ctx, created.ID))

	err = client.DeleteTask(ctx, created.ID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "TASK_NOT_FOUND", apiErr.Code)

	other, err := NewClient(ts.URL, ts.Client())
	require.NoError(t, err)
	_, err = other.Login(ctx, Credentials{Email: "dev@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, other.AccessToken())
}

func TestAuthenticatedCallsRequireToken(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)
	_, err = client.ListTasks(context.Background(), ListOptions{})
	assert.ErrorIs(t, err, ErrNoToken)
	assert.False(t, called)
}

func TestListQueryAndErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tasks", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "pending", r.URL.Query().Get("status"))
		assert.Empty(t, r.URL.Query().Get("priority"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "limit must be a positive integer", "code": "TASK_VALIDATION_FAILED"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/api", srv.Client())
	require.NoError(t, err)
	client.SetAccessToken("token")

	_, err = client.ListTasks(context.Background(), ListOptions{Page: 2, Limit: 5, Status: "pending"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "limit must be a positive integer", apiErr.Message)
	assert.Contains(t, apiErr.Error(), "TASK_VALIDATION_FAILED")
}
