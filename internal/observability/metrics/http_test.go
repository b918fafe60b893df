package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(Middleware)
	router.HandleFunc("/tasks/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods(http.MethodGet)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/abc123", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	body := scrape(t)
	want := `taskpulse_http_requests_total{code="418",handler="/tasks/{id}",method="GET"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %q in metrics output:\n%s", want, body)
	}
	if strings.Contains(body, "abc123") {
		t.Fatalf("path parameter leaked into labels")
	}
}

func TestObserveHTTPRequestCountsServerErrors(t *testing.T) {
	ObserveHTTPRequest("/boom", http.MethodPost, http.StatusInternalServerError, 0)

	body := scrape(t)
	want := `taskpulse_http_request_errors_total{handler="/boom",method="POST"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %q in metrics output", want)
	}
}

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	data, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(data)
}
