package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"TaskPulse/internal/auth"
	"TaskPulse/internal/observability/metrics"
	"TaskPulse/internal/task"
	"TaskPulse/pkg/logger"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	shutdownTimeout          = 5 * time.Second
	maxBodyBytes             = 1 << 20
)

// Server 负责暴露 REST 接口。
type Server struct {
	addr              string
	tasks             *task.Service
	auth              *auth.Service
	corsOrigins       []string
	readHeaderTimeout time.Duration
	log               *slog.Logger
}

// Option 配置 Server。
type Option func(*Server)

// WithCORSOrigins 设置允许跨域访问的来源，默认允许所有来源。
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.corsOrigins = append([]string(nil), origins...)
		}
	}
}

// WithReadHeaderTimeout 设置读取请求头的超时时间。
func WithReadHeaderTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.readHeaderTimeout = timeout
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, tasks *task.Service, authSvc *auth.Service, opts ...Option) *Server {
	s := &Server{
		addr:              addr,
		tasks:             tasks,
		auth:              authSvc,
		corsOrigins:       []string{"*"},
		readHeaderTimeout: defaultReadHeaderTimeout,
		log:               logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 组装路由，/tasks 下的所有路由都要求认证。
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(metrics.Middleware)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	users := router.PathPrefix("/users").Subrouter()
	users.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	users.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	tasks := router.PathPrefix("/tasks").Subrouter()
	tasks.Use(s.auth.Middleware())
	tasks.HandleFunc("", s.handleCreateTask).Methods(http.MethodPost)
	tasks.HandleFunc("", s.handleListTasks).Methods(http.MethodGet)
	// stats 必须先于 /{id} 注册。
	tasks.HandleFunc("/stats", s.handleTaskStats).Methods(http.MethodGet)
	tasks.HandleFunc("/{id}", s.handleUpdateTask).Methods(http.MethodPatch)
	tasks.HandleFunc("/{id}", s.handleDeleteTask).Methods(http.MethodDelete)

	cors := gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins(s.corsOrigins),
		gorillaHandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		gorillaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return cors(router)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP 服务已启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("HTTP 服务关闭超时", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
