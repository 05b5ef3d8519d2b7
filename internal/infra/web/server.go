package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"omnicoder/internal/application"
	"omnicoder/internal/config"
	"omnicoder/internal/domain/model"
	red "omnicoder/internal/infra/redis"
	"omnicoder/internal/usecase"
)

// Controller is the command surface the API exposes; *application.ControlFacade implements it.
type Controller interface {
	EnqueueFromTurn(ctx context.Context, req application.TurnRequest) (*model.Task, error)
	Approve(ctx context.Context, id string) (*model.Task, error)
	Skip(ctx context.Context, id string) (*model.Task, error)
	Cancel(ctx context.Context, id string) (*model.Task, error)
	Requeue(ctx context.Context, id string) (*model.Task, error)
	Reprioritize(ctx context.Context, id string, p model.Priority) (*model.Task, error)
	CreateSubTask(ctx context.Context, parentID string, input model.TaskInput, typ model.TaskType) (*model.Task, error)
	ListTasks(ctx context.Context) ([]*model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	State(ctx context.Context) (*application.StateView, error)
	Stats(ctx context.Context) (usecase.QueueStats, error)
	Settings(ctx context.Context) (*model.Settings, error)
	UpdateSettings(ctx context.Context, patch model.SettingsPatch) (*model.Settings, error)
	SetExecutionMode(ctx context.Context, mode model.ExecutionMode) (*model.Settings, error)
	SetModel(ctx context.Context, ref string) (*model.Settings, error)
	TestConnection(ctx context.Context) (*application.SelfTestResult, error)
	EstimateCost(ctx context.Context, input model.TaskInput) (*application.CostEstimate, error)
	Export(ctx context.Context) (*application.Backup, error)
	Import(ctx context.Context, b *application.Backup) error
	Clear(ctx context.Context) error
	CleanupLogs(ctx context.Context) (int, error)
}

var _ Controller = (*application.ControlFacade)(nil)

type Server struct {
	ctrl          Controller
	auth          *AuthManager
	limiter       *red.RateLimiter
	enqueuePerMin int
	timeout       time.Duration
	port          int
	shutdown      time.Duration
	log           *zerolog.Logger
}

func NewServer(cfg config.HTTPConfig, ctrl Controller, limiter *red.RateLimiter, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "http").Logger()
	return &Server{
		ctrl:          ctrl,
		auth:          NewAuthManager(cfg.AdminKey, cfg.JWTSecret, cfg.TokenTTL),
		limiter:       limiter,
		enqueuePerMin: cfg.EnqueuePerMin,
		timeout:       cfg.RequestTimeout,
		port:          cfg.Port,
		shutdown:      cfg.ShutdownTimeout,
		log:           &l,
	}
}

// Router builds the full handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.timeout > 0 {
			r.Use(Timeout(s.timeout))
		}
		r.With(s.rateLimit("auth", 10)).Post("/auth/token", s.handleToken)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.With(s.rateLimit("enqueue", s.enqueuePerMin)).Post("/turns", s.handleEnqueueTurn)

			r.Get("/tasks", s.handleListTasks)
			r.Route("/tasks/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Post("/approve", s.taskAction(s.ctrl.Approve))
				r.Post("/skip", s.taskAction(s.ctrl.Skip))
				r.Post("/cancel", s.taskAction(s.ctrl.Cancel))
				r.Post("/retry", s.taskAction(s.ctrl.Requeue))
				r.Post("/priority", s.handleReprioritize)
				r.Post("/subtasks", s.handleCreateSubTask)
			})

			r.Get("/state", s.handleState)
			r.Get("/stats", s.handleStats)

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handleUpdateSettings)
			r.Post("/settings/mode", s.handleSetMode)
			r.Post("/settings/model", s.handleSetModel)

			r.Post("/selftest", s.handleSelfTest)
			r.Post("/estimate", s.handleEstimate)

			r.Get("/export", s.handleExport)
			r.Post("/import", s.handleImport)
			r.Delete("/data", s.handleClear)
			r.Post("/logs/cleanup", s.handleCleanupLogs)
		})
	})
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", s.port).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdown)
	defer cancel()
	s.log.Info().Msg("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	<-errCh
	return nil
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func actionKey(ip, action string) string {
	return red.ActionKey("ip:"+ip, action)
}
