package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"omnicoder/internal/application"
	"omnicoder/internal/domain"
	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/adapter"
	"omnicoder/internal/infra/logging"
)

const maxBodyBytes = 32 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var fatal *adapter.FatalError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrTaskRunning), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &fatal), adapter.IsTransient(err), errors.Is(err, adapter.ErrRetriesExhausted):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if status == http.StatusInternalServerError {
			writeError(w, status, "internal error")
			return
		}
	}
	writeError(w, status, err.Error())
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Join(domain.ErrInvalidArgument, err)
	}
	return nil
}

// taskID binds the {id} path segment the way the generated API server does.
func taskID(r *http.Request) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", errors.Join(domain.ErrInvalidArgument, err)
	}
	return id, nil
}

type tokenRequest struct {
	AdminKey string `json:"admin_key"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if !s.auth.CheckAdminKey(req.AdminKey) {
		writeError(w, http.StatusUnauthorized, "invalid admin key")
		return
	}
	tok, exp, err := s.auth.Mint()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok, ExpiresAt: exp.Unix()})
}

func (s *Server) handleEnqueueTurn(w http.ResponseWriter, r *http.Request) {
	var req application.TurnRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.ctrl.EnqueueFromTurn(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

type listTasksResponse struct {
	Items []*model.Task `json:"items"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var status *string
	if err := runtime.BindQueryParameter("form", true, false, "status", r.URL.Query(), &status); err != nil {
		s.fail(w, r, errors.Join(domain.ErrInvalidArgument, err))
		return
	}
	tasks, err := s.ctrl.ListTasks(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]*model.Task, 0, len(tasks))
	for _, t := range tasks {
		if status == nil || string(t.Status) == *status {
			items = append(items, t)
		}
	}
	writeJSON(w, http.StatusOK, listTasksResponse{Items: items})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.ctrl.GetTask(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) taskAction(fn func(ctx context.Context, id string) (*model.Task, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := taskID(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		task, err := fn(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

type priorityRequest struct {
	Priority model.Priority `json:"priority"`
}

func (s *Server) handleReprioritize(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req priorityRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.ctrl.Reprioritize(r.Context(), id, req.Priority)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type subTaskRequest struct {
	Type  model.TaskType  `json:"type"`
	Input model.TaskInput `json:"input"`
}

func (s *Server) handleCreateSubTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req subTaskRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	child, err := s.ctrl.CreateSubTask(r.Context(), id, req.Input, req.Type)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, child)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	v, err := s.ctrl.State(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Settings(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch model.SettingsPatch
	if err := decode(r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.ctrl.UpdateSettings(r.Context(), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type modeRequest struct {
	Mode model.ExecutionMode `json:"mode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.ctrl.SetExecutionMode(r.Context(), req.Mode)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type modelRequest struct {
	Model string `json:"model"`
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.ctrl.SetModel(r.Context(), req.Model)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSelfTest always answers 200 with the probe result when the provider was reached;
// provider failures come back as 502 with the same body.
func (s *Server) handleSelfTest(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.TestConnection(r.Context())
	if err != nil {
		if res == nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var input model.TaskInput
	if err := decode(r, &input); err != nil {
		s.fail(w, r, err)
		return
	}
	est, err := s.ctrl.EstimateCost(r.Context(), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	b, err := s.ctrl.Export(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="omnicoder-backup.json"`)
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var b application.Backup
	if err := decode(r, &b); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ctrl.Import(r.Context(), &b); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Clear(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cleanupResponse struct {
	Deleted int `json:"deleted"`
}

func (s *Server) handleCleanupLogs(w http.ResponseWriter, r *http.Request) {
	n, err := s.ctrl.CleanupLogs(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Deleted: n})
}
