// Package server exposes the engine over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/p-n-ai/pai-learn/internal/engine"
	"github.com/p-n-ai/pai-learn/internal/entitlement"
	"github.com/p-n-ai/pai-learn/internal/exercise"
	"github.com/p-n-ai/pai-learn/internal/platform/metrics"
	"github.com/p-n-ai/pai-learn/internal/stage"
)

const (
	maxBodyBytes = 1 << 20
	checkTimeout = 2 * time.Second
)

// Checker reports whether a dependency is usable.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Server routes requests to the engine.
type Server struct {
	engine  *engine.Engine
	metrics *metrics.Metrics
	checks  map[string]Checker
}

// New creates a Server. checks are run by /readyz.
func New(eng *engine.Engine, m *metrics.Metrics, checks map[string]Checker) *Server {
	return &Server{engine: eng, metrics: m, checks: checks}
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /v1/learners/{learner}/progress", s.handleProgress)
	mux.HandleFunc("POST /v1/learners/{learner}/items", s.handleItem)
	mux.HandleFunc("GET /v1/learners/{learner}/topics/{level}/{topic}", s.handleTopic)
	mux.HandleFunc("POST /v1/learners/{learner}/topics/{level}/{topic}/advance", s.handleAdvance)
	mux.HandleFunc("POST /v1/learners/{learner}/topics/{level}/{topic}/submit", s.handleSubmit)
	mux.HandleFunc("GET /v1/learners/{learner}/access", s.handleAccess)
	mux.HandleFunc("GET /v1/learners/{learner}/access/{level}", s.handleLevelAccess)
	mux.HandleFunc("POST /v1/learners/{learner}/subscriptions", s.handleSubscribe)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			slog.Warn("readiness check failed", "check", name, "error", err)
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Progress(r.Context(), r.PathValue("learner"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	var change engine.ItemChange
	if !decode(w, r, &change) {
		return
	}
	res, err := s.engine.SetItem(r.Context(), r.PathValue("learner"), change)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Topic(r.Context(), r.PathValue("learner"), r.PathValue("level"), r.PathValue("topic"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.AdvanceTopic(r.Context(), r.PathValue("learner"), r.PathValue("level"), r.PathValue("topic"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type submitRequest struct {
	Stage   int               `json:"stage"`
	Answers []exercise.Answer `json:"answers"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.engine.SubmitStage(r.Context(),
		r.PathValue("learner"), r.PathValue("level"), r.PathValue("topic"),
		stage.Stage(req.Stage), req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Access(r.Context(), r.PathValue("learner"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleLevelAccess(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.LevelAccess(r.Context(), r.PathValue("learner"), r.PathValue("level"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type subscribeRequest struct {
	Plan      string `json:"plan"`
	PricePaid int64  `json:"price_paid"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decode(w, r, &req) {
		return
	}
	sub, err := s.engine.Subscribe(r.Context(), r.PathValue("learner"), req.Plan, req.PricePaid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownLevel),
		errors.Is(err, engine.ErrUnknownTopic),
		errors.Is(err, engine.ErrUnknownItem):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidCategory),
		errors.Is(err, entitlement.ErrInvalidPlan),
		errors.Is(err, stage.ErrInvalidStage),
		errors.Is(err, stage.ErrNotPractice):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrTopicLocked),
		errors.Is(err, stage.ErrStageLocked):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrSubscriptionRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, stage.ErrNeedsSubmission),
		errors.Is(err, stage.ErrContentUnavailable):
		return http.StatusConflict
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
