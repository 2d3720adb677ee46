package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/metrics"
	"github.com/cuemby/ringmaster/pkg/plan"
	"github.com/cuemby/ringmaster/pkg/storage"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Plans is the plan surface the API exposes
type Plans interface {
	Status() plan.PlanStatus
	Interrupt()
	Proceed()
}

// Tasks is the task registry surface the API exposes
type Tasks interface {
	List() []*types.TaskRecord
	Get(node string) (*types.TaskRecord, error)
	MarkReplace(node string) error
}

// Framework reports registration state
type Framework interface {
	IsRegistered() bool
}

// Identity returns the persisted framework id
type Identity interface {
	Get() (string, error)
}

// FrameworkInfo is the body of GET /v1/framework
type FrameworkInfo struct {
	ID         string `json:"id"`
	Cluster    string `json:"cluster"`
	Registered bool   `json:"registered"`
}

// Server serves the scheduler's HTTP API
type Server struct {
	router    chi.Router
	plans     Plans
	tasks     Tasks
	framework Framework
	identity  Identity
	cluster   string
	logger    zerolog.Logger

	srv *http.Server
}

// NewServer creates a server with all routes registered
func NewServer(cluster string, plans Plans, tasks Tasks, framework Framework, identity Identity) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		plans:     plans,
		tasks:     tasks,
		framework: framework,
		identity:  identity,
		cluster:   cluster,
		logger:    log.WithComponent("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/plan", func(r chi.Router) {
			r.Get("/", s.handlePlan)
			r.Post("/interrupt", s.handleInterrupt)
			r.Post("/continue", s.handleContinue)
		})
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleTasks)
			r.Get("/{node}", s.handleTask)
			r.Post("/{node}/replace", s.handleReplace)
		})
		r.Get("/framework", s.handleFramework)
	})
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metrics.RegisterComponent("api", true, "listening on "+addr)
	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")

	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	metrics.UpdateComponent("api", false, err.Error())
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.plans.Status())
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	s.plans.Interrupt()
	s.logger.Info().Msg("Plan interrupted")
	writeJSON(w, http.StatusOK, s.plans.Status())
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	s.plans.Proceed()
	s.logger.Info().Msg("Plan continued")
	writeJSON(w, http.StatusOK, s.plans.Status())
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.List())
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tasks.Get(chi.URLParam(r, "node"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

// handleReplace lets a node whose agent is gone be placed elsewhere with a fresh volume
func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	node := chi.URLParam(r, "node")
	err := s.tasks.MarkReplace(node)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Warn().Str("node_id", node).Msg("Node marked for replacement")
	rec, err := s.tasks.Get(node)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleFramework(w http.ResponseWriter, r *http.Request) {
	id, err := s.identity.Get()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, FrameworkInfo{
		ID:         id,
		Cluster:    s.cluster,
		Registered: s.framework.IsRegistered(),
	})
}
