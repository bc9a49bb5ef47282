package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/natsbus"
	"github.com/mtzanidakis/quorum/internal/pipeline"
	"github.com/mtzanidakis/quorum/internal/schedule"
	"github.com/mtzanidakis/quorum/internal/store"
	"github.com/nats-io/nats.go"
)

// Launcher starts one pipeline run. Satisfied by *pipeline.Runner.
type Launcher interface {
	Run(ctx context.Context, query, mode string) (*pipeline.RunResult, error)
}

// Reloader lets handlers nudge the scheduler after store changes.
type Reloader interface {
	Reload()
}

type Server struct {
	store     *store.Store
	launcher  Launcher
	nats      *natsbus.Client
	sched     Reloader
	hub       *Hub
	cfg       config.WebConfig
	modes     []string
	version   string
	startedAt time.Time
}

func NewServer(st *store.Store, launcher Launcher, natsClient *natsbus.Client, sched Reloader, cfg *config.Config, version string) *Server {
	modes := make([]string, 0, len(cfg.Modes))
	for name := range cfg.Modes {
		modes = append(modes, name)
	}
	sort.Strings(modes)

	return &Server{
		store:     st,
		launcher:  launcher,
		nats:      natsClient,
		sched:     sched,
		hub:       NewHub(),
		cfg:       cfg.Web,
		modes:     modes,
		version:   version,
		startedAt: time.Now(),
	}
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	s.subscribeEvents()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler builds the routed, middleware-wrapped handler. Split out so tests
// can drive it without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/modes", s.handleModes)
	mux.HandleFunc("POST /api/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /api/scheduled", s.handleCreateScheduled)
	mux.HandleFunc("GET /api/scheduled", s.handleListScheduled)
	mux.HandleFunc("DELETE /api/scheduled/{id}", s.handleDeleteScheduled)
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	return s.withMiddleware(mux)
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if s.cfg.Auth != "" && strings.HasPrefix(r.URL.Path, "/api/") && r.URL.Path != "/api/health" {
			_, pass, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Auth)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="quorum"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// subscribeEvents forwards run and scheduler events from NATS to connected
// websocket clients.
func (s *Server) subscribeEvents() {
	if s.nats == nil {
		return
	}

	forward := func(kind string) func(msg *nats.Msg) {
		return func(msg *nats.Msg) {
			var payload json.RawMessage = msg.Data
			s.hub.Broadcast(WireEvent{Type: kind, Topic: msg.Subject, Payload: payload})
		}
	}

	for topic, kind := range map[string]string{
		natsbus.TopicRunsAll:           "run_event",
		natsbus.TopicRunChunksAll:      "run_chunk",
		natsbus.TopicSchedulerEvents(): "scheduler_event",
	} {
		if _, err := s.nats.Subscribe(topic, forward(kind)); err != nil {
			slog.Error("event subscription failed", "topic", topic, "error", err)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"modes": s.modes})
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		Mode  string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		req.Mode = "quick"
	}

	result, err := s.launcher.Run(r.Context(), req.Query, req.Mode)
	if err != nil {
		var pe *pipeline.PreconditionError
		status := http.StatusBadGateway
		if errors.As(err, &pe) {
			status = http.StatusBadRequest
		}
		if result == nil {
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, status, result)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRun(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreateScheduled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Query    string `json:"query"`
		Mode     string `json:"mode"`
		Schedule string `json:"schedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Query == "" {
		http.Error(w, "name and query are required", http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		req.Mode = "quick"
	}

	normalized, err := schedule.Normalize(req.Schedule)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	q := &store.ScheduledQuery{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Query:     req.Query,
		Mode:      req.Mode,
		Schedule:  normalized,
		NextRunAt: schedule.NextRun(normalized, time.Now()),
	}
	if err := s.store.CreateScheduledQuery(q); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.sched != nil {
		s.sched.Reload()
	}

	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleListScheduled(w http.ResponseWriter, r *http.Request) {
	queries, err := s.store.ListScheduledQueries()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scheduled": queries})
}

func (s *Server) handleDeleteScheduled(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteScheduledQuery(r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}
