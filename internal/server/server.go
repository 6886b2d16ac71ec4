// Package server is the local HTTP and WebSocket bridge the desktop UI talks to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/agent-desk/internal/agent"
	"github.com/rcliao/agent-desk/internal/event"
	"github.com/rcliao/agent-desk/internal/profile"
	"github.com/rcliao/agent-desk/internal/rank"
	"github.com/rcliao/agent-desk/internal/store"
	"github.com/rcliao/agent-desk/internal/supervisor"
)

const maxBody = 64 << 10

// Server wires the task runner and stores to HTTP routes.
type Server struct {
	runner   *agent.Runner
	memories *store.FileStore
	ranker   *rank.Ranker
	profile  *profile.Store
	hub      *Hub
	logger   *slog.Logger

	// base outlives requests so a task keeps running after POST /tasks returns.
	base  context.Context
	tasks sync.WaitGroup
}

// New builds a Server. Tasks started through it run under ctx.
func New(ctx context.Context, runner *agent.Runner, memories *store.FileStore, ranker *rank.Ranker, prof *profile.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runner:   runner,
		memories: memories,
		ranker:   ranker,
		profile:  prof,
		hub:      NewHub(logger),
		logger:   logger,
		base:     ctx,
	}
}

// Hub returns the event stream hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /tasks", s.handleSubmit)
	mux.HandleFunc("POST /tasks/stop", s.handleStop)
	mux.Handle("GET /events", s.hub)
	mux.HandleFunc("GET /memories", s.handleMemories)
	mux.HandleFunc("GET /memories/stats", s.handleMemoryStats)
	mux.HandleFunc("GET /profile", s.handleProfile)
	return mux
}

// ListenAndServe serves on addr and watches the memory file until ctx is done,
// then stops any running task and shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := s.memories.Watch(watchCtx, s.MemoryChanged); err != nil {
			s.logger.Warn("memory watcher stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("bridge listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("bridge shutting down")
	s.runner.Supervisor().Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	s.hub.Close()
	s.Wait()
	return err
}

// Wait blocks until background tasks have finished.
func (s *Server) Wait() {
	s.tasks.Wait()
}

// MemoryChanged drops the ranker cache and tells clients to refresh.
func (s *Server) MemoryChanged() {
	s.ranker.Invalidate()
	s.hub.Broadcast(Message{Kind: KindMemoryUpdated})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state, runID := s.runner.Supervisor().State()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"state":   state.String(),
		"runId":   runID,
		"clients": s.hub.Len(),
	})
}

type submitRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, http.StatusBadRequest, agent.ErrEmptyQuery.Error())
		return
	}
	resv, err := s.runner.Reserve(s.base)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		s.runTask(resv, query)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "query": query})
}

func (s *Server) runTask(resv *supervisor.Reservation, query string) {
	forward := func(ev event.Event) {
		s.hub.Broadcast(Message{Kind: KindEvent, Event: &ev})
	}

	out, err := s.runner.RunReserved(resv, query, forward)
	switch {
	case err == nil:
		s.hub.Broadcast(Message{Kind: KindMemoryUpdated, Query: query, Memories: len(out.Memories)})
	case errors.Is(err, agent.ErrEmptyQuery):
		s.hub.Broadcast(Message{Kind: KindTaskError, Query: query, Error: err.Error()})
	default:
		// The terminal event already reached clients.
		s.logger.Info("task finished without success", "error", err)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": s.runner.Supervisor().Stop()})
}

func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	if q := r.URL.Query().Get("q"); q != "" {
		if limit == 0 {
			limit = rank.DefaultLimit
		}
		results, err := s.ranker.Search(r.Context(), q, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, results)
		return
	}

	entries, err := s.memories.List(r.Context(), store.ListParams{Limit: limit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.memories.Stats(r.Context(), store.DefaultRecent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	data, err := s.profile.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
