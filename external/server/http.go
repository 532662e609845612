package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calldeck/callscribe/internal/config"
	"github.com/calldeck/callscribe/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// triggerRequest is the body of POST /calls.
type triggerRequest struct {
	CallID       string    `json:"call_id"`
	CallerStream string    `json:"caller_stream"`
	AgentStream  string    `json:"agent_stream"`
	StartTime    time.Time `json:"start_time"`
	AgentID      string    `json:"agent_id"`
	CallerNumber string    `json:"caller_number"`
	AgentNumber  string    `json:"agent_number"`
}

// Server accepts call triggers over HTTP and runs one worker per call.
type Server struct {
	http   *http.Server
	cfg    *config.Config
	worker *worker.Worker

	mu      sync.Mutex
	calls   sync.WaitGroup
	callCtx context.Context
	stop    context.CancelFunc
}

func New(cfg *config.Config, w *worker.Worker) *Server {
	s := &Server{cfg: cfg, worker: w}

	mux := http.NewServeMux()
	mux.HandleFunc("/calls", s.handleCalls)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then stops accepting triggers and lets
// in-flight calls drain up to the processing timeout.
func (s *Server) Run(ctx context.Context) error {
	callCtx, stop := context.WithCancel(context.Background())
	s.mu.Lock()
	s.callCtx = callCtx
	s.stop = stop
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("trigger server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		stop()
		return err
	case <-ctx.Done():
	}

	slog.Info("trigger server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown failed", "error", err)
	}

	drained := make(chan struct{})
	go func() {
		s.calls.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		slog.Info("all in-flight calls drained")
	case <-time.After(s.cfg.ProcessingTimeout):
		slog.Warn("shutdown drain timed out; cancelling in-flight calls")
	}
	stop()
	return nil
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var trig triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&trig); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "malformed trigger: " + err.Error()})
		return
	}
	if trig.CallID == "" || trig.CallerStream == "" || trig.AgentStream == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "call_id, caller_stream and agent_stream are required"})
		return
	}
	if s.worker.InFlight(trig.CallID) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "call already in flight", "call_id": trig.CallID})
		return
	}

	s.mu.Lock()
	ctx := s.callCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server shutting down"})
		return
	}

	s.calls.Add(1)
	go func() {
		defer s.calls.Done()
		err := s.worker.Run(ctx, worker.Trigger{
			CallID:          trig.CallID,
			AgentID:         trig.AgentID,
			CallerNumber:    trig.CallerNumber,
			AgentNumber:     trig.AgentNumber,
			CallerStreamURL: trig.CallerStream,
			AgentStreamURL:  trig.AgentStream,
			StartedAt:       trig.StartTime,
		})
		if err != nil && !errors.Is(err, worker.ErrCallInFlight) {
			slog.Error("call processing failed", "call_id", trig.CallID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"call_id": trig.CallID, "status": "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
