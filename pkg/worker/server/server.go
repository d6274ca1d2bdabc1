// Package server implements the worker side of the worker protocol (C8):
// an HTTP+JSON surface exposing /submit, /status, /result, /sample,
// /cancel, and /healthz (spec.md §4.8), backed by an in-memory task store
// and a bounded pool of execution goroutines. Routing and the
// middleware/response-envelope shape follow
// internal/infrastructure/api/rest's gin handlers, translated to the
// standard library's method-and-pattern ServeMux (net/http, not gin, on
// this side of the protocol — the worker is a small, narrowly-scoped
// process with no need for gin's routing sugar or its dependency weight).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	goruntime "runtime"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/flowkit/fctl/internal/infrastructure/logger"
	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/worker/proto"
	"github.com/flowkit/fctl/pkg/worker/runtime"
)

// Options configures a Server.
type Options struct {
	// MaxInFlight bounds concurrent task execution; submissions beyond it
	// still queue (the server always accepts, per spec — back-pressure is
	// advertised via /healthz's queue_depth/running_tasks so the
	// coordinator's own scheduler throttles submission, not this server).
	MaxInFlight int
}

// Server is the worker process's HTTP surface.
type Server struct {
	opts    Options
	store   *store
	runtime runtime.Runtime
	logger  *logger.Logger

	sem chan struct{}

	startedAt time.Time
	mux       *http.ServeMux
}

// New builds a Server around a Runtime (the opaque lazy query engine) and
// a logger. Pass runtime.NewEngine() for the reference implementation.
func New(rt runtime.Runtime, log *logger.Logger, opts Options) *Server {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 4
	}
	s := &Server{
		opts:      opts,
		store:     newStore(),
		runtime:   rt,
		logger:    log,
		sem:       make(chan struct{}, opts.MaxInFlight),
		startedAt: time.Now(),
	}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

// Handler returns the Server's http.Handler, wrapped with request logging
// and panic recovery.
func (s *Server) Handler() http.Handler {
	return s.withLogging(s.withRecovery(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /submit", s.handleSubmit)
	s.mux.HandleFunc("GET /status/{task_id}", s.handleStatus)
	s.mux.HandleFunc("GET /result/{task_id}", s.handleResult)
	s.mux.HandleFunc("GET /sample/{task_id}", s.handleSample)
	s.mux.HandleFunc("POST /cancel/{task_id}", s.handleCancel)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				requestID := r.Header.Get("X-Request-ID")
				s.logger.Error("panic recovered",
					"request_id", requestID,
					"method", r.Method,
					"path", r.URL.Path,
					"error", err,
					"stack", string(stack),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		r.Header.Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.logger.Info("request started", "request_id", requestID, "method", r.Method, "path", r.URL.Path)

		next.ServeHTTP(rec, r)

		s.logger.Info("request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, proto.ErrorBody{Error: message})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req proto.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	t, created := s.store.create(req.TaskID, req.PlanBlob)
	if !created {
		writeJSON(w, http.StatusOK, proto.SubmitResponse{Accepted: false, Reason: "duplicate"})
		return
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go s.run(taskCtx, t)

	writeJSON(w, http.StatusAccepted, proto.SubmitResponse{Accepted: true})
}

func (s *Server) run(ctx context.Context, t *task) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	t.setRunning()

	schema, rows, err := s.runtime.Run(ctx, t.planBlob)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		t.fail(classifyRuntimeError(err), err)
		return
	}
	t.succeed(schema, rows)
}

func classifyRuntimeError(err error) models.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorKindTimeout
	}
	return models.ErrorKindRuntime
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.get(r.PathValue("task_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t.snapshot())
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.get(r.PathValue("task_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != proto.TaskDone {
		writeError(w, http.StatusConflict, fmt.Sprintf("task is %s, not done", t.state))
		return
	}
	writeJSON(w, http.StatusOK, proto.ResultResponse{
		Schema:          t.schema,
		RowCount:        len(t.rows),
		PayloadLocation: t.id,
	})
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.get(r.PathValue("task_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	n := 100
	if raw := r.URL.Query().Get("rows"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != proto.TaskDone {
		writeError(w, http.StatusConflict, fmt.Sprintf("task is %s, not done", t.state))
		return
	}

	truncated := len(t.rows) > n
	limit := n
	if limit > len(t.rows) {
		limit = len(t.rows)
	}
	columns := t.schema.ColumnNames()
	wireRows := make([][]interface{}, limit)
	for i := 0; i < limit; i++ {
		row := make([]interface{}, len(columns))
		for j, col := range columns {
			row[j] = t.rows[i][col]
		}
		wireRows[i] = row
	}

	writeJSON(w, http.StatusOK, proto.SampleResponse{Columns: columns, Rows: wireRows, Truncated: truncated})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.get(r.PathValue("task_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	cancelled := t.requestCancel()
	writeJSON(w, http.StatusOK, proto.CancelResponse{Cancelled: cancelled})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	queued, running := s.store.counts()
	var ms goruntime.MemStats
	goruntime.ReadMemStats(&ms)
	writeJSON(w, http.StatusOK, proto.HealthResponse{
		OK:           true,
		QueueDepth:   queued,
		RunningTasks: running,
		MemoryBytes:  ms.Alloc,
	})
}
