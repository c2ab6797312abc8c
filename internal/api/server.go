// Package api serves both query pipelines over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nlquery/internal/common/logger"
	"nlquery/internal/models"
	"nlquery/internal/nlq/pipeline"
)

// maxFormMemory bounds the in-memory part of multipart form parsing.
const maxFormMemory = 1 << 20

type MongoService interface {
	Connect(ctx context.Context, nickname, dbURL, dbName string) (*pipeline.MongoConnection, error)
	Query(ctx context.Context, req pipeline.MongoRequest) (*pipeline.MongoAnswer, error)
}

type SQLService interface {
	Ask(ctx context.Context, question, nickname string) (*pipeline.SQLAnswer, error)
}

type HistoryService interface {
	List(ctx context.Context, nickname string, limit int) ([]models.HistoryEntry, error)
	Clear(ctx context.Context, nickname string) error
}

// Check is one readiness probe, e.g. a Redis or Elasticsearch ping.
type Check func(ctx context.Context) error

// Options wires the server. Nil services leave their routes unregistered.
type Options struct {
	Mongo          MongoService
	SQL            SQLService
	History        HistoryService
	Checks         map[string]Check
	RequestTimeout time.Duration
	Logger         logger.Logger
}

type Server struct {
	mongo   MongoService
	sql     SQLService
	history HistoryService
	checks  map[string]Check
	timeout time.Duration
	logger  logger.Logger
	now     func() time.Time
}

func New(opts Options) *Server {
	return &Server{
		mongo:   opts.Mongo,
		sql:     opts.SQL,
		history: opts.History,
		checks:  opts.Checks,
		timeout: opts.RequestTimeout,
		logger:  logger.Component(opts.Logger, "api"),
		now:     time.Now,
	}
}

// Handler returns the routed handler with recovery, logging and deadline middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.mongo != nil {
		mux.HandleFunc("POST /mongo_pipeline/client", s.handleMongoConnect)
		mux.HandleFunc("POST /mongo/query", s.handleMongoQuery)
	}
	if s.sql != nil {
		mux.HandleFunc("POST /sql/query", s.handleSQLQuery)
	}
	if s.history != nil {
		mux.HandleFunc("GET /history/{nickname}", s.handleHistoryList)
		mux.HandleFunc("DELETE /history/{nickname}", s.handleHistoryClear)
	}
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.recoverer(s.requestLogger(s.deadline(mux)))
}

// ==========================
// Middleware
// ==========================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		fields := map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}
		if rec.status >= http.StatusInternalServerError {
			s.logger.Warn("request failed", fields)
			return
		}
		s.logger.Debug("request served", fields)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.logger.Error("handler panicked", map[string]interface{}{
					"path":  r.URL.Path,
					"panic": fmt.Sprint(p),
				})
				writeDetail(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) deadline(next http.Handler) http.Handler {
	if s.timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ==========================
// Response helpers
// ==========================

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// formValues parses urlencoded or multipart bodies and returns the named fields. A missing or
// blank field is reported by name.
func formValues(r *http.Request, names ...string) (map[string]string, error) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, fmt.Errorf("malformed form body: %v", err)
	}

	values := make(map[string]string, len(names))
	var missing []string
	for _, name := range names {
		v := r.PostFormValue(name)
		if v == "" {
			missing = append(missing, name)
			continue
		}
		values[name] = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required form fields: %v", missing)
	}
	return values, nil
}
