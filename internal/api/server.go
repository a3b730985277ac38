// Package api exposes the HTTP interface for the archiver service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
	"github.com/JakeFAU/chapter-archiver/internal/config"
	"github.com/JakeFAU/chapter-archiver/internal/metrics"
	"github.com/JakeFAU/chapter-archiver/internal/pipeline"
	"github.com/JakeFAU/chapter-archiver/internal/sources"
)

const requestTimeout = 60 * time.Second

// JobService is the subset of the pipeline the HTTP layer drives.
type JobService interface {
	Submit(ctx context.Context, job archiver.Job) (string, error)
	RequestCancel(ctx context.Context, ownerID string) error
	Status(ctx context.Context, jobID string) (archiver.JobRecord, error)
	QueueDepth() int
}

// SourceDirectory resolves content sources by name and searches across them.
type SourceDirectory interface {
	Get(name string) (archiver.ContentSource, error)
	Names() []string
	SearchAll(ctx context.Context, query string) (archiver.ContentSource, []archiver.SearchResult, error)
}

// Server wires HTTP handlers to the pipeline and the source registry.
type Server struct {
	router  chi.Router
	jobs    JobService
	sources SourceDirectory
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs JobService, directory SourceDirectory, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:    jobs,
		sources: directory,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/sources", s.listSources)
		r.Get("/search", s.search)
		r.Get("/chapters", s.listChapters)
		r.Post("/jobs", s.submitJob)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Post("/owners/{owner_id}/cancel", s.cancelOwner)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"queue_depth": s.jobs.QueueDepth(),
	})
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.sources.Names()})
}

type searchResponse struct {
	Source  string                  `json:"source"`
	Results []archiver.SearchResult `json:"results"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	name := r.URL.Query().Get("source")
	if name == "" {
		src, results, err := s.sources.SearchAll(r.Context(), query)
		if err != nil {
			s.writeSourceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, searchResponse{Source: src.Name(), Results: results})
		return
	}
	src, err := s.sources.Get(name)
	if err != nil {
		s.writeSourceError(w, err)
		return
	}
	results, err := src.Search(r.Context(), query)
	if err != nil {
		s.writeSourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Source: src.Name(), Results: results})
}

func (s *Server) listChapters(w http.ResponseWriter, r *http.Request) {
	mangaID := r.URL.Query().Get("manga_id")
	if mangaID == "" {
		writeError(w, http.StatusBadRequest, "query parameter manga_id is required")
		return
	}
	src, err := s.sources.Get(r.URL.Query().Get("source"))
	if err != nil {
		s.writeSourceError(w, err)
		return
	}
	chapters, err := src.ListChapters(r.Context(), mangaID)
	if err != nil {
		s.writeSourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": src.Name(), "chapters": chapters})
}

type submitJobResponse struct {
	JobID       string   `json:"job_id"`
	ArchiveName string   `json:"archive_name"`
	Chapters    []string `json:"chapters"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := pipeline.ResolveJob(r.Context(), s.sources, req)
	if err != nil {
		s.writeSourceError(w, err)
		return
	}
	jobID, err := s.jobs.Submit(r.Context(), job)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	labels := make([]string, 0, len(job.Chapters))
	for _, ch := range job.Chapters {
		labels = append(labels, ch.Label())
	}
	s.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("owner_id", job.OwnerID),
		zap.String("source", job.SourceName),
		zap.Int("chapters", len(job.Chapters)),
	)
	writeJSON(w, http.StatusAccepted, submitJobResponse{
		JobID:       jobID,
		ArchiveName: job.ArchiveName,
		Chapters:    labels,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	record, err := s.jobs.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, archiver.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("job status lookup failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "job status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": record})
}

func (s *Server) cancelOwner(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "owner_id")
	if err := s.jobs.RequestCancel(r.Context(), ownerID); err != nil {
		if errors.Is(err, archiver.ErrInvalidJob) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("cancel request failed", zap.String("owner_id", ownerID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cancel request failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"owner_id": ownerID, "status": "cancel_requested"})
}

func (s *Server) writeSourceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, archiver.ErrInvalidJob):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sources.ErrUnknownSource):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sources.ErrNoResults):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "source timed out")
	default:
		s.logger.Warn("source request failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, archiver.ErrInvalidJob):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, "service is shutting down")
	default:
		s.logger.Error("job submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "job submit failed")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
