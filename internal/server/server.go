// internal/server/server.go

// Package server exposes the lookup and monitoring operations over HTTP.
package server

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/valpere/vinparts/internal/config"
	"github.com/valpere/vinparts/internal/monitoring"
	"github.com/valpere/vinparts/internal/output"
	"github.com/valpere/vinparts/internal/utils"
	"github.com/valpere/vinparts/pkg/types"
)

// Backend is what the handlers need from the service.
type Backend interface {
	SearchPartsByVin(ctx context.Context, vin string) *types.SearchResult
	Statistics(ctx context.Context, days int) ([]monitoring.MethodReport, error)
	RecentAttempts(ctx context.Context, days, limit int) ([]output.UsageRecord, error)
	ExportStatistics(ctx context.Context, days int, w io.Writer) error
	ResetMethodStats(method string)
	UpdateAdaptiveConfig(patch monitoring.AdaptiveConfigPatch) (config.AdaptiveConfig, error)
	AdaptiveConfig() config.AdaptiveConfig
	BestMethod() string
	Health() *monitoring.HealthManager
	Gatherer() prometheus.Gatherer
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Server is the HTTP front end.
type Server struct {
	cfg     config.ServerConfig
	backend Backend
	router  *mux.Router
	http    *http.Server
	logger  utils.Logger
}

// New builds the router for backend.
func New(cfg config.ServerConfig, backend Backend) *Server {
	s := &Server{
		cfg:     cfg,
		backend: backend,
		logger:  utils.NewComponentLogger("http"),
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.recoverer, s.logRequests)

	metricsPath := s.cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.HandleFunc("/health", s.backend.Health().HealthHandler()).Methods(http.MethodGet)
	r.Handle(metricsPath, monitoring.Handler(s.backend.Gatherer())).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	if len(s.cfg.APIKeys) > 0 {
		api.Use(s.authenticate)
	}
	if s.cfg.RequestsPerSecond > 0 {
		api.Use(rateLimit(s.cfg.RequestsPerSecond, s.cfg.Burst))
	}
	api.HandleFunc("/parts/vin/{vin}", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/stats/recent", s.handleRecent).Methods(http.MethodGet)
	api.HandleFunc("/stats/reset", s.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/config/adaptive", s.handleGetAdaptive).Methods(http.MethodGet)
	api.HandleFunc("/config/adaptive", s.handlePatchAdaptive).Methods(http.MethodPatch)
	api.HandleFunc("/methods/best", s.handleBestMethod).Methods(http.MethodGet)
	return r
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.cfg.Addr).Info("HTTP server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return <-errCh
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	vin := utils.NormalizeVIN(mux.Vars(r)["vin"])
	if err := utils.ValidateVIN(vin); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res := s.backend.SearchPartsByVin(r.Context(), vin)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 7)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if r.URL.Query().Get("format") == "xlsx" {
		var buf bytes.Buffer
		if err := s.backend.ExportStatistics(r.Context(), days, &buf); err != nil {
			s.logger.Errorf("Statistics export failed: %v", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="vinparts-stats-%dd.xlsx"`, days))
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		buf.WriteTo(w)
		return
	}

	reports, err := s.backend.Statistics(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":    days,
		"methods": reports,
		"best":    s.backend.BestMethod(),
	})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 7)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	recent, err := s.backend.RecentAttempts(r.Context(), days, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recent == nil {
		recent = []output.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"attempts": recent, "total": len(recent)})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Query().Get("method")
	s.backend.ResetMethodStats(method)
	if method == "" {
		method = "all"
	}
	writeJSON(w, http.StatusOK, map[string]string{"reset": method})
}

func (s *Server) handleGetAdaptive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, adaptiveView(s.backend.AdaptiveConfig()))
}

func (s *Server) handlePatchAdaptive(w http.ResponseWriter, r *http.Request) {
	var patch monitoring.AdaptiveConfigPatch
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, utils.WrapError(err, utils.ErrCodeInvalidConfig, "malformed adaptive patch"))
		return
	}

	updated, err := s.backend.UpdateAdaptiveConfig(patch)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, adaptiveView(updated))
}

func (s *Server) handleBestMethod(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"method": s.backend.BestMethod()})
}

// adaptiveView renders durations as strings, matching the patch format.
func adaptiveView(a config.AdaptiveConfig) map[string]interface{} {
	return map[string]interface{}{
		"base_delay":        types.Duration(a.BaseDelay),
		"max_delay":         types.Duration(a.MaxDelay),
		"min_delay":         types.Duration(a.MinDelay),
		"success_threshold": a.SuccessThreshold,
		"failure_threshold": a.FailureThreshold,
		"block_duration":    types.Duration(a.BlockDuration),
		"min_samples":       a.MinSamples,
		"methods":           a.Methods,
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error()}
	if code := utils.CodeOf(err); code != "" {
		body["code"] = string(code)
	}
	writeJSON(w, status, body)
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.WithField("path", r.URL.Path).Errorf("Handler panic: %v", p)
				writeError(w, http.StatusInternalServerError, utils.NewError(utils.ErrCodeInternal, "internal error").Build())
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		id, _ := r.Context().Value(requestIDKey).(string)
		s.logger.WithFields(map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   utils.FormatDuration(time.Since(start)),
			"request_id": id,
		}).Debug("Request served")
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		for _, key := range s.cfg.APIKeys {
			if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		http.Error(w, "Invalid API key", http.StatusUnauthorized)
	})
}

func rateLimit(rps float64, burst int) mux.MiddlewareFunc {
	if burst <= 0 {
		burst = int(rps) + 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
