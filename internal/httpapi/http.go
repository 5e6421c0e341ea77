// Package httpapi is a thin HTTP front-end over the quota engine: it
// translates Outcome records to HTTP responses and exposes the library
// surface (configure/acquire/status/backend info) over chi-routed JSON
// endpoints.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaedprasad/slidingquota/internal/quota"
)

// Server wires a *quota.Manager and *quota.Coordinator to chi routes.
type Server struct {
	manager     *quota.Manager
	coordinator *quota.Coordinator
	variant     string
	registry    *prometheus.Registry
	router      chi.Router
}

// NewServer builds the HTTP surface. registry may be nil, in which case
// no /metrics route is mounted — useful for tests that don't care about
// metrics scraping.
func NewServer(manager *quota.Manager, coordinator *quota.Coordinator, variant string, registry *prometheus.Registry) *Server {
	s := &Server{manager: manager, coordinator: coordinator, variant: variant, registry: registry}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/v1/configure", s.handleConfigure)
	r.Post("/v1/acquire", s.handleAcquire)
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/backend", s.handleBackend)
	if s.registry != nil {
		r.Get("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type configureRequest struct {
	Resource           string   `json:"resource"`
	RequestsPerSecond  *float64 `json:"requests_per_second,omitempty"`
	RequestsPerMinute  *float64 `json:"requests_per_minute,omitempty"`
	RequestsPerHour    *float64 `json:"requests_per_hour,omitempty"`
	TokensPerSecond    *float64 `json:"tokens_per_second,omitempty"`
	TokensPerMinute    *float64 `json:"tokens_per_minute,omitempty"`
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	err := s.manager.Configure(req.Resource, quota.ConfigureInput{
		RequestsPerSecond: req.RequestsPerSecond,
		RequestsPerMinute: req.RequestsPerMinute,
		RequestsPerHour:   req.RequestsPerHour,
		TokensPerSecond:   req.TokensPerSecond,
		TokensPerMinute:   req.TokensPerMinute,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type acquireRequest struct {
	Resource   string  `json:"resource"`
	UserID     string  `json:"user_id,omitempty"`
	Weight     float64 `json:"weight,omitempty"`
	WaitMillis *int64  `json:"wait_millis,omitempty"`
}

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	opts := quota.AcquireOptions{UserID: req.UserID, Weight: req.Weight}
	if req.WaitMillis != nil {
		deadline := time.Now().Add(time.Duration(*req.WaitMillis) * time.Millisecond)
		opts.Deadline = &deadline
	}

	outcome := s.coordinator.Acquire(r.Context(), req.Resource, opts)
	if outcome.Status == quota.StatusRateLimited || outcome.Status == quota.StatusExhausted {
		w.Header().Set("Retry-After", strconv.FormatFloat(outcome.Wait, 'f', 3, 64))
	}
	writeJSON(w, statusCode(outcome.Status), outcomeToJSON(outcome))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	userID := r.URL.Query().Get("user_id")
	if resource == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "resource is required"})
		return
	}

	report, err := s.manager.Status(r.Context(), resource, userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBackend(w http.ResponseWriter, r *http.Request) {
	info, err := s.manager.BackendInfo(r.Context(), s.variant)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func outcomeToJSON(o quota.Outcome) map[string]interface{} {
	out := map[string]interface{}{
		"status":       o.Status,
		"resource_key": o.ResourceKey,
		"wait":         o.Wait,
		"load":         o.Load,
		"backend":      o.Backend,
	}
	if o.LimitType != "" {
		out["limit_type"] = o.LimitType
		out["n"] = o.N
		out["w"] = o.W
	}
	if o.Err != nil {
		out["error"] = o.Err.Error()
	}
	return out
}

func statusCode(status quota.Status) int {
	switch status {
	case quota.StatusAdmitted:
		return http.StatusOK
	case quota.StatusRateLimited, quota.StatusExhausted:
		return http.StatusTooManyRequests
	case quota.StatusCancelled:
		return 499 // nginx's client-closed-request convention; net/http has no named constant
	case quota.StatusBackendErr:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
