package status

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cadence/internal/storage"
	logx "cadence/pkg/logx"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
)

// Handler returns the router for the current config. Start serves the
// same router; tests use it directly.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	return s.router(cur)
}

func (s *Service) router(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(cfg.Token))
		r.Get("/jobs", s.handleJobs())
		r.Get("/runs", s.handleRuns())
		r.Get("/jobs/{name}/runs", s.handleRuns())
		if s.src.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.src.Metrics)
		}
		if cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

func (s *Service) handleJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.src.Jobs == nil {
			http.Error(w, "job listing unavailable", http.StatusNotFound)
			return
		}
		jobs, err := s.src.Jobs(r.Context())
		if err != nil {
			s.log.Warn("list jobs failed", logx.Err(err))
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if jobs == nil {
			jobs = []JobInfo{}
		}
		writeJSON(w, jobs)
	}
}

// handleRuns serves /runs?job=&limit= and /jobs/{name}/runs?limit=.
func (s *Service) handleRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.src.Runs == nil {
			http.Error(w, "storage disabled", http.StatusNotFound)
			return
		}
		job := chi.URLParam(r, "name")
		if job == "" {
			job = strings.TrimSpace(r.URL.Query().Get("job"))
		}
		limit := defaultRunLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxRunLimit)
		}
		runs, err := s.src.Runs(r.Context(), job, limit)
		if err != nil {
			s.log.Warn("read run history failed", logx.Err(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []storage.RunRecord{}
		}
		writeJSON(w, runs)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// authMiddleware accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func authMiddleware(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				got, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
