package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Usmaexe/artisanal-moroccan-market/pkg/httputil"
)

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

// Status represents the health status of a component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// DefaultTimeout bounds a whole readiness probe.
const DefaultTimeout = 5 * time.Second

// Response is the JSON body of the health endpoints.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the result of a single health check.
type CheckResult struct {
	Status   Status `json:"status"`
	Latency  string `json:"latency"`
	Error    string `json:"error,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

type registration struct {
	check    Checker
	optional bool
}

// Handler serves liveness and readiness probes.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]registration
	timeout  time.Duration
}

// NewHandler creates a health handler with DefaultTimeout.
func NewHandler() *Handler {
	return &Handler{
		checkers: make(map[string]registration),
		timeout:  DefaultTimeout,
	}
}

// Register adds a dependency whose failure makes the service not ready.
func (h *Handler) Register(name string, checker Checker) {
	h.register(name, checker, false)
}

// RegisterOptional adds a dependency that is reported but does not affect
// readiness, such as a cache the service can run without.
func (h *Handler) RegisterOptional(name string, checker Checker) {
	h.register(name, checker, true)
}

func (h *Handler) register(name string, checker Checker, optional bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = registration{check: checker, optional: optional}
}

// LivenessHandler answers 200 while the process is running.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, Response{
			Status:    StatusUp,
			Timestamp: time.Now().UTC(),
		})
	}
}

// ReadinessHandler runs every check concurrently and answers 503 when a
// required one fails.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		checks, status := h.run(ctx)

		code := http.StatusOK
		if status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, Response{
			Status:    status,
			Timestamp: time.Now().UTC(),
			Checks:    checks,
		})
	}
}

func (h *Handler) run(ctx context.Context) (map[string]CheckResult, Status) {
	h.mu.RLock()
	regs := make(map[string]registration, len(h.checkers))
	for k, v := range h.checkers {
		regs[k] = v
	}
	h.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(regs))
		overall = StatusUp
	)
	for name, reg := range regs {
		wg.Add(1)
		go func(name string, reg registration) {
			defer wg.Done()
			start := time.Now()
			err := reg.check(ctx)

			res := CheckResult{Status: StatusUp, Latency: time.Since(start).String(), Optional: reg.optional}
			if err != nil {
				res.Status = StatusDown
				res.Error = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			results[name] = res
			if err != nil && !reg.optional {
				overall = StatusDown
			}
		}(name, reg)
	}
	wg.Wait()

	return results, overall
}
