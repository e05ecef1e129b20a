// Package health serves liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"rendezvous/internal/notify"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a single health check
type CheckResult struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Response is the body of both endpoints
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
	Stats  map[string]int         `json:"stats,omitempty"`
}

// Checker is one dependency probed by the readiness endpoint
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Handler manages health checks and provides HTTP handlers
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
	stats    func() map[string]int
}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) AddChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// SetStats attaches live counters (connections, rooms) to readiness responses
func (h *Handler) SetStats(fn func() map[string]int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats = fn
}

// LivenessHandler handles GET /healthz. It only reports that the process is serving.
func (h *Handler) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, http.StatusOK, Response{Status: StatusHealthy})
}

// ReadinessHandler handles GET /readyz
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	resp := h.Run(r.Context())

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeResponse(w, code, resp)
}

// Run executes every checker concurrently and folds the results
func (h *Handler) Run(ctx context.Context) Response {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	stats := h.stats
	h.mu.RUnlock()

	resp := Response{
		Status: StatusHealthy,
		Checks: make(map[string]CheckResult, len(checkers)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			result := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			resp.Checks[c.Name()] = result
			switch {
			case result.Status == StatusUnhealthy:
				resp.Status = StatusUnhealthy
			case result.Status == StatusDegraded && resp.Status == StatusHealthy:
				resp.Status = StatusDegraded
			}
		}(c)
	}
	wg.Wait()

	if stats != nil {
		resp.Stats = stats()
	}
	return resp
}

func writeResponse(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// PingChecker reports unhealthy when ping fails or exceeds its timeout
type PingChecker struct {
	name    string
	ping    func(ctx context.Context) error
	timeout time.Duration
}

func NewPingChecker(name string, ping func(ctx context.Context) error, timeout time.Duration) *PingChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PingChecker{name: name, ping: ping, timeout: timeout}
}

func (p *PingChecker) Name() string { return p.name }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := p.ping(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, LatencyMs: latency, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, LatencyMs: latency}
}

// BreakerChecker reports the push pipeline as degraded while its circuit is
// not closed. Push is best-effort, so it never makes the service unready.
type BreakerChecker struct {
	breaker *notify.Breaker
}

func NewBreakerChecker(b *notify.Breaker) *BreakerChecker {
	return &BreakerChecker{breaker: b}
}

func (b *BreakerChecker) Name() string { return "push" }

func (b *BreakerChecker) Check(context.Context) CheckResult {
	state := b.breaker.State()
	if state == notify.StateClosed {
		return CheckResult{Status: StatusHealthy}
	}
	return CheckResult{Status: StatusDegraded, Error: "circuit " + state.String()}
}
