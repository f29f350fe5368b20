package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/frahmantamala/peerpay/internal/transport"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CheckedAt  time.Time      `json:"checked_at"`
	DurationMs int64          `json:"duration_ms"`
}

// Pinger is satisfied by *sqlx.DB and *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DetailFunc reports extra state for the health payload, e.g. queue depth.
type DetailFunc func() map[string]any

type HealthHandler struct {
	*transport.BaseHandler
	checks  map[string]Pinger
	details map[string]DetailFunc
	timeout time.Duration
}

func NewHealthHandler(base *transport.BaseHandler) *HealthHandler {
	return &HealthHandler{
		BaseHandler: base,
		checks:      make(map[string]Pinger),
		details:     make(map[string]DetailFunc),
		timeout:     2 * time.Second,
	}
}

func (h *HealthHandler) AddCheck(name string, p Pinger) *HealthHandler {
	h.checks[name] = p
	return h
}

func (h *HealthHandler) AddDetails(name string, fn DetailFunc) *HealthHandler {
	h.details[name] = fn
	return h
}

// Ping handles GET /api/v1/ping: the process is up.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// Health handles GET /api/v1/health: every registered dependency answers.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{
		Status:     HealthHealthy,
		Components: make(map[string]CheckEntry, len(h.checks)+len(h.details)),
	}

	for name, check := range h.checks {
		start := time.Now()
		err := check.PingContext(ctx)

		entry := CheckEntry{
			Status:     HealthHealthy,
			CheckedAt:  time.Now(),
			DurationMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			entry.Status = HealthUnhealthy
			entry.Message = err.Error()
			resp.Status = HealthUnhealthy
		}
		resp.Components[name] = entry
	}

	for name, fn := range h.details {
		resp.Components[name] = CheckEntry{
			Status:    HealthHealthy,
			Details:   fn(),
			CheckedAt: time.Now(),
		}
	}
	resp.CheckedAt = time.Now()

	statusCode := http.StatusOK
	if resp.Status == HealthUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	h.WriteJSON(w, statusCode, resp)
}
