// Package healthprobe serves liveness and readiness endpoints. The
// run loop flips readiness once storage and the feed are wired; until
// then /ready returns 503 so orchestrators hold traffic.
package healthprobe

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// HealthChecker tracks process liveness and readiness.
type HealthChecker struct {
	mode      string
	startTime time.Time
	ready     atomic.Bool
}

// New creates a health checker tagged with the run mode.
func New(mode string) *HealthChecker {
	return &HealthChecker{
		mode:      mode,
		startTime: time.Now(),
	}
}

// SetReady marks the application as ready to serve traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

type probeResponse struct {
	Status     string  `json:"status"`
	Mode       string  `json:"mode"`
	UptimeSecs float64 `json:"uptime_secs"`
	Message    string  `json:"message,omitempty"`
}

// Health returns the liveness handler. It answers 200 whenever the
// process is up.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.write(w, http.StatusOK, probeResponse{
			Status:     "healthy",
			Mode:       h.mode,
			UptimeSecs: time.Since(h.startTime).Seconds(),
		})
	}
}

// Ready returns the readiness handler: 200 once SetReady(true) has
// been called, 503 before.
func (h *HealthChecker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.ready.Load() {
			h.write(w, http.StatusServiceUnavailable, probeResponse{
				Status:  "not_ready",
				Mode:    h.mode,
				Message: "application is starting",
			})
			return
		}
		h.write(w, http.StatusOK, probeResponse{
			Status:     "ready",
			Mode:       h.mode,
			UptimeSecs: time.Since(h.startTime).Seconds(),
		})
	}
}

func (h *HealthChecker) write(w http.ResponseWriter, code int, resp probeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
