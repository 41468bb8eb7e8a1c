package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tayteboss/bfl/internal/platform/httpx"
)

const readinessTimeout = 3 * time.Second

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string
	CommitSHA string
	StartedAt time.Time
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build  BuildInfo
	now    func() time.Time
	checks map[string]ReadinessCheck
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo reports build metadata on /healthz.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) { h.build = info }
}

// WithHealthClock overrides the clock used for uptime.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

// WithReadinessCheck adds a named dependency check to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) HealthOption {
	return func(h *HealthHandlers) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

// NewHealthHandlers constructs probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now, checks: map[string]ReadinessCheck{}}
	for _, opt := range opts {
		opt(h)
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

// Healthz reports liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	payload := map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.build.StartedAt).Round(time.Second).String(),
		"timestamp": now.Format(time.RFC3339),
	}
	if h.build.Version != "" {
		payload["version"] = h.build.Version
	}
	if h.build.CommitSHA != "" {
		payload["commitSha"] = h.build.CommitSHA
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

// Readyz runs every readiness check concurrently and reports 503 when any fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var mu sync.Mutex
	results := make(map[string]string, len(h.checks))
	var g errgroup.Group
	for name, check := range h.checks {
		name, check := name, check
		g.Go(func() error {
			status := "ok"
			if err := check(ctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	failed := make([]string, 0)
	for _, name := range names {
		if results[name] != "ok" {
			failed = append(failed, name)
		}
	}

	status, code := "ok", http.StatusOK
	if len(failed) > 0 {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, code, map[string]any{
		"status": status,
		"checks": results,
		"failed": failed,
	})
}
