package health

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/igorvboas/medcall-ai-sub003/internal/transcription"
	"github.com/igorvboas/medcall-ai-sub003/internal/voicesession"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines    int    `json:"goroutines"`
	MemoryAllocMB uint64 `json:"memory_alloc_mb"`
	MemorySysMB   uint64 `json:"memory_sys_mb"`
	NumGC         uint32 `json:"num_gc"`
}

type Stats struct {
	ActiveSessions int          `json:"active_sessions"`
	Runtime        RuntimeStats `json:"runtime"`
}

type HealthResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Stats         Stats                      `json:"stats"`
	Components    map[string]ComponentStatus `json:"components"`
}

type Handler struct {
	db         *gorm.DB
	redis      *redis.Client
	sttConfig  transcription.Config
	manager    *voicesession.Manager
	httpClient *http.Client
	version    string
	startTime  time.Time
}

func NewHandler(db *gorm.DB, redisClient *redis.Client, sttConfig transcription.Config,
	manager *voicesession.Manager, version string) *Handler {
	return &Handler{
		db:         db,
		redis:      redisClient,
		sttConfig:  sttConfig,
		manager:    manager,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		version:    version,
		startTime:  time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
}

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	components := make(map[string]ComponentStatus)
	var mu sync.Mutex
	var wg sync.WaitGroup

	checks := []struct {
		name  string
		check func(context.Context) ComponentStatus
	}{
		{"database", h.checkDatabase},
		{"redis", h.checkRedis},
		{"transcription_backend", h.checkBackend},
	}

	wg.Add(len(checks))
	for _, check := range checks {
		go func(name string, fn func(context.Context) ComponentStatus) {
			defer wg.Done()
			status := fn(ctx)
			mu.Lock()
			components[name] = status
			mu.Unlock()
		}(check.name, check.check)
	}
	wg.Wait()

	overall := h.computeOverallStatus(components)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := HealthResponse{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Stats: Stats{
			ActiveSessions: h.manager.ActiveCount(),
			Runtime: RuntimeStats{
				Goroutines:    runtime.NumGoroutine(),
				MemoryAllocMB: memStats.Alloc / 1024 / 1024,
				MemorySysMB:   memStats.Sys / 1024 / 1024,
				NumGC:         memStats.NumGC,
			},
		},
		Components: components,
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	return c.JSON(statusCode, resp)
}

func (h *Handler) checkDatabase(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.db == nil {
		return ComponentStatus{Status: StatusUnhealthy, Error: "database not configured"}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "failed to get underlying db",
		}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}
	return ComponentStatus{Status: StatusHealthy, LatencyMs: time.Since(start).Milliseconds()}
}

func (h *Handler) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.redis == nil {
		return ComponentStatus{Status: StatusUnhealthy, Error: "redis not configured"}
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}
	return ComponentStatus{Status: StatusHealthy, LatencyMs: time.Since(start).Milliseconds()}
}

// checkBackend probes the speech backend. An unreachable backend degrades
// the service (the simulator can cover for it) rather than killing it.
func (h *Handler) checkBackend(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.sttConfig.BaseURL == "" {
		return ComponentStatus{Status: StatusDegraded, Error: "backend not configured"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.sttConfig.BaseURL+"/health", nil)
	if err != nil {
		return ComponentStatus{Status: StatusDegraded, Error: "bad backend URL"}
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return ComponentStatus{
			Status:    StatusDegraded,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "unreachable",
		}
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return ComponentStatus{
			Status:    StatusDegraded,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     http.StatusText(resp.StatusCode),
		}
	}
	return ComponentStatus{Status: StatusHealthy, LatencyMs: time.Since(start).Milliseconds()}
}

func (h *Handler) computeOverallStatus(components map[string]ComponentStatus) Status {
	// Database and redis are load-bearing; the transcription backend only
	// degrades because the fallback can keep transcripts flowing.
	for _, name := range []string{"database", "redis"} {
		if status, ok := components[name]; ok && status.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
	}

	for _, status := range components {
		if status.Status != StatusHealthy {
			return StatusDegraded
		}
	}
	return StatusHealthy
}
