package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/irfndi/correlation-regime-go/internal/services"
)

var startTime = time.Now()

// HealthChecker is satisfied by the Postgres and Redis connections.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BreakerReporter exposes data source circuit breakers.
type BreakerReporter interface {
	BreakerStatus() map[string]services.BreakerStatus
}

type HealthHandler struct {
	checks   map[string]HealthChecker
	breakers BreakerReporter
	version string
	timeout time.Duration
	memStat func() (*mem.VirtualMemoryStat, error)
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	System    SystemStats       `json:"system"`

	Breakers map[string]services.BreakerStatus `json:"breakers,omitempty"`
}

type SystemStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryUsedPct float64 `json:"memory_used_pct,omitempty"`
	MemoryTotalMB uint64  `json:"memory_total_mb,omitempty"`
}

// NewHealthHandler checks every entry of checks; nil entries report "not configured".
func NewHealthHandler(checks map[string]HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		version: version,
		timeout: 3 * time.Second,
		memStat: mem.VirtualMemory,
	}
}

// WithBreakers adds breaker states to the report. An open breaker marks the
// service degraded without failing the check.
func (h *HealthHandler) WithBreakers(r BreakerReporter) *HealthHandler {
	h.breakers = r
	return h
}

// HealthCheck handles GET /health. Any unhealthy dependency yields 503.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	status := "healthy"
	for name, check := range h.checks {
		switch {
		case check == nil:
			deps[name] = "unhealthy: not configured"
			status = "unhealthy"
		default:
			if err := check.HealthCheck(ctx); err != nil {
				deps[name] = "unhealthy: " + err.Error()
				status = "unhealthy"
			} else {
				deps[name] = "healthy"
			}
		}
	}

	var breakers map[string]services.BreakerStatus
	if h.breakers != nil {
		breakers = h.breakers.BreakerStatus()
		for _, b := range breakers {
			if b.State != services.BreakerClosed.String() && status == "healthy" {
				status = "degraded"
			}
		}
	}

	system := SystemStats{Goroutines: runtime.NumGoroutine()}
	if vm, err := h.memStat(); err == nil && vm != nil {
		system.MemoryUsedPct = vm.UsedPercent
		system.MemoryTotalMB = vm.Total / (1024 * 1024)
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Services:  deps,
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
		System:    system,
		Breakers:  breakers,
	})
}
