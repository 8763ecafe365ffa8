package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const healthCheckTimeout = 2 * time.Second

const (
	statusPass = "pass"
	statusFail = "fail"
)

// pinger is a dependency the service cannot sign users in without
type pinger interface {
	Ping(ctx context.Context) error
}

type HealthChecker struct {
	deps   map[string]pinger
	logger *zap.Logger
}

func NewHealthChecker(infra Infrastructure) *HealthChecker {
	return &HealthChecker{
		deps: map[string]pinger{
			"postgres": infra.Postgres(),
			"redis":    infra.Redis(),
		},
		logger: infra.Logger(),
	}
}

// check pings every dependency concurrently and reports each one's status
func (h *HealthChecker) check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		healthy = true
		checks  = make(map[string]string, len(h.deps))
	)

	for name, dep := range h.deps {
		name, dep := name, dep
		wg.Add(1)
		go func() {
			defer wg.Done()

			status := statusPass
			if err := dep.Ping(ctx); err != nil {
				status = statusFail
				h.logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			}

			mu.Lock()
			defer mu.Unlock()
			checks[name] = status
			if status == statusFail {
				healthy = false
			}
		}()
	}
	wg.Wait()

	return checks, healthy
}

func (h *HealthChecker) Handler(c *gin.Context) {
	checks, healthy := h.check(c.Request.Context())
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": statusFail,
			"checks": checks,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": statusPass,
		"checks": checks,
	})
}
