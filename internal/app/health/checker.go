package health

import (
	"context"
	"net/http"
	"time"

	"persistenceai/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Checker struct {
	registry RegistryChecker
	locks    PingChecker
	events   PingChecker
	logger   logger.Logger
}

// RegistryChecker reports the durability state of the session registry.
// Verify retries a checkpoint and clears the degraded state on success.
type RegistryChecker interface {
	Degraded() error
	Verify(ctx context.Context) error
}

type PingChecker interface {
	Ping(ctx context.Context) error
}

// NewChecker builds a checker. locks and events are optional; nil skips the
// check (memory lock backend, events disabled).
func NewChecker(registry RegistryChecker, locks, events PingChecker, logger logger.Logger) *Checker {
	return &Checker{
		registry: registry,
		locks:    locks,
		events:   events,
		logger:   logger,
	}
}

type Status struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (h *Checker) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, Status{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Checker) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	if h.registry != nil {
		if err := h.checkRegistry(ctx); err != nil {
			checks["registry"] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			checks["registry"] = "healthy"
		}
	}

	if h.locks != nil {
		if err := h.locks.Ping(ctx); err != nil {
			checks["locks"] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			checks["locks"] = "healthy"
		}
	}

	// Events are best effort: a broker outage is reported but does not take
	// the server out of rotation.
	if h.events != nil {
		if err := h.events.Ping(ctx); err != nil {
			checks["events"] = "degraded: " + err.Error()
		} else {
			checks["events"] = "healthy"
		}
	}

	if !healthy {
		h.logger.Warn(ctx, "readiness check failed", logger.Field{Key: "checks", Value: checks})
		c.JSON(http.StatusServiceUnavailable, Status{
			Status:    "not_ready",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checks,
		})
		return
	}

	c.JSON(http.StatusOK, Status{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// checkRegistry gives a degraded registry one chance to recover.
func (h *Checker) checkRegistry(ctx context.Context) error {
	if h.registry.Degraded() == nil {
		return nil
	}
	if err := h.registry.Verify(ctx); err != nil {
		return err
	}
	h.logger.Info(ctx, "registry recovered from degraded state")
	return nil
}
