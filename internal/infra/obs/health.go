package obs

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 2 * time.Second

// HealthHandlers serves liveness and readiness. Every check must pass for the instance to
// report ready.
type HealthHandlers struct {
	Checks      map[string]func(ctx context.Context) error
	Connections func() int
}

func (h HealthHandlers) Livez(c *gin.Context) {
	body := gin.H{"status": "ok", "time": time.Now().UTC()}
	if h.Connections != nil {
		body["connections"] = h.Connections()
	}
	c.JSON(http.StatusOK, body)
}

func (h HealthHandlers) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	ready := true
	for _, name := range names {
		if err := h.Checks[name](ctx); err != nil {
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}
	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": results})
}
