package obs

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Check is a named readiness probe against one dependency.
type Check struct {
	Name  string
	Probe func() error
}

// HealthHandlers exposes liveness and readiness endpoints. Readiness runs
// every registered check and reports each dependency by name.
type HealthHandlers struct {
	Checks []Check
}

func (h HealthHandlers) Livez(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h HealthHandlers) Readyz(c *gin.Context) {
	failures := gin.H{}
	for _, check := range h.Checks {
		if check.Probe == nil {
			continue
		}
		if err := check.Probe(); err != nil {
			failures[check.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": failures})
		return
	}
	c.Status(http.StatusOK)
}
