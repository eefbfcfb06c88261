package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck 检查一个依赖是否可用。
type HealthCheck func(ctx context.Context) error

// HealthHandler 汇总依赖的健康状况，任一检查失败返回 503。
type HealthHandler struct {
	checks map[string]HealthCheck
	stats  func() interface{}
}

// NewHealthHandler stats 可以为 nil，非 nil 时其结果放在响应的 queue 字段中。
func NewHealthHandler(checks map[string]HealthCheck, stats func() interface{}) *HealthHandler {
	return &HealthHandler{checks: checks, stats: stats}
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	body := gin.H{"dependencies": deps}
	if h.stats != nil {
		body["queue"] = h.stats()
	}
	message := "ok"
	if status != http.StatusOK {
		message = "degraded"
	}
	respond(c, status, body, message)
}
