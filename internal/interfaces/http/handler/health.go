package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const readyTimeout = 2 * time.Second

// Pinger 依赖健康探测
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	checks  map[string]Pinger
	version string
}

// NewHealthHandler 创建健康检查处理器；nil 依赖视为缺失
func NewHealthHandler(version string, pg, redis Pinger) *HealthHandler {
	return &HealthHandler{
		checks:  map[string]Pinger{"postgres": pg, "redis": redis},
		version: version,
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type readinessCheck struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

type readinessResponse struct {
	Status string                     `json:"status"`
	Checks map[string]*readinessCheck `json:"checks,omitempty"`
}

// Health 健康检查接口
// @Summary 健康检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
}

// Ready 就绪检查接口，并行探测各依赖，全部可用才就绪
// @Summary 就绪检查
// @Tags System
// @Produce json
// @Success 200 {object} readinessResponse
// @Failure 503 {object} readinessResponse
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	resp := readinessResponse{Status: "ok", Checks: make(map[string]*readinessCheck, len(h.checks))}
	var g errgroup.Group
	for name, p := range h.checks {
		check := &readinessCheck{Status: "ok"}
		resp.Checks[name] = check
		if p == nil {
			check.Status = "missing"
			check.Error = name + " client not configured"
			continue
		}
		g.Go(func() error {
			start := time.Now()
			err := p.Ping(ctx)
			check.LatencyMs = time.Since(start).Milliseconds()
			if err != nil {
				check.Status = "error"
				check.Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, check := range resp.Checks {
		if check.Status != "ok" {
			resp.Status = "not_ready"
		}
	}
	if resp.Status != "ok" {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Live 存活检查接口
// @Summary 存活检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /live [get]
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
