package handler

import (
	"net/http"

	"course-intake/internal/taskqueue"

	"github.com/gin-gonic/gin"
)

// QueueStats 由 *taskqueue.Queue 实现。
type QueueStats interface {
	Stats() taskqueue.Stats
}

// HealthHandler 报告进程存活状态和队列概况。
type HealthHandler struct {
	queue QueueStats
	hub   *ProgressHub
}

// NewHealthHandler 创建一个新的 HealthHandler。hub 可以为 nil。
func NewHealthHandler(queue QueueStats, hub *ProgressHub) *HealthHandler {
	return &HealthHandler{queue: queue, hub: hub}
}

// Healthz 处理存活探针请求。
func (h *HealthHandler) Healthz(c *gin.Context) {
	data := gin.H{"status": "ok", "queue": h.queue.Stats()}
	if h.hub != nil {
		data["websocketClients"] = h.hub.ClientCount()
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}
