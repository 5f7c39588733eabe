package handler

import (
	"context"
	"errors"
	"net/http"

	"course-intake/internal/middleware"
	"course-intake/internal/service"
	"course-intake/internal/taskqueue"
	"course-intake/pkg/log"

	"github.com/gin-gonic/gin"
)

// TaskQueue 是任务接口依赖的队列操作，由 *taskqueue.Queue 实现。
type TaskQueue interface {
	AddTask(ctx context.Context, spec taskqueue.TaskSpec) (string, error)
	GetTaskStatus(id string) (taskqueue.Task, bool)
	Retry(id string) (taskqueue.Task, error)
	Tasks() []taskqueue.Task
}

// TaskHandler 负责后台增强任务的查询、创建和重试。用户只能看到自己文件的任务。
type TaskHandler struct {
	queue      TaskQueue
	docService service.DocumentService
}

// NewTaskHandler 创建一个新的 TaskHandler。
func NewTaskHandler(queue TaskQueue, docService service.DocumentService) *TaskHandler {
	return &TaskHandler{queue: queue, docService: docService}
}

// ListTasks 返回当前用户的任务，可按 fileId 过滤。
func (h *TaskHandler) ListTasks(c *gin.Context) {
	ownerID := middleware.OwnerID(c)
	fileID := c.Query("fileId")
	out := make([]taskqueue.Task, 0)
	for _, t := range h.queue.Tasks() {
		if t.OwnerID != ownerID {
			continue
		}
		if fileID != "" && t.FileID != fileID {
			continue
		}
		out = append(out, t)
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": out})
}

// Stats 返回当前用户各状态的任务数量。
func (h *TaskHandler) Stats(c *gin.Context) {
	ownerID := middleware.OwnerID(c)
	var stats taskqueue.Stats
	for _, t := range h.queue.Tasks() {
		if t.OwnerID != ownerID {
			continue
		}
		stats.Total++
		switch t.Status {
		case taskqueue.StatusPending:
			stats.Pending++
		case taskqueue.StatusProcessing:
			stats.Processing++
		case taskqueue.StatusCompleted:
			stats.Completed++
		case taskqueue.StatusFailed:
			stats.Failed++
		}
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": stats})
}

// GetTask 返回单个任务的状态。
func (h *TaskHandler) GetTask(c *gin.Context) {
	t, ok := h.ownedTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": t})
}

// CreateTaskRequest 是手动创建摘要或翻译任务的入参。
type CreateTaskRequest struct {
	FileID         string             `json:"fileId" binding:"required"`
	TaskType       taskqueue.TaskType `json:"taskType" binding:"required,oneof=summary translation"`
	Priority       taskqueue.Priority `json:"priority" binding:"omitempty,oneof=high medium low"`
	MaxWords       int                `json:"maxWords" binding:"omitempty,min=20,max=1000"`
	TargetLanguage string             `json:"targetLanguage"`
}

// CreateTask 为用户的一个文件创建摘要或翻译任务。
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数: " + err.Error(), "data": nil})
		return
	}
	ownerID := middleware.OwnerID(c)
	file, err := h.docService.GetFile(c.Request.Context(), ownerID, req.FileID)
	if err != nil {
		respondDocumentError(c, "创建任务", err)
		return
	}

	var payload taskqueue.Payload
	switch req.TaskType {
	case taskqueue.TaskSummary:
		payload = taskqueue.SummaryPayload{MaxWords: req.MaxWords}
	case taskqueue.TaskTranslation:
		if req.TargetLanguage == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "翻译任务需要 targetLanguage", "data": nil})
			return
		}
		payload = taskqueue.TranslationPayload{TargetLanguage: req.TargetLanguage}
	}

	id, err := h.queue.AddTask(c.Request.Context(), taskqueue.TaskSpec{
		FileID:   file.ID,
		OwnerID:  ownerID,
		FileName: file.DisplayName,
		FileType: file.ContentType,
		Priority: req.Priority,
		Payload:  payload,
	})
	if err != nil {
		log.Errorf("[TaskHandler] 创建任务失败, 文件ID: %s, error: %v", file.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "创建任务失败", "data": nil})
		return
	}
	t, _ := h.queue.GetTaskStatus(id)
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "任务已创建", "data": t})
}

// RetryTask 重新调度一个已失败的任务。
func (h *TaskHandler) RetryTask(c *gin.Context) {
	t, ok := h.ownedTask(c)
	if !ok {
		return
	}
	retried, err := h.queue.Retry(t.ID)
	if errors.Is(err, taskqueue.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "任务不存在", "data": nil})
		return
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": err.Error(), "data": retried})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "任务已重新排队", "data": retried})
}

func (h *TaskHandler) ownedTask(c *gin.Context) (taskqueue.Task, bool) {
	t, ok := h.queue.GetTaskStatus(c.Param("id"))
	if !ok || t.OwnerID != middleware.OwnerID(c) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "任务不存在", "data": nil})
		return taskqueue.Task{}, false
	}
	return t, true
}
