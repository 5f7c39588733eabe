package handler

import (
	"errors"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"course-intake/internal/intake"
	"course-intake/internal/middleware"
	"course-intake/internal/model"
	"course-intake/internal/validation"
	"course-intake/pkg/log"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

// ProgressListener 接收某个用户的上传进度快照。
type ProgressListener func(ownerID uint, snapshot []model.UploadProgress)

// UploadHandler 负责处理批量上传和上传前检查的请求。
// 每个请求创建一个新的编排器，进度跟踪器按用户复用，这样同一用户的多个连接看到同一份进度。
type UploadHandler struct {
	deps           intake.Deps
	opts           intake.Options
	completedGrace time.Duration
	listeners      []ProgressListener

	mu       sync.Mutex
	trackers map[uint]*intake.ProgressTracker
	// 用户正在提交的批次，同一用户同一时间只允许一个批次。
	inFlight map[uint]bool
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。deps.Progress 会被忽略，completedGrace 为 0 时使用默认值。
func NewUploadHandler(deps intake.Deps, opts intake.Options, completedGrace time.Duration, listeners ...ProgressListener) *UploadHandler {
	if deps.Validator == nil {
		deps.Validator = validation.New(validation.Options{})
	}
	return &UploadHandler{
		deps:           deps,
		opts:           opts,
		completedGrace: completedGrace,
		listeners:      listeners,
		trackers:       make(map[uint]*intake.ProgressTracker),
		inFlight:       make(map[uint]bool),
	}
}

// tracker 返回用户的进度跟踪器，首次使用时创建并挂上所有监听者。
func (h *UploadHandler) tracker(ownerID uint) *intake.ProgressTracker {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.trackers[ownerID]; ok {
		return t
	}
	t := intake.NewProgressTracker(h.completedGrace, 0)
	for _, l := range h.listeners {
		l := l
		t.Subscribe(func(snapshot []model.UploadProgress) { l(ownerID, snapshot) })
	}
	h.trackers[ownerID] = t
	return t
}

func (h *UploadHandler) acquire(ownerID uint) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inFlight[ownerID] {
		return false
	}
	h.inFlight[ownerID] = true
	return true
}

func (h *UploadHandler) release(ownerID uint) {
	h.mu.Lock()
	delete(h.inFlight, ownerID)
	h.mu.Unlock()
}

// Upload 处理 multipart 批量上传。表单字段 files 为文件，localIds 可选地与之一一对应。
func (h *UploadHandler) Upload(c *gin.Context) {
	ownerID := middleware.OwnerID(c)
	form, err := c.MultipartForm()
	if err != nil {
		log.Warnf("[UploadHandler] 解析上传表单失败, 用户ID: %d, error: %v", ownerID, err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的上传表单", "data": nil})
		return
	}
	defer func() { _ = form.RemoveAll() }()

	if !h.acquire(ownerID) {
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": intake.ErrBatchInProgress.Error(), "data": nil})
		return
	}
	defer h.release(ownerID)

	headers := form.File["files"]
	localIDs := form.Value["localIds"]
	candidates := make([]*model.FileCandidate, 0, len(headers))
	for i, fh := range headers {
		cand := openCandidate(fh)
		if f, ok := cand.Content.(multipart.File); ok {
			defer f.Close()
		}
		if i < len(localIDs) && localIDs[i] != "" {
			cand.LocalID = localIDs[i]
		}
		candidates = append(candidates, cand)
	}

	deps := h.deps
	deps.Progress = h.tracker(ownerID)
	orch := intake.NewOrchestrator(deps, h.opts)
	orch.HandleFileSelect(model.SourceAPI, candidates...)

	res, err := orch.Submit(c.Request.Context(), intake.SubmitOptions{
		OwnerID:  ownerID,
		CourseID: c.PostForm("courseId"),
		FolderID: c.PostForm("folderId"),
	})
	if err != nil {
		if errors.Is(err, intake.ErrBatchInProgress) {
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": err.Error(), "data": nil})
			return
		}
		log.Errorf("[UploadHandler] 批次上传失败, 用户ID: %d, error: %v", ownerID, err)
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "上传失败: " + err.Error(), "data": res})
		return
	}

	status := uploadStatus(res)
	log.Infof("[UploadHandler] 批次上传结束, 用户ID: %d, %s", ownerID, res.Summary())
	c.JSON(status, gin.H{"code": status, "message": res.Summary(), "data": res})
}

func openCandidate(fh *multipart.FileHeader) *model.FileCandidate {
	f, err := fh.Open()
	if err != nil {
		log.Warnf("[UploadHandler] 打开上传文件失败, 文件名: %s, error: %v", fh.Filename, err)
		return model.NewCandidate(fh.Filename, fh.Header.Get("Content-Type"), fh.Size, nil)
	}
	return model.NewCandidate(fh.Filename, fh.Header.Get("Content-Type"), fh.Size, f)
}

func uploadStatus(res intake.BatchResult) int {
	if res.BatchError != "" {
		return http.StatusBadRequest
	}
	switch res.Outcome {
	case intake.OutcomeSuccess:
		return http.StatusOK
	case intake.OutcomePartial:
		return http.StatusMultiStatus
	default:
		return http.StatusUnprocessableEntity
	}
}

// CheckRequest 是上传前查重的入参。
type CheckRequest struct {
	Hash     string `json:"hash" binding:"required"`
	CourseID string `json:"courseId"`
}

// Check 查询内容指纹是否已经存在于用户的文件中。
func (h *UploadHandler) Check(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}
	if h.deps.Checker == nil {
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": intake.DuplicateCheck{}})
		return
	}
	result, err := h.deps.Checker.CheckDuplicate(c.Request.Context(), middleware.OwnerID(c), req.Hash, req.CourseID)
	if err != nil {
		log.Errorf("[UploadHandler] 查重失败, hash: %s, error: %v", req.Hash, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查重失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}

// SupportedTypes 返回支持的文件类型和上传限制。
func (h *UploadHandler) SupportedTypes(c *gin.Context) {
	byCategory, extensions := validation.SupportedTypes()
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"categories":       byCategory,
			"extensions":       extensions,
			"maxFileSize":      h.deps.Validator.MaxFileSize(),
			"maxFileSizeLabel": humanize.IBytes(uint64(h.deps.Validator.MaxFileSize())),
			"maxBatchFiles":    h.deps.Validator.MaxBatchFiles(),
		},
	})
}

// Progress 返回用户当前的上传进度快照，供不使用 websocket 的客户端轮询。
func (h *UploadHandler) Progress(c *gin.Context) {
	snapshot := h.tracker(middleware.OwnerID(c)).Snapshot()
	if snapshot == nil {
		snapshot = []model.UploadProgress{}
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": snapshot})
}
