package handler

import (
	"errors"
	"net/http"

	"course-intake/internal/middleware"
	"course-intake/internal/service"
	"course-intake/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责处理所有与已上传文件管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// ListFiles 处理获取用户已上传文件列表的请求，可按 courseId 过滤。
func (h *DocumentHandler) ListFiles(c *gin.Context) {
	ownerID := middleware.OwnerID(c)
	files, err := h.docService.ListFiles(c.Request.Context(), ownerID, c.Query("courseId"))
	if err != nil {
		log.Error("[DocumentHandler] 获取文件列表失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取文件列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取文件列表成功",
		"data":    files,
	})
}

// GetFile 处理获取单个文件详情的请求。
func (h *DocumentHandler) GetFile(c *gin.Context) {
	file, err := h.docService.GetFile(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		respondDocumentError(c, "获取文件", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": file})
}

// DeleteFile 处理删除文件的请求。
func (h *DocumentHandler) DeleteFile(c *gin.Context) {
	if err := h.docService.DeleteFile(c.Request.Context(), middleware.OwnerID(c), c.Param("id")); err != nil {
		respondDocumentError(c, "删除文件", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "文件删除成功", "data": nil})
}

// Download 处理生成下载链接的请求。
func (h *DocumentHandler) Download(c *gin.Context) {
	info, err := h.docService.GenerateDownloadURL(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		respondDocumentError(c, "生成下载链接", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "文件下载链接生成成功", "data": info})
}

// Preview 处理文件预览的请求。
func (h *DocumentHandler) Preview(c *gin.Context) {
	info, err := h.docService.GetFilePreviewContent(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		respondDocumentError(c, "获取文件预览", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": info})
}

func respondDocumentError(c *gin.Context, action string, err error) {
	if errors.Is(err, service.ErrFileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": err.Error(), "data": nil})
		return
	}
	log.Errorf("[DocumentHandler] %s失败, 文件ID: %s, error: %v", action, c.Param("id"), err)
	c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": action + "失败", "data": nil})
}
