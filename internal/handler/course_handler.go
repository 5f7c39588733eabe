package handler

import (
	"errors"
	"net/http"

	"course-intake/internal/middleware"
	"course-intake/internal/service"
	"course-intake/pkg/log"

	"github.com/gin-gonic/gin"
)

// CourseHandler 负责课程管理和文件名识别。
type CourseHandler struct {
	courseService service.CourseService
}

// NewCourseHandler 创建一个新的 CourseHandler。
func NewCourseHandler(courseService service.CourseService) *CourseHandler {
	return &CourseHandler{courseService: courseService}
}

// ListCourses 返回当前用户的课程。
func (h *CourseHandler) ListCourses(c *gin.Context) {
	courses, err := h.courseService.ListCourses(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		log.Error("[CourseHandler] 获取课程列表失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取课程列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": courses})
}

// CreateCourse 创建一门课程。
func (h *CourseHandler) CreateCourse(c *gin.Context) {
	var req service.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数: " + err.Error(), "data": nil})
		return
	}
	course, err := h.courseService.CreateCourse(c.Request.Context(), middleware.OwnerID(c), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "创建课程失败", "data": nil})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "课程创建成功", "data": course})
}

// DeleteCourse 删除一门课程，已归属该课程的文件保持不变。
func (h *CourseHandler) DeleteCourse(c *gin.Context) {
	err := h.courseService.DeleteCourse(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if errors.Is(err, service.ErrCourseNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": err.Error(), "data": nil})
		return
	}
	if err != nil {
		log.Errorf("[CourseHandler] 删除课程失败, 课程ID: %s, error: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除课程失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "课程删除成功", "data": nil})
}

// DetectRequest 是文件名识别的入参。
type DetectRequest struct {
	FileNames []string `json:"fileNames" binding:"required,min=1,max=50,dive,required"`
	Limit     int      `json:"limit" binding:"min=0,max=10"`
}

// Detect 根据文件名识别所属课程和文件类别，不会写入任何数据。
func (h *CourseHandler) Detect(c *gin.Context) {
	var req DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数: " + err.Error(), "data": nil})
		return
	}
	ownerID := middleware.OwnerID(c)
	out := make([]*service.Detection, 0, len(req.FileNames))
	for _, name := range req.FileNames {
		d, err := h.courseService.Detect(c.Request.Context(), ownerID, name, req.Limit)
		if err != nil {
			log.Errorf("[CourseHandler] 识别失败, 文件名: %s, error: %v", name, err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "识别失败", "data": nil})
			return
		}
		out = append(out, d)
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": out})
}
