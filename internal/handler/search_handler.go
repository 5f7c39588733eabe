package handler

import (
	"net/http"
	"strconv"

	"course-intake/internal/middleware"
	"course-intake/internal/service"
	"course-intake/pkg/log"

	"github.com/gin-gonic/gin"
)

const maxSearchSize = 100

// SearchHandler 负责处理文件检索请求。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 按关键字检索当前用户的文件。q 为空时按上传时间倒序列出。
func (h *SearchHandler) Search(c *gin.Context) {
	size := 0
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSearchSize {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "size 参数无效", "data": nil})
			return
		}
		size = n
	}

	results, total, err := h.searchService.Search(c.Request.Context(), service.SearchQuery{
		OwnerID:  middleware.OwnerID(c),
		Query:    c.Query("q"),
		CourseID: c.Query("courseId"),
		Category: c.Query("category"),
		Size:     size,
	})
	if err != nil {
		log.Errorf("[SearchHandler] 检索失败, query: %s, error: %v", c.Query("q"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "检索失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"results": results,
			"total":   total,
		},
	})
}
