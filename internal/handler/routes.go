package handler

import (
	"course-intake/internal/middleware"
	"course-intake/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 汇总了所有需要注册路由的控制器。
type Handlers struct {
	Upload   *UploadHandler
	Document *DocumentHandler
	Search   *SearchHandler
	Course   *CourseHandler
	Task     *TaskHandler
	Health   *HealthHandler
	Hub      *ProgressHub
}

// RegisterRoutes 在引擎上注册所有路由，/api/v1 下的接口都需要认证。
func RegisterRoutes(r *gin.Engine, h Handlers, jwtManager *token.JWTManager) {
	r.GET("/healthz", h.Health.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		files := apiV1.Group("/files")
		{
			files.POST("/upload", h.Upload.Upload)
			files.POST("/check", h.Upload.Check)
			files.GET("/supported-types", h.Upload.SupportedTypes)
			files.GET("/progress", h.Upload.Progress)
			files.GET("/search", h.Search.Search)
			files.GET("", h.Document.ListFiles)
			files.GET("/:id", h.Document.GetFile)
			files.DELETE("/:id", h.Document.DeleteFile)
			files.GET("/:id/download", h.Document.Download)
			files.GET("/:id/preview", h.Document.Preview)
		}

		courses := apiV1.Group("/courses")
		{
			courses.GET("", h.Course.ListCourses)
			courses.POST("", h.Course.CreateCourse)
			courses.DELETE("/:id", h.Course.DeleteCourse)
			courses.POST("/detect", h.Course.Detect)
		}

		taskGroup := apiV1.Group("/tasks")
		{
			taskGroup.GET("", h.Task.ListTasks)
			taskGroup.POST("", h.Task.CreateTask)
			taskGroup.GET("/stats", h.Task.Stats)
			taskGroup.GET("/:id", h.Task.GetTask)
			taskGroup.POST("/:id/retry", h.Task.RetryTask)
		}

		apiV1.GET("/ws", h.Hub.Handle)
	}
}
