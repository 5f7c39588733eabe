// Package main 是应用程序的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"course-intake/internal/config"
	"course-intake/internal/digest"
	"course-intake/internal/handler"
	"course-intake/internal/intake"
	"course-intake/internal/middleware"
	"course-intake/internal/model"
	"course-intake/internal/pipeline"
	"course-intake/internal/repository"
	"course-intake/internal/service"
	"course-intake/internal/taskqueue"
	"course-intake/internal/validation"
	"course-intake/pkg/database"
	"course-intake/pkg/es"
	"course-intake/pkg/kafka"
	"course-intake/pkg/llm"
	"course-intake/pkg/log"
	"course-intake/pkg/storage"
	"course-intake/pkg/tika"
	"course-intake/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储和检索
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	publisher := kafka.NewEventPublisher(cfg.Kafka)

	// 4. 初始化 Repository 与外部客户端
	fileRepo := repository.NewFileRepository(database.DB)
	courseRepo := repository.NewCourseRepository(database.DB)
	bucket := storage.NewBucket(storage.MinioClient, cfg.MinIO.BucketName)
	fileIndex := es.NewFileIndex(es.ESClient, cfg.Elasticsearch.IndexName)
	tikaClient := tika.NewClient(cfg.Tika)
	llmClient := llm.NewClient(cfg.LLM)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	uploadService := service.NewUploadService(fileRepo, bucket)
	documentService := service.NewDocumentService(fileRepo, bucket, fileIndex)
	searchService := service.NewSearchService(fileIndex, fileRepo)
	courseService := service.NewCourseService(courseRepo)

	// 6. 初始化后台任务队列，队列实例由这里创建并注入
	processor := pipeline.NewProcessor(fileRepo, courseRepo, bucket, tikaClient, llmClient, fileIndex)
	queue := taskqueue.New(taskqueue.Options{
		Concurrency:   cfg.Queue.Concurrency,
		MaxRetries:    cfg.Queue.MaxRetries,
		RetryInterval: cfg.Queue.RetryInterval,
		SweepInterval: cfg.Queue.SweepInterval,
		Retention:     cfg.Queue.Retention,
		TaskTimeout:   cfg.Queue.TaskTimeout,
		SnapshotKey:   cfg.Queue.SnapshotKey,
	}, repository.NewQueueStore(database.RDB), processor.Handlers())

	hub := handler.NewProgressHub()
	queue.Subscribe(hub)
	queue.Subscribe(publisher)

	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()
	if err := queue.Load(queueCtx); err != nil {
		log.Warnf("恢复任务队列快照失败，将以空队列启动: %v", err)
	}
	queue.Start(queueCtx)

	// 7. 上传编排依赖
	intakeDeps := intake.Deps{
		Validator: validation.New(validation.Options{
			MaxFileSize:   cfg.Upload.MaxFileSize,
			MaxBatchFiles: cfg.Upload.MaxBatchFiles,
		}),
		Digests:     digest.NewService(cfg.Digest.Algorithm, cfg.Digest.Concurrency),
		Transmitter: uploadService,
		Checker:     uploadService,
		Seeder:      queue,
	}
	uploadHandler := handler.NewUploadHandler(
		intakeDeps,
		intake.Options{SkipDuplicateCheck: cfg.Upload.SkipDuplicateCheck},
		cfg.Upload.CompletedGrace,
		hub.PublishProgress,
		func(_ uint, snapshot []model.UploadProgress) { publisher.OnProgress(snapshot) },
	)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	handler.RegisterRoutes(r, handler.Handlers{
		Upload:   uploadHandler,
		Document: handler.NewDocumentHandler(documentService),
		Search:   handler.NewSearchHandler(searchService),
		Course:   handler.NewCourseHandler(courseService),
		Task:     handler.NewTaskHandler(queue, documentService),
		Health:   handler.NewHealthHandler(queue, hub),
		Hub:      hub,
	}, jwtManager)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// 先停队列再关 Kafka，保证最后的任务状态能被发布
	queue.Stop()
	if err := publisher.Close(); err != nil {
		log.Error("关闭 Kafka 生产者失败", err)
	}
	database.Close()

	log.Info("服务已优雅关闭")
}
