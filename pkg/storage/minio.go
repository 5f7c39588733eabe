// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"course-intake/internal/config"
	"course-intake/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// ObjectKey 返回上传文件在存储桶中的对象名：uploads/<owner>/<hash>/<name>。
func ObjectKey(ownerID uint, contentHash, fileName string) string {
	return fmt.Sprintf("uploads/%d/%s/%s", ownerID, contentHash, path.Base(fileName))
}

// Bucket 把一个存储桶包装成上传和处理流程需要的对象读写操作。
type Bucket struct {
	client *minio.Client
	name   string
}

// NewBucket 基于已初始化的客户端创建 Bucket。
func NewBucket(client *minio.Client, name string) *Bucket {
	return &Bucket{client: client, name: name}
}

// Put 上传一个对象。progress 不为 nil 时，每上传 n 字节就会从它读取 n 字节，用于上报进度。
func (b *Bucket) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, progress io.Reader) error {
	_, err := b.client.PutObject(ctx, b.name, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
		Progress:    progress,
	})
	if err != nil {
		return fmt.Errorf("上传对象 %s 失败: %w", key, err)
	}
	return nil
}

// Get 打开一个对象用于读取，调用方负责关闭。
func (b *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.name, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s 失败: %w", key, err)
	}
	return obj, nil
}

// Remove 删除一个对象。
func (b *Bucket) Remove(ctx context.Context, key string) error {
	return b.client.RemoveObject(ctx, b.name, key, minio.RemoveObjectOptions{})
}

// PresignGet 生成对象的限时下载链接。
func (b *Bucket) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, b.name, key, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
