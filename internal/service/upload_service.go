// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"course-intake/internal/intake"
	"course-intake/internal/model"
	"course-intake/internal/repository"
	"course-intake/internal/validation"
	"course-intake/pkg/log"
	"course-intake/pkg/storage"

	"github.com/google/uuid"
)

// ErrFileExists 是服务端查重命中时返回给编排器的错误，文案与前端约定一致。
var ErrFileExists = errors.New("File already exists")

// ObjectStore 是上传和处理流程用到的对象存储操作，由 storage.Bucket 实现。
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, progress io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// UploadService 是编排器的服务端协作者：它既负责落盘，也负责权威查重。
type UploadService interface {
	intake.Transmitter
	intake.DuplicateChecker
}

type uploadService struct {
	fileRepo repository.FileRepository
	objects  ObjectStore
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(fileRepo repository.FileRepository, objects ObjectStore) UploadService {
	return &uploadService{
		fileRepo: fileRepo,
		objects:  objects,
	}
}

// Transmit 逐个保存批次中的文件。单个文件的失败写入 Errors，不影响其他文件；
// 只有 ctx 被取消时才整体返回 error。
func (s *uploadService) Transmit(ctx context.Context, req intake.TransmitRequest) (intake.TransmitResponse, error) {
	log.Infof("[Upload] 开始处理上传批次，文件数: %d, 用户ID: %d, 课程: %s", len(req.Files), req.OwnerID, req.CourseID)
	var resp intake.TransmitResponse
	for _, c := range req.Files {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		record, err := s.store(ctx, req, c)
		if err != nil {
			log.Warnf("[Upload] 文件保存失败, 文件: %s, error: %v", c.Name, err)
			resp.Errors = append(resp.Errors, model.FileError{FileName: c.Name, Error: err.Error()})
			continue
		}
		resp.Files = append(resp.Files, *record)
	}
	log.Infof("[Upload] 上传批次处理完成，成功: %d, 失败: %d", len(resp.Files), len(resp.Errors))
	return resp, nil
}

func (s *uploadService) store(ctx context.Context, req intake.TransmitRequest, c *model.FileCandidate) (*model.FileRecord, error) {
	hash, err := contentHash(c)
	if err != nil {
		return nil, err
	}

	_, err = s.fileRepo.FindByHash(ctx, req.OwnerID, req.CourseID, hash)
	switch {
	case err == nil:
		return nil, ErrFileExists
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("查询重复文件失败: %w", err)
	}

	r, err := c.Reader()
	if err != nil {
		return nil, err
	}
	contentType := validation.ResolveContentType(c.ContentType, c.Name)
	key := storage.ObjectKey(req.OwnerID, hash, c.Name)
	var progress io.Reader
	if req.OnProgress != nil {
		progress = &progressReader{localID: c.LocalID, total: c.Size, fn: req.OnProgress}
	}
	if err := s.objects.Put(ctx, key, r, c.Size, contentType, progress); err != nil {
		return nil, err
	}

	record := &model.FileRecord{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		CourseID:    req.CourseID,
		FolderID:    req.FolderID,
		ContentHash: hash,
		DisplayName: c.Name,
		ContentType: contentType,
		FileSize:    c.Size,
		ObjectKey:   key,
	}
	if err := s.fileRepo.Create(ctx, record); err != nil {
		// 记录没有落库，对象成了孤儿，尽力清理
		if rmErr := s.objects.Remove(context.Background(), key); rmErr != nil {
			log.Warnf("[Upload] 清理孤儿对象失败, key: %s, error: %v", key, rmErr)
		}
		return nil, fmt.Errorf("保存文件记录失败: %w", err)
	}
	record.LocalID = c.LocalID
	log.Infof("[Upload] 文件保存成功, 文件ID: %s, 文件: %s", record.ID, record.DisplayName)
	return record, nil
}

// CheckDuplicate 按 (owner, course, hash) 查询已存在的文件。
func (s *uploadService) CheckDuplicate(ctx context.Context, ownerID uint, hash, courseID string) (intake.DuplicateCheck, error) {
	record, err := s.fileRepo.FindByHash(ctx, ownerID, courseID, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return intake.DuplicateCheck{}, nil
	}
	if err != nil {
		log.Errorf("[CheckDuplicate] 查重失败, hash: %s, error: %v", hash, err)
		return intake.DuplicateCheck{}, err
	}
	return intake.DuplicateCheck{
		IsDuplicate: true,
		ExistingFile: &intake.ExistingFile{
			ID:          record.ID,
			DisplayName: record.DisplayName,
			CreatedAt:   record.CreatedAt,
			FileSize:    record.FileSize,
		},
	}, nil
}

// contentHash 在服务端重新计算 SHA-256，不信任客户端提供的指纹。
func contentHash(c *model.FileCandidate) (string, error) {
	r, err := c.Reader()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("计算文件指纹失败: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// progressReader 是 minio 的进度回调：每上传 n 字节，minio 就从这里读 n 字节。
type progressReader struct {
	localID string
	total   int64
	loaded  atomic.Int64
	fn      intake.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n := len(b)
	loaded := p.loaded.Add(int64(n))
	if loaded > p.total {
		loaded = p.total
	}
	p.fn(p.localID, intake.ProgressEvent{Loaded: loaded, Total: p.total})
	return n, nil
}
