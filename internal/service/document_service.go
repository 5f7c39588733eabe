// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"course-intake/internal/model"
	"course-intake/internal/repository"
	"course-intake/pkg/log"
)

// ErrFileNotFound 表示文件不存在或不属于调用者，两种情况对外不做区分。
var ErrFileNotFound = errors.New("文件不存在或无权访问")

const (
	downloadURLExpiry = time.Hour
	previewMaxRunes   = 5000
)

// DownloadInfoDTO 封装了文件下载链接所需的信息。
type DownloadInfoDTO struct {
	FileName    string `json:"fileName"`
	DownloadURL string `json:"downloadUrl"`
	FileSize    int64  `json:"fileSize"`
}

// PreviewInfoDTO 封装了文件预览所需的信息。Content 来自文本抽取任务，任务未完成时为空。
type PreviewInfoDTO struct {
	FileName  string `json:"fileName"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
	FileSize  int64  `json:"fileSize"`
}

// DocumentService 接口定义了已上传课程文件的管理操作。
type DocumentService interface {
	ListFiles(ctx context.Context, ownerID uint, courseID string) ([]model.FileRecord, error)
	GetFile(ctx context.Context, ownerID uint, fileID string) (*model.FileRecord, error)
	DeleteFile(ctx context.Context, ownerID uint, fileID string) error
	GenerateDownloadURL(ctx context.Context, ownerID uint, fileID string) (*DownloadInfoDTO, error)
	GetFilePreviewContent(ctx context.Context, ownerID uint, fileID string) (*PreviewInfoDTO, error)
}

type documentService struct {
	fileRepo repository.FileRepository
	objects  ObjectStore
	index    FileIndex
}

// NewDocumentService 创建一个新的 DocumentService 实例。index 可以为 nil。
func NewDocumentService(fileRepo repository.FileRepository, objects ObjectStore, index FileIndex) DocumentService {
	return &documentService{
		fileRepo: fileRepo,
		objects:  objects,
		index:    index,
	}
}

// ListFiles 获取用户上传的文件列表，courseID 为空时返回全部课程。
func (s *documentService) ListFiles(ctx context.Context, ownerID uint, courseID string) ([]model.FileRecord, error) {
	files, err := s.fileRepo.FindByOwner(ctx, ownerID, courseID)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []model.FileRecord{}
	}
	return files, nil
}

// GetFile 获取一个属于调用者的文件。
func (s *documentService) GetFile(ctx context.Context, ownerID uint, fileID string) (*model.FileRecord, error) {
	record, err := s.fileRepo.FindByID(ctx, fileID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	if record.OwnerID != ownerID {
		return nil, ErrFileNotFound
	}
	return record, nil
}

// DeleteFile 删除文件记录，并尽力清理对象存储和检索索引。
func (s *documentService) DeleteFile(ctx context.Context, ownerID uint, fileID string) error {
	record, err := s.GetFile(ctx, ownerID, fileID)
	if err != nil {
		return err
	}

	if record.ObjectKey != "" {
		if err := s.objects.Remove(ctx, record.ObjectKey); err != nil {
			log.Warnf("[DocumentService] 删除存储对象失败, key: %s, error: %v", record.ObjectKey, err)
		}
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, record.ID); err != nil {
			log.Warnf("[DocumentService] 删除索引文档失败, 文件ID: %s, error: %v", record.ID, err)
		}
	}

	if err := s.fileRepo.Delete(ctx, record.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrFileNotFound
		}
		return err
	}
	log.Infof("[DocumentService] 文件已删除, 文件ID: %s, 用户ID: %d", record.ID, ownerID)
	return nil
}

// GenerateDownloadURL 生成文件的临时下载链接，有效期一小时。
func (s *documentService) GenerateDownloadURL(ctx context.Context, ownerID uint, fileID string) (*DownloadInfoDTO, error) {
	record, err := s.GetFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	url, err := s.objects.PresignGet(ctx, record.ObjectKey, downloadURLExpiry)
	if err != nil {
		log.Errorf("[DocumentService] 生成下载链接失败, 文件ID: %s, error: %v", record.ID, err)
		return nil, err
	}
	return &DownloadInfoDTO{
		FileName:    record.DisplayName,
		DownloadURL: url,
		FileSize:    record.FileSize,
	}, nil
}

// GetFilePreviewContent 返回已抽取文本的前一部分作为预览。
func (s *documentService) GetFilePreviewContent(ctx context.Context, ownerID uint, fileID string) (*PreviewInfoDTO, error) {
	record, err := s.GetFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	content, truncated := truncateRunes(record.ExtractedText, previewMaxRunes)
	return &PreviewInfoDTO{
		FileName:  record.DisplayName,
		Content:   content,
		Truncated: truncated,
		FileSize:  record.FileSize,
	}, nil
}

func truncateRunes(s string, max int) (string, bool) {
	if utf8.RuneCountInString(s) <= max {
		return s, false
	}
	return string([]rune(s)[:max]), true
}
