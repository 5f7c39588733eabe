// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"

	"course-intake/internal/model"

	"gorm.io/gorm"
)

// ErrNotFound 表示记录不存在，屏蔽了 gorm.ErrRecordNotFound。
var ErrNotFound = errors.New("record not found")

// FileRepository 接口定义了课程文件记录的持久化操作。
type FileRepository interface {
	Create(ctx context.Context, record *model.FileRecord) error
	FindByID(ctx context.Context, id string) (*model.FileRecord, error)
	// FindByHash 按 (owner, course, content_hash) 查找文件，是服务端查重的依据。
	FindByHash(ctx context.Context, ownerID uint, courseID, contentHash string) (*model.FileRecord, error)
	FindByOwner(ctx context.Context, ownerID uint, courseID string) ([]model.FileRecord, error)
	FindBatchByIDs(ctx context.Context, ids []string) ([]model.FileRecord, error)
	UpdateClassification(ctx context.Context, id, category, suggestedCourseID string, confidence int) error
	UpdateExtractedText(ctx context.Context, id, text string) error
	UpdateSummary(ctx context.Context, id, summary string) error
	UpdateTranslation(ctx context.Context, id, translation string) error
	Delete(ctx context.Context, id string) error
}

// fileRepository 是 FileRepository 接口的 GORM 实现。
type fileRepository struct {
	db *gorm.DB
}

// NewFileRepository 创建一个新的 FileRepository 实例。
func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

// Create 在数据库中创建一条文件记录。
func (r *fileRepository) Create(ctx context.Context, record *model.FileRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByID 根据文件 ID 检索文件记录。
func (r *fileRepository) FindByID(ctx context.Context, id string) (*model.FileRecord, error) {
	var record model.FileRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		return nil, translate(err)
	}
	return &record, nil
}

// FindByHash 根据内容指纹检索同一用户、同一课程下的文件。
func (r *fileRepository) FindByHash(ctx context.Context, ownerID uint, courseID, contentHash string) (*model.FileRecord, error) {
	var record model.FileRecord
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND course_id = ? AND content_hash = ?", ownerID, courseID, contentHash).
		First(&record).Error
	if err != nil {
		return nil, translate(err)
	}
	return &record, nil
}

// FindByOwner 查找用户的文件，courseID 为空时返回全部课程的文件。
func (r *fileRepository) FindByOwner(ctx context.Context, ownerID uint, courseID string) ([]model.FileRecord, error) {
	var files []model.FileRecord
	q := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if courseID != "" {
		q = q.Where("course_id = ?", courseID)
	}
	err := q.Order("created_at desc").Find(&files).Error
	return files, err
}

// FindBatchByIDs finds file records by a slice of IDs.
func (r *fileRepository) FindBatchByIDs(ctx context.Context, ids []string) ([]model.FileRecord, error) {
	var files []model.FileRecord
	if len(ids) == 0 {
		return files, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&files).Error
	return files, err
}

// UpdateClassification 回填分类任务的结果。
func (r *fileRepository) UpdateClassification(ctx context.Context, id, category, suggestedCourseID string, confidence int) error {
	return r.updates(ctx, id, map[string]interface{}{
		"category":            category,
		"suggested_course_id": suggestedCourseID,
		"course_confidence":   confidence,
	})
}

// UpdateExtractedText 回填文本抽取任务的结果。
func (r *fileRepository) UpdateExtractedText(ctx context.Context, id, text string) error {
	return r.updates(ctx, id, map[string]interface{}{"extracted_text": text})
}

// UpdateSummary 回填摘要任务的结果。
func (r *fileRepository) UpdateSummary(ctx context.Context, id, summary string) error {
	return r.updates(ctx, id, map[string]interface{}{"summary": summary})
}

// UpdateTranslation 回填翻译任务的结果。
func (r *fileRepository) UpdateTranslation(ctx context.Context, id, translation string) error {
	return r.updates(ctx, id, map[string]interface{}{"translation": translation})
}

// Delete 删除一条文件记录。
func (r *fileRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.FileRecord{})
	if res.Error != nil {
		return fmt.Errorf("删除文件记录失败（id=%s）: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepository) updates(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.FileRecord{}).Where("id = ?", id).Updates(fields).Error
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
