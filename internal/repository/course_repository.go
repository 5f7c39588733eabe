package repository

import (
	"context"

	"course-intake/internal/model"

	"gorm.io/gorm"
)

// CourseRepository 接口定义了课程的数据操作方法。
type CourseRepository interface {
	Create(ctx context.Context, course *model.Course) error
	FindByID(ctx context.Context, id string) (*model.Course, error)
	FindByOwner(ctx context.Context, ownerID uint) ([]model.Course, error)
	Update(ctx context.Context, course *model.Course) error
	Delete(ctx context.Context, id string) error
}

type courseRepository struct {
	db *gorm.DB
}

// NewCourseRepository 创建一个新的 CourseRepository 实例。
func NewCourseRepository(db *gorm.DB) CourseRepository {
	return &courseRepository{db: db}
}

// Create 在数据库中插入一个新的课程记录。
func (r *courseRepository) Create(ctx context.Context, course *model.Course) error {
	return r.db.WithContext(ctx).Create(course).Error
}

// FindByID 根据课程 ID 查找课程。
func (r *courseRepository) FindByID(ctx context.Context, id string) (*model.Course, error) {
	var course model.Course
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&course).Error; err != nil {
		return nil, translate(err)
	}
	return &course, nil
}

// FindByOwner 按创建顺序返回用户的所有课程，课程识别依赖这个顺序打破平分。
func (r *courseRepository) FindByOwner(ctx context.Context, ownerID uint) ([]model.Course, error) {
	var courses []model.Course
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at asc, id asc").Find(&courses).Error
	return courses, err
}

// Update 更新一个已存在的课程记录。
func (r *courseRepository) Update(ctx context.Context, course *model.Course) error {
	return r.db.WithContext(ctx).Save(course).Error
}

// Delete 根据课程 ID 删除课程记录。
func (r *courseRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.Course{}, "id = ?", id).Error
}
