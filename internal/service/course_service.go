package service

import (
	"context"
	"errors"
	"strings"

	"course-intake/internal/classify"
	"course-intake/internal/model"
	"course-intake/internal/repository"
	"course-intake/pkg/log"

	"github.com/google/uuid"
)

// ErrCourseNotFound 表示课程不存在或不属于调用者。
var ErrCourseNotFound = errors.New("课程不存在或无权访问")

// CreateCourseRequest 是创建课程的入参。
type CreateCourseRequest struct {
	Code      string `json:"code" binding:"max=32"`
	Name      string `json:"name" binding:"required,max=255"`
	Professor string `json:"professor" binding:"max=128"`
	Term      string `json:"term" binding:"max=64"`
}

// Detection 是对单个文件名的课程与类别识别结果。
type Detection struct {
	FileName    string                 `json:"fileName"`
	Course      *classify.Match        `json:"course"`
	Suggestions []classify.Match       `json:"suggestions"`
	Category    classify.CategoryMatch `json:"category"`
}

// CourseService 管理课程，并基于用户的课程列表做文件识别。
type CourseService interface {
	ListCourses(ctx context.Context, ownerID uint) ([]model.Course, error)
	CreateCourse(ctx context.Context, ownerID uint, req CreateCourseRequest) (*model.Course, error)
	DeleteCourse(ctx context.Context, ownerID uint, courseID string) error
	Detect(ctx context.Context, ownerID uint, fileName string, limit int) (*Detection, error)
}

type courseService struct {
	courseRepo repository.CourseRepository
}

// NewCourseService 创建一个新的 CourseService 实例。
func NewCourseService(courseRepo repository.CourseRepository) CourseService {
	return &courseService{courseRepo: courseRepo}
}

// ListCourses 按创建顺序返回用户的课程，这个顺序也是识别时的平局顺序。
func (s *courseService) ListCourses(ctx context.Context, ownerID uint) ([]model.Course, error) {
	courses, err := s.courseRepo.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if courses == nil {
		courses = []model.Course{}
	}
	return courses, nil
}

func (s *courseService) CreateCourse(ctx context.Context, ownerID uint, req CreateCourseRequest) (*model.Course, error) {
	course := &model.Course{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Code:      strings.TrimSpace(req.Code),
		Name:      strings.TrimSpace(req.Name),
		Professor: strings.TrimSpace(req.Professor),
		Term:      strings.TrimSpace(req.Term),
	}
	if err := s.courseRepo.Create(ctx, course); err != nil {
		log.Errorf("[CourseService] 创建课程失败, 用户ID: %d, error: %v", ownerID, err)
		return nil, err
	}
	log.Infof("[CourseService] 课程已创建, 课程ID: %s, 名称: %s", course.ID, course.Name)
	return course, nil
}

func (s *courseService) DeleteCourse(ctx context.Context, ownerID uint, courseID string) error {
	course, err := s.courseRepo.FindByID(ctx, courseID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && course.OwnerID != ownerID) {
		return ErrCourseNotFound
	}
	if err != nil {
		return err
	}
	return s.courseRepo.Delete(ctx, courseID)
}

// Detect 返回最佳课程（低于阈值时为 nil）、候选建议和文件类别。
func (s *courseService) Detect(ctx context.Context, ownerID uint, fileName string, limit int) (*Detection, error) {
	courses, err := s.ListCourses(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	suggestions := classify.GetCourseSuggestions(fileName, courses, limit)
	if suggestions == nil {
		suggestions = []classify.Match{}
	}
	return &Detection{
		FileName:    fileName,
		Course:      classify.DetectCourseFromFile(fileName, courses),
		Suggestions: suggestions,
		Category:    classify.ExplainCategory(fileName),
	}, nil
}
