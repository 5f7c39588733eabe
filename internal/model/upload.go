// Package model 定义了与数据库表对应的 Go 结构体以及流水线中流转的数据。
package model

import "time"

// FileRecord 定义了 course_files 表的 ORM 模型，是上传成功后回填给调用方的文件记录。
type FileRecord struct {
	ID          string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID     uint   `gorm:"not null;index:idx_owner_course_hash" json:"ownerId"`
	CourseID    string `gorm:"type:varchar(36);index:idx_owner_course_hash" json:"courseId,omitempty"`
	FolderID    string `gorm:"type:varchar(36)" json:"folderId,omitempty"`
	ContentHash string `gorm:"type:varchar(512);not null;index:idx_owner_course_hash" json:"contentHash"`
	DisplayName string `gorm:"type:varchar(255);not null" json:"display_name"`
	ContentType string `gorm:"type:varchar(128)" json:"contentType"`
	FileSize    int64  `gorm:"not null" json:"file_size"`
	ObjectKey   string `gorm:"type:varchar(512)" json:"-"`

	// 以下字段由后台任务回填
	Category          string `gorm:"type:varchar(20)" json:"category,omitempty"`
	SuggestedCourseID string `gorm:"type:varchar(36)" json:"suggestedCourseId,omitempty"`
	CourseConfidence  int    `gorm:"default:0" json:"courseConfidence,omitempty"`
	ExtractedText     string `gorm:"type:longtext" json:"-"`
	Summary           string `gorm:"type:text" json:"summary,omitempty"`
	Translation       string `gorm:"type:text" json:"translation,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// LocalID 只在一次上传批次内有效，用于把结果对应回候选文件。
	LocalID string `gorm:"-" json:"localId,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (FileRecord) TableName() string {
	return "course_files"
}

// Course 对应 courses 表，课程识别引擎以它为候选集合。
type Course struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id" mapstructure:"id"`
	OwnerID   uint      `gorm:"not null;index" json:"ownerId" mapstructure:"owner_id"`
	Code      string    `gorm:"type:varchar(32)" json:"code" mapstructure:"code"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name" mapstructure:"name"`
	Professor string    `gorm:"type:varchar(128)" json:"professor,omitempty" mapstructure:"professor"`
	Term      string    `gorm:"type:varchar(64)" json:"term,omitempty" mapstructure:"term"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt" mapstructure:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Course) TableName() string {
	return "courses"
}
