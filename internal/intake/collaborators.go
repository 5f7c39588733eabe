// Package intake 实现上传编排器：把一次文件选择依次推进到校验、查重、上传和结算，
// 并在上传成功后为每个文件播种后台任务。
package intake

import (
	"context"
	"time"

	"course-intake/internal/model"
	"course-intake/internal/taskqueue"
)

// ProgressEvent 是传输层上报的单个文件进度。
type ProgressEvent struct {
	Loaded int64
	Total  int64
}

// Percent 返回 0-100 的进度百分比。
func (e ProgressEvent) Percent() int {
	if e.Total <= 0 {
		return 0
	}
	p := int(e.Loaded * 100 / e.Total)
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// ProgressFunc 以本地 ID 为键接收进度事件。
type ProgressFunc func(localID string, ev ProgressEvent)

// TransmitRequest 是一次批量上传的入参。
type TransmitRequest struct {
	Files      []*model.FileCandidate
	OwnerID    uint
	CourseID   string
	FolderID   string
	OnProgress ProgressFunc
}

// TransmitResponse 中成功与失败的文件可以同时存在。
type TransmitResponse struct {
	Files  []model.FileRecord `json:"files"`
	Errors []model.FileError  `json:"errors,omitempty"`
}

// Transmitter 负责把一批文件真正送到存储后端。
// 单个文件的失败应放在 TransmitResponse.Errors 中，只有整批无法进行时才返回 error。
type Transmitter interface {
	Transmit(ctx context.Context, req TransmitRequest) (TransmitResponse, error)
}

// ExistingFile 是查重命中时已存在文件的摘要。
type ExistingFile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	FileSize    int64     `json:"file_size"`
}

// DuplicateCheck 是查重结果。
type DuplicateCheck struct {
	IsDuplicate  bool          `json:"isDuplicate"`
	ExistingFile *ExistingFile `json:"existingFile,omitempty"`
}

// DuplicateChecker 按内容指纹查询文件是否已经存在。服务端才是最终裁决者，这里只是提前提示。
type DuplicateChecker interface {
	CheckDuplicate(ctx context.Context, ownerID uint, contentHash, courseID string) (DuplicateCheck, error)
}

// TaskSeeder 为上传成功的文件创建后台任务，由 taskqueue.Queue 实现。
type TaskSeeder interface {
	QueueFileProcessing(ctx context.Context, ref taskqueue.FileRef) ([]string, error)
}

// FileSink 接收上传成功的文件记录，合并进调用方的应用状态。
type FileSink interface {
	MergeFiles(records []model.FileRecord)
}

// FileSinkFunc 让普通函数满足 FileSink。
type FileSinkFunc func(records []model.FileRecord)

func (f FileSinkFunc) MergeFiles(records []model.FileRecord) { f(records) }
