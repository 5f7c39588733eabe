package model

import "time"

// UploadStatus 是单个文件在一次批次上传中的状态。
type UploadStatus string

const (
	UploadQueued    UploadStatus = "queued"
	UploadUploading UploadStatus = "uploading"
	UploadCompleted UploadStatus = "completed"
	UploadError     UploadStatus = "error"
)

// UploadProgress 以本地 ID 为键，记录单个文件的上传进度（0-100）。
type UploadProgress struct {
	FileID    string       `json:"fileId"`
	FileName  string       `json:"fileName"`
	Progress  int          `json:"progress"`
	Status    UploadStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
