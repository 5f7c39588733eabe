package model

// FileError 是一次批次中某个文件的失败说明，按文件名上报给调用方。
type FileError struct {
	FileName string `json:"filename"`
	Error    string `json:"error"`
}
