package model

import (
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// IntakeSource 标记候选文件的来源，所有来源最终都汇入同一个选择入口。
type IntakeSource string

const (
	SourcePicker   IntakeSource = "picker"
	SourceDragDrop IntakeSource = "drag_drop"
	SourcePaste    IntakeSource = "paste"
	SourceAPI      IntakeSource = "api"
	SourceCLI      IntakeSource = "cli"
)

// ErrNoContent 表示候选文件没有可读取的内容句柄。
var ErrNoContent = errors.New("file content is not readable")

// FileCandidate 是文件在持久化之前的内存表示，选中时创建，批次结算后丢弃。
type FileCandidate struct {
	// LocalID 是本地生成的标识，与最终持久化的文件 ID 无关。
	LocalID     string
	Name        string
	ContentType string
	Size        int64
	Source      IntakeSource
	// Content 为 nil 时视为内容不可读。
	Content io.ReaderAt

	Digest       string
	DigestStrong bool
}

// NewCandidate 基于内容句柄创建候选文件并分配本地 ID。
func NewCandidate(name, contentType string, size int64, content io.ReaderAt) *FileCandidate {
	return &FileCandidate{
		LocalID:     uuid.NewString(),
		Name:        name,
		ContentType: contentType,
		Size:        size,
		Content:     content,
	}
}

// Reader 返回一个从头读取完整内容的 Reader。
func (c *FileCandidate) Reader() (io.Reader, error) {
	if c.Content == nil {
		return nil, ErrNoContent
	}
	return io.NewSectionReader(c.Content, 0, c.Size), nil
}

// Head 读取内容的前 n 个字节，内容不足 n 字节时返回实际读到的部分。
func (c *FileCandidate) Head(n int) ([]byte, error) {
	if c.Content == nil {
		return nil, ErrNoContent
	}
	if int64(n) > c.Size {
		n = int(c.Size)
	}
	buf := make([]byte, n)
	read, err := c.Content.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

// Extension 返回小写的扩展名（包含 "."）。
func (c *FileCandidate) Extension() string {
	return strings.ToLower(filepath.Ext(c.Name))
}
