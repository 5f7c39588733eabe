// Package validation 在上传之前对候选文件做类型、大小、批次与文件头签名校验。
// 校验结果总是以 Result 返回，不会 panic 也不会返回 error。
package validation

import (
	"context"
	"fmt"

	"course-intake/internal/model"
	"course-intake/pkg/log"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

const (
	DefaultMaxFileSize   int64 = 50 * 1024 * 1024
	DefaultMaxBatchFiles       = 10
)

// Result 是单项校验的结果。
type Result struct {
	Valid    bool     `json:"valid"`
	Category Category `json:"category,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func pass(cat Category) Result { return Result{Valid: true, Category: cat} }

func fail(format string, args ...interface{}) Result {
	return Result{Valid: false, Error: fmt.Sprintf(format, args...)}
}

// Options 是校验器的可配置阈值，零值使用默认值。
type Options struct {
	MaxFileSize   int64
	MaxBatchFiles int
}

// Validator 持有校验阈值，本身无状态，可并发使用。
type Validator struct {
	maxFileSize   int64
	maxBatchFiles int
}

// New 创建一个校验器。
func New(opts Options) *Validator {
	v := &Validator{maxFileSize: opts.MaxFileSize, maxBatchFiles: opts.MaxBatchFiles}
	if v.maxFileSize <= 0 {
		v.maxFileSize = DefaultMaxFileSize
	}
	if v.maxBatchFiles <= 0 {
		v.maxBatchFiles = DefaultMaxBatchFiles
	}
	return v
}

// MaxFileSize 返回单文件大小上限（字节）。
func (v *Validator) MaxFileSize() int64 { return v.maxFileSize }

// MaxBatchFiles 返回单批次文件数上限。
func (v *Validator) MaxBatchFiles() int { return v.maxBatchFiles }

// ValidateType 校验声明的 content-type，声明缺失时按扩展名推断。
func (v *Validator) ValidateType(c *model.FileCandidate) Result {
	ct := ResolveContentType(c.ContentType, c.Name)
	if cat, ok := allowedTypes[ct]; ok {
		return pass(cat)
	}
	label := ct
	if label == "" {
		label = c.Extension()
	}
	if label == "" {
		label = "unknown"
	}
	return fail("File type %q is not supported", label)
}

// ValidateSize 校验文件大小，空文件同样视为无效。
func (v *Validator) ValidateSize(c *model.FileCandidate) Result {
	if c.Size <= 0 {
		return fail("File is empty")
	}
	if c.Size > v.maxFileSize {
		return fail("File size exceeds the maximum of %s", humanize.IBytes(uint64(v.maxFileSize)))
	}
	return Result{Valid: true}
}

// ValidateBatch 校验一次提交的文件数量。
func (v *Validator) ValidateBatch(cs []*model.FileCandidate) Result {
	if len(cs) == 0 {
		return fail("No files selected")
	}
	if len(cs) > v.maxBatchFiles {
		return fail("Too many files selected: maximum of %d files per upload", v.maxBatchFiles)
	}
	return Result{Valid: true}
}

// ValidateSignature 读取文件头最多 16 字节，与声明类型登记的魔数比对。
func (v *Validator) ValidateSignature(ctx context.Context, c *model.FileCandidate) Result {
	ct := ResolveContentType(c.ContentType, c.Name)
	cat := allowedTypes[ct]
	if !requiresSignature(ct) {
		return pass(cat)
	}
	if err := ctx.Err(); err != nil {
		return fail("Signature check cancelled: %v", err)
	}

	head, err := c.Head(headerLength)
	if err != nil {
		log.Warnf("[Validation] 读取文件头失败, file: %s, error: %v", c.Name, err)
		return fail("Unable to read file content to verify format for %s", ct)
	}
	if matchesSignature(ct, head) {
		return pass(cat)
	}

	detected := mimetype.Detect(head).String()
	if detected == "" || detected == octetStream || NormalizeContentType(detected) == ct {
		return fail("File content does not match expected format for %s", ct)
	}
	return fail("File content does not match expected format for %s (detected %s)", ct, NormalizeContentType(detected))
}

// ValidateFile 依次执行类型、大小、签名校验，返回第一个失败项。
func (v *Validator) ValidateFile(ctx context.Context, c *model.FileCandidate) Result {
	typeResult := v.ValidateType(c)
	if !typeResult.Valid {
		return typeResult
	}
	if r := v.ValidateSize(c); !r.Valid {
		return r
	}
	if r := v.ValidateSignature(ctx, c); !r.Valid {
		return r
	}
	return typeResult
}

// Partition 将候选文件拆分为通过校验的文件与按输入顺序排列的失败说明。
func (v *Validator) Partition(ctx context.Context, cs []*model.FileCandidate) ([]*model.FileCandidate, []model.FileError) {
	valid := make([]*model.FileCandidate, 0, len(cs))
	var errs []model.FileError
	for _, c := range cs {
		r := v.ValidateFile(ctx, c)
		if !r.Valid {
			errs = append(errs, model.FileError{FileName: c.Name, Error: r.Error})
			continue
		}
		valid = append(valid, c)
	}
	return valid, errs
}
