package validation

import (
	"mime"
	"sort"
	"strings"
)

// Category 是允许上传的文件大类。
type Category string

const (
	CategoryDocument     Category = "document"
	CategoryImage        Category = "image"
	CategorySpreadsheet  Category = "spreadsheet"
	CategoryPresentation Category = "presentation"
	CategoryText         Category = "text"
)

const octetStream = "application/octet-stream"

// allowedTypes 是按大类划分的 content-type 白名单。
var allowedTypes = map[string]Category{
	"application/pdf":    CategoryDocument,
	"application/msword": CategoryDocument,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": CategoryDocument,
	"application/rtf":                         CategoryDocument,
	"application/vnd.oasis.opendocument.text": CategoryDocument,

	"image/jpeg": CategoryImage,
	"image/png":  CategoryImage,
	"image/gif":  CategoryImage,
	"image/webp": CategoryImage,

	"application/vnd.ms-excel": CategorySpreadsheet,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": CategorySpreadsheet,
	"text/csv": CategorySpreadsheet,

	"application/vnd.ms-powerpoint":                                             CategoryPresentation,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": CategoryPresentation,

	"text/plain":      CategoryText,
	"text/markdown":   CategoryText,
	"text/x-markdown": CategoryText,
}

// extensionTypes 在声明类型缺失时按扩展名兜底。
var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".rtf":  "application/rtf",
	".odt":  "application/vnd.oasis.opendocument.text",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".csv":  "text/csv",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".txt":  "text/plain",
	".md":   "text/markdown",
}

// NormalizeContentType 去掉参数部分并转为小写，例如 "text/plain; charset=utf-8" -> "text/plain"。
func NormalizeContentType(contentType string) string {
	ct := strings.TrimSpace(contentType)
	if ct == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(ct); err == nil {
		return strings.ToLower(parsed)
	}
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// ResolveContentType 返回声明类型；声明为空或为 octet-stream 时按扩展名推断。
func ResolveContentType(declared, fileName string) string {
	ct := NormalizeContentType(declared)
	if ct != "" && ct != octetStream {
		return ct
	}
	if byExt, ok := extensionTypes[extensionOf(fileName)]; ok {
		return byExt
	}
	return ct
}

// CategoryOf 返回 content-type 所属大类，不在白名单中时返回 false。
func CategoryOf(contentType string) (Category, bool) {
	cat, ok := allowedTypes[NormalizeContentType(contentType)]
	return cat, ok
}

// IsDocumentLike 判断该类型是否需要文本抽取与摘要。
func IsDocumentLike(contentType string) bool {
	cat, ok := CategoryOf(contentType)
	return ok && (cat == CategoryDocument || cat == CategoryText)
}

// SupportedTypes 返回按大类分组的白名单与扩展名，供 supported-types 接口使用。
func SupportedTypes() (map[Category][]string, []string) {
	byCategory := make(map[Category][]string)
	for ct, cat := range allowedTypes {
		byCategory[cat] = append(byCategory[cat], ct)
	}
	for cat := range byCategory {
		sort.Strings(byCategory[cat])
	}
	extensions := make([]string, 0, len(extensionTypes))
	for ext := range extensionTypes {
		extensions = append(extensions, ext)
	}
	sort.Strings(extensions)
	return byCategory, extensions
}

func extensionOf(fileName string) string {
	i := strings.LastIndex(fileName, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(fileName[i:])
}

func isTextual(contentType string) bool {
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	cat, ok := allowedTypes[contentType]
	return ok && cat == CategoryText
}
