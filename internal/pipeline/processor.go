// Package pipeline 定义了后台增强任务的处理流程：分类、文本抽取、摘要和翻译。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"course-intake/internal/classify"
	"course-intake/internal/model"
	"course-intake/internal/repository"
	"course-intake/internal/taskqueue"
	"course-intake/internal/validation"
	"course-intake/pkg/llm"
	"course-intake/pkg/log"
	"course-intake/pkg/pdfutil"
)

const (
	defaultSummaryWords = 150
	// 送入模型和索引的文本上限（字符数）
	maxPromptRunes = 12000
	maxIndexRunes  = 32000
	maxPDFPages    = 200
)

// ErrTextNotReady 表示文件还没有抽取文本。播种的摘要任务排在抽取任务之后，
// 只有抽取失败或手动创建的任务会遇到它，按重试策略处理。
var ErrTextNotReady = errors.New("extracted text is not available yet")

// CourseLister 返回用户的课程列表，由 repository.CourseRepository 实现。
type CourseLister interface {
	FindByOwner(ctx context.Context, ownerID uint) ([]model.Course, error)
}

// ObjectReader 读取已上传的对象。
type ObjectReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// TextExtractor 是远程文本抽取服务，由 tika.Client 实现。
type TextExtractor interface {
	Enabled() bool
	ExtractText(ctx context.Context, r io.Reader, fileName, contentType string) (string, error)
}

// Indexer 把文件写入检索索引。
type Indexer interface {
	Index(ctx context.Context, doc model.EsDocument) error
}

// Processor 封装了文件处理的所有依赖和逻辑。
type Processor struct {
	files     repository.FileRepository
	courses   CourseLister
	objects   ObjectReader
	extractor TextExtractor
	llmClient llm.Client
	indexer   Indexer
}

// NewProcessor 创建一个新的 Processor 实例。extractor、llmClient 和 indexer 可以为 nil。
func NewProcessor(
	files repository.FileRepository,
	courses CourseLister,
	objects ObjectReader,
	extractor TextExtractor,
	llmClient llm.Client,
	indexer Indexer,
) *Processor {
	return &Processor{
		files:     files,
		courses:   courses,
		objects:   objects,
		extractor: extractor,
		llmClient: llmClient,
		indexer:   indexer,
	}
}

// Handlers 返回交给任务队列的处理函数集合。
func (p *Processor) Handlers() taskqueue.Handlers {
	return taskqueue.Handlers{
		Categorization: p.Categorize,
		TextExtraction: p.ExtractText,
		Summary:        p.Summarize,
		Translation:    p.Translate,
	}
}

// CategorizationResult 是分类任务写入 Task.Result 的内容。
type CategorizationResult struct {
	Category          classify.Category `json:"category"`
	Rule              string            `json:"rule,omitempty"`
	SuggestedCourseID string            `json:"suggestedCourseId,omitempty"`
	Confidence        int               `json:"confidence"`
	Suggestions       []classify.Match  `json:"suggestions,omitempty"`
}

// Categorize 识别文件类别，并在用户的课程中寻找最匹配的一门。
func (p *Processor) Categorize(ctx context.Context, t taskqueue.Task, payload taskqueue.CategorizationPayload) (interface{}, error) {
	log.Infof("[Processor] 开始分类, 文件ID: %s, 文件: %s", t.FileID, t.FileName)
	courses, err := p.courses.FindByOwner(ctx, payload.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("查询课程列表失败: %w", err)
	}

	category := classify.ExplainCategory(t.FileName)
	res := CategorizationResult{
		Category:    category.Category,
		Rule:        category.Rule,
		Suggestions: classify.GetCourseSuggestions(t.FileName, courses, 0),
	}
	if m := classify.DetectCourseFromFile(t.FileName, courses); m != nil {
		res.SuggestedCourseID = m.TargetID
		res.Confidence = m.Confidence
	}

	if err := p.files.UpdateClassification(ctx, t.FileID, string(res.Category), res.SuggestedCourseID, res.Confidence); err != nil {
		return nil, fmt.Errorf("保存分类结果失败: %w", err)
	}
	p.reindex(ctx, t.FileID)
	log.Infof("[Processor] 分类完成, 文件ID: %s, 类别: %s, 建议课程: %s (%d)", t.FileID, res.Category, res.SuggestedCourseID, res.Confidence)
	return res, nil
}

// ExtractionResult 是文本抽取任务的结果。
type ExtractionResult struct {
	Characters int    `json:"characters"`
	Extractor  string `json:"extractor"`
}

// ExtractText 从对象存储下载文件并抽取纯文本。优先使用 Tika，PDF 在 Tika 不可用或失败时本地解析。
func (p *Processor) ExtractText(ctx context.Context, t taskqueue.Task, payload taskqueue.TextExtractionPayload) (interface{}, error) {
	log.Infof("[Processor] 开始抽取文本, 文件ID: %s, 对象: %s", t.FileID, payload.ObjectKey)
	object, err := p.objects.Get(ctx, payload.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("从存储下载文件失败: %w", err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	if err != nil {
		return nil, fmt.Errorf("读取存储对象失败: %w", err)
	}
	if size == 0 {
		return nil, errors.New("文件内容为空")
	}

	contentType := validation.ResolveContentType(payload.ContentType, t.FileName)
	text, extractor, err := p.extract(ctx, buf.Bytes(), t.FileName, contentType)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("提取的文本内容为空")
	}

	if err := p.files.UpdateExtractedText(ctx, t.FileID, text); err != nil {
		return nil, fmt.Errorf("保存抽取文本失败: %w", err)
	}
	p.reindex(ctx, t.FileID)
	chars := utf8.RuneCountInString(text)
	log.Infof("[Processor] 文本抽取成功, 文件ID: %s, 抽取器: %s, 长度: %d 字符", t.FileID, extractor, chars)
	return ExtractionResult{Characters: chars, Extractor: extractor}, nil
}

func (p *Processor) extract(ctx context.Context, data []byte, fileName, contentType string) (string, string, error) {
	isPDF := contentType == "application/pdf"
	if p.extractor != nil && p.extractor.Enabled() {
		text, err := p.extractor.ExtractText(ctx, bytes.NewReader(data), fileName, contentType)
		if err == nil {
			return text, "tika", nil
		}
		if !isPDF {
			return "", "", fmt.Errorf("使用 Tika 提取文本失败: %w", err)
		}
		log.Warnf("[Processor] Tika 抽取失败，改用本地 PDF 解析, 文件: %s, error: %v", fileName, err)
	}

	cat, _ := validation.CategoryOf(contentType)
	switch {
	case isPDF:
		text, err := pdfutil.ExtractText(data, maxPDFPages)
		if err != nil {
			return "", "", fmt.Errorf("解析 PDF 失败: %w", err)
		}
		return text, "pdf", nil
	case cat == validation.CategoryText || contentType == "text/csv":
		if !utf8.Valid(data) {
			return "", "", errors.New("文本文件不是有效的 UTF-8")
		}
		return string(data), "plain", nil
	default:
		return "", "", fmt.Errorf("没有可用于 %s 的文本抽取器", contentType)
	}
}

// SummaryResult 是摘要任务的结果。
type SummaryResult struct {
	Summary string `json:"summary"`
}

// Summarize 基于抽取出的文本生成摘要。
func (p *Processor) Summarize(ctx context.Context, t taskqueue.Task, payload taskqueue.SummaryPayload) (interface{}, error) {
	text, err := p.sourceText(ctx, t.FileID, false)
	if err != nil {
		return nil, err
	}
	words := payload.MaxWords
	if words == 0 {
		words = defaultSummaryWords
	}

	summary, err := p.complete(ctx, []llm.Message{
		{Role: "system", Content: fmt.Sprintf("You summarize course materials for students. Reply with a summary of at most %d words and nothing else.", words)},
		{Role: "user", Content: fmt.Sprintf("File: %s\n\n%s", t.FileName, text)},
	})
	if err != nil {
		return nil, err
	}
	if err := p.files.UpdateSummary(ctx, t.FileID, summary); err != nil {
		return nil, fmt.Errorf("保存摘要失败: %w", err)
	}
	p.reindex(ctx, t.FileID)
	log.Infof("[Processor] 摘要完成, 文件ID: %s", t.FileID)
	return SummaryResult{Summary: summary}, nil
}

// TranslationResult 是翻译任务的结果。
type TranslationResult struct {
	TargetLanguage string `json:"targetLanguage"`
	Translation    string `json:"translation"`
}

// Translate 翻译文件摘要；还没有摘要时翻译抽取出的文本。
func (p *Processor) Translate(ctx context.Context, t taskqueue.Task, payload taskqueue.TranslationPayload) (interface{}, error) {
	text, err := p.sourceText(ctx, t.FileID, true)
	if err != nil {
		return nil, err
	}
	translation, err := p.complete(ctx, []llm.Message{
		{Role: "system", Content: fmt.Sprintf("Translate the user's text into %s. Reply with the translation only.", payload.TargetLanguage)},
		{Role: "user", Content: text},
	})
	if err != nil {
		return nil, err
	}
	if err := p.files.UpdateTranslation(ctx, t.FileID, translation); err != nil {
		return nil, fmt.Errorf("保存译文失败: %w", err)
	}
	p.reindex(ctx, t.FileID)
	log.Infof("[Processor] 翻译完成, 文件ID: %s, 目标语言: %s", t.FileID, payload.TargetLanguage)
	return TranslationResult{TargetLanguage: payload.TargetLanguage, Translation: translation}, nil
}

func (p *Processor) sourceText(ctx context.Context, fileID string, preferSummary bool) (string, error) {
	rec, err := p.files.FindByID(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("查询文件记录失败: %w", err)
	}
	text := rec.ExtractedText
	if preferSummary && rec.Summary != "" {
		text = rec.Summary
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrTextNotReady
	}
	return truncate(text, maxPromptRunes), nil
}

func (p *Processor) complete(ctx context.Context, messages []llm.Message) (string, error) {
	if p.llmClient == nil {
		return "", llm.ErrNotConfigured
	}
	out, err := p.llmClient.Complete(ctx, messages, nil)
	if err != nil {
		return "", fmt.Errorf("调用大模型失败: %w", err)
	}
	if out == "" {
		return "", errors.New("大模型返回了空内容")
	}
	return out, nil
}

// reindex 把文件的最新状态写入检索索引。索引失败不影响任务结果。
func (p *Processor) reindex(ctx context.Context, fileID string) {
	if p.indexer == nil {
		return
	}
	rec, err := p.files.FindByID(ctx, fileID)
	if err != nil {
		log.Warnf("[Processor] 重建索引时查询文件失败, 文件ID: %s, error: %v", fileID, err)
		return
	}
	if err := p.indexer.Index(ctx, Document(rec)); err != nil {
		log.Warnf("[Processor] 写入检索索引失败, 文件ID: %s, error: %v", fileID, err)
	}
}

// Document 把文件记录转换为检索文档。
func Document(rec *model.FileRecord) model.EsDocument {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return model.EsDocument{
		FileID:            rec.ID,
		OwnerID:           rec.OwnerID,
		CourseID:          rec.CourseID,
		DisplayName:       rec.DisplayName,
		ContentType:       rec.ContentType,
		Category:          rec.Category,
		SuggestedCourseID: rec.SuggestedCourseID,
		Summary:           rec.Summary,
		TextContent:       truncate(rec.ExtractedText, maxIndexRunes),
		Translation:       rec.Translation,
		CreatedAt:         model.LocalTime(created),
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
