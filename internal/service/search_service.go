// Package service 提供了搜索相关的业务逻辑。
package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"course-intake/internal/model"
	"course-intake/internal/repository"
	"course-intake/pkg/es"
	"course-intake/pkg/log"
)

const defaultSearchSize = 20

// FileIndex 是课程文件检索索引，由 es.FileIndex 实现。
type FileIndex interface {
	Index(ctx context.Context, doc model.EsDocument) error
	Delete(ctx context.Context, fileID string) error
	Search(ctx context.Context, query map[string]interface{}) ([]es.Hit, int64, error)
}

// SearchQuery 是一次关键字检索的条件，OwnerID 必填。
type SearchQuery struct {
	OwnerID  uint
	Query    string
	CourseID string
	Category string
	Size     int
}

// SearchResult 是返回给前端的一条检索结果。
type SearchResult struct {
	FileID      string  `json:"fileId"`
	FileName    string  `json:"fileName"`
	CourseID    string  `json:"courseId,omitempty"`
	Category    string  `json:"category,omitempty"`
	Summary     string  `json:"summary,omitempty"`
	ContentType string  `json:"contentType"`
	Score       float64 `json:"score"`
}

// SearchService 接口定义了搜索操作。
type SearchService interface {
	Search(ctx context.Context, q SearchQuery) ([]SearchResult, int64, error)
}

type searchService struct {
	index    FileIndex
	fileRepo repository.FileRepository
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(index FileIndex, fileRepo repository.FileRepository) SearchService {
	return &searchService{index: index, fileRepo: fileRepo}
}

// Search 在文件名、摘要、抽取文本和译文上做关键字检索，结果只包含调用者自己的文件。
func (s *searchService) Search(ctx context.Context, q SearchQuery) ([]SearchResult, int64, error) {
	normalized := normalizeQuery(q.Query)
	if normalized != q.Query {
		log.Infof("[SearchService] 规范化查询: '%s' -> '%s'", q.Query, normalized)
	}

	hits, total, err := s.index.Search(ctx, buildSearchQuery(q, normalized))
	if err != nil {
		log.Errorf("[SearchService] 检索失败: %v", err)
		return nil, 0, err
	}
	if len(hits) == 0 {
		return []SearchResult{}, total, nil
	}

	// 以数据库为准回填文件名，索引里可能残留已删除的文件
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.Source.FileID)
	}
	records, err := s.fileRepo.FindBatchByIDs(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("批量查询文件信息失败: %w", err)
	}
	byID := make(map[string]model.FileRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		rec, ok := byID[hit.Source.FileID]
		if !ok {
			log.Warnf("[SearchService] 索引中的文件 '%s' 已不存在，跳过", hit.Source.FileID)
			continue
		}
		results = append(results, SearchResult{
			FileID:      rec.ID,
			FileName:    rec.DisplayName,
			CourseID:    rec.CourseID,
			Category:    rec.Category,
			Summary:     rec.Summary,
			ContentType: rec.ContentType,
			Score:       hit.Score,
		})
	}
	log.Infof("[SearchService] 检索完成, query: '%s', 命中: %d, 返回: %d", q.Query, total, len(results))
	return results, total, nil
}

func buildSearchQuery(q SearchQuery, normalized string) map[string]interface{} {
	size := q.Size
	if size <= 0 {
		size = defaultSearchSize
	}

	filter := []map[string]interface{}{
		{"term": map[string]interface{}{"owner_id": q.OwnerID}},
	}
	if q.CourseID != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"course_id": q.CourseID}})
	}
	if q.Category != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"category": q.Category}})
	}

	boolQuery := map[string]interface{}{"filter": filter}
	query := map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"size":  size,
	}

	if normalized == "" {
		query["sort"] = []map[string]interface{}{{"created_at": map[string]interface{}{"order": "desc"}}}
		return query
	}
	boolQuery["must"] = map[string]interface{}{
		"multi_match": map[string]interface{}{
			"query":  normalized,
			"fields": []string{"display_name^3", "summary^2", "text_content", "translation"},
		},
	}
	// 对整句做 match_phrase 提升精确命中
	boolQuery["should"] = []map[string]interface{}{
		{
			"match_phrase": map[string]interface{}{
				"text_content": map[string]interface{}{
					"query": normalized,
					"boost": 3.0,
				},
			},
		},
	}
	return query
}

var (
	reKeep  = regexp.MustCompile(`[^\p{Han}\p{L}0-9\s]+`)
	reSpace = regexp.MustCompile(`\s+`)
)

// normalizeQuery 对查询做轻量去噪：小写、去标点、合并空白。
func normalizeQuery(q string) string {
	if q == "" {
		return q
	}
	kept := reKeep.ReplaceAllString(strings.ToLower(q), " ")
	return strings.TrimSpace(reSpace.ReplaceAllString(kept, " "))
}
