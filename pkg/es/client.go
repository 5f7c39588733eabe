// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"course-intake/internal/config"
	"course-intake/internal/model"
	"course-intake/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName)
}

// fileIndexMapping 是课程文件索引的结构，text_content 与 summary 参与全文检索。
const fileIndexMapping = `{
	"mappings": {
		"properties": {
			"file_id": { "type": "keyword" },
			"owner_id": { "type": "long" },
			"course_id": { "type": "keyword" },
			"display_name": { "type": "text", "fields": { "raw": { "type": "keyword" } } },
			"content_type": { "type": "keyword" },
			"category": { "type": "keyword" },
			"suggested_course_id": { "type": "keyword" },
			"summary": { "type": "text" },
			"text_content": { "type": "text" },
			"translation": { "type": "text" },
			"created_at": { "type": "date", "format": "yyyy-MM-dd HH:mm:ss||strict_date_optional_time" }
		}
	}
}`

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	createRes, err := ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(fileIndexMapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, createRes.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// FileIndex 是课程文件索引的读写入口。
type FileIndex struct {
	client *elasticsearch.Client
	name   string
}

// NewFileIndex 创建 FileIndex，client 为 nil 时使用全局 ESClient。
func NewFileIndex(client *elasticsearch.Client, name string) *FileIndex {
	if client == nil {
		client = ESClient
	}
	return &FileIndex{client: client, name: name}
}

// Index 以文件 ID 为文档 ID 写入（覆盖）一个课程文件文档。
func (i *FileIndex) Index(ctx context.Context, doc model.EsDocument) error {
	if i.client == nil {
		return errors.New("elasticsearch client is not initialized")
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      i.name,
		DocumentID: doc.FileID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("[ES] 索引文档到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index document")
	}

	return nil
}

// Delete 删除文件对应的文档，文档不存在时不视为错误。
func (i *FileIndex) Delete(ctx context.Context, fileID string) error {
	if i.client == nil {
		return nil
	}
	res, err := i.client.Delete(i.name, fileID, i.client.Delete.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("删除文档失败: %s", res.String())
	}
	return nil
}

// Hit 是一条检索命中。
type Hit struct {
	Source model.EsDocument `json:"_source"`
	Score  float64          `json:"_score"`
}

// Search 执行一个查询 DSL，返回命中列表和总命中数。
func (i *FileIndex) Search(ctx context.Context, query map[string]interface{}) ([]Hit, int64, error) {
	if i.client == nil {
		return nil, 0, errors.New("elasticsearch client is not initialized")
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, 0, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.name),
		i.client.Search.WithBody(&buf),
		i.client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[ES] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, 0, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []Hit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, 0, fmt.Errorf("failed to decode es response: %w", err)
	}
	return esResponse.Hits.Hits, esResponse.Hits.Total.Value, nil
}
