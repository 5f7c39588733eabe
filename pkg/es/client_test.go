package es

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"course-intake/internal/model"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeES 模拟 Elasticsearch 的 REST 接口，记录收到的请求。
func fakeES(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body []byte)) *elasticsearch.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r, body)
	}))
	t.Cleanup(srv.Close)
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client
}

func TestIndexUsesFileIDAsDocumentID(t *testing.T) {
	var path string
	var doc model.EsDocument
	client := fakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		path = r.URL.Path
		require.NoError(t, json.Unmarshal(body, &doc))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	idx := NewFileIndex(client, "course_files")
	err := idx.Index(context.Background(), model.EsDocument{FileID: "f-1", OwnerID: 7, DisplayName: "Lecture 1.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "/course_files/_doc/f-1", path)
	assert.Equal(t, uint(7), doc.OwnerID)
	assert.Equal(t, "Lecture 1.pdf", doc.DisplayName)
}

func TestDeleteIgnoresMissingDocument(t *testing.T) {
	client := fakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"result":"not_found"}`))
	})
	assert.NoError(t, NewFileIndex(client, "course_files").Delete(context.Background(), "gone"))
}

func TestSearchDecodesHits(t *testing.T) {
	client := fakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/course_files/_search"))
		assert.Contains(t, string(body), `"owner_id":7`)
		_, _ = w.Write([]byte(`{"hits":{"total":{"value":1},"hits":[{"_score":2.5,"_source":{"file_id":"f-1","owner_id":7,"display_name":"Week 2 notes.pdf","created_at":"2025-03-01 10:00:00"}}]}}`))
	})

	hits, total, err := NewFileIndex(client, "course_files").Search(context.Background(), map[string]interface{}{
		"query": map[string]interface{}{"term": map[string]interface{}{"owner_id": 7}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, hits, 1)
	assert.Equal(t, "f-1", hits[0].Source.FileID)
	assert.Equal(t, 2.5, hits[0].Score)
}

func TestSearchReportsErrorStatus(t *testing.T) {
	client := fakeES(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad query"}`))
	})
	_, _, err := NewFileIndex(client, "course_files").Search(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}
