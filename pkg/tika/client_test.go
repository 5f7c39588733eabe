package tika

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"course-intake/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte("extracted: " + string(body)))
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL})
	require.True(t, c.Enabled())

	text, err := c.ExtractText(context.Background(), strings.NewReader("hello"), "notes.pdf", "")
	require.NoError(t, err)
	assert.Equal(t, "extracted: hello", text)
	assert.Equal(t, "application/pdf", gotType)
}

func TestExtractTextServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL})
	_, err := c.ExtractText(context.Background(), strings.NewReader("x"), "a.bin", "application/octet-stream")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.False(t, NewClient(config.TikaConfig{}).Enabled())
}
