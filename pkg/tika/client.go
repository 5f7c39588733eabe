// Package tika 提供了一个与 Apache Tika 服务器交互的客户端。
package tika

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"course-intake/internal/config"
	"course-intake/internal/validation"
)

const requestTimeout = 2 * time.Minute

// Client 是 Tika 服务器的客户端。
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// NewClient 创建一个新的 Tika 客户端实例。
func NewClient(cfg config.TikaConfig) *Client {
	return &Client{serverURL: cfg.ServerURL, httpClient: &http.Client{Timeout: requestTimeout}}
}

// Enabled 表示是否配置了 Tika 服务器。
func (c *Client) Enabled() bool {
	return c != nil && c.serverURL != ""
}

// ExtractText 调用 Tika 提取文本。contentType 为空时根据文件后缀推断 MIME 类型。
func (c *Client) ExtractText(ctx context.Context, fileReader io.Reader, fileName, contentType string) (string, error) {
	contentType = validation.ResolveContentType(contentType, fileName)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", fileReader)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("调用 Tika 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return "", fmt.Errorf("读取 Tika 响应失败: %w", err)
	}

	return buf.String(), nil
}
