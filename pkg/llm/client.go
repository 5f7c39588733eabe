// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"course-intake/internal/config"
)

// ErrNotConfigured 表示未配置模型服务。
var ErrNotConfigured = errors.New("llm is not configured")

// Client defines the interface for an LLM client.
type Client interface {
	// Complete 以 role-based 消息调用聊天接口，流式读取并拼接完整回复。
	Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
}

type deepseekClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) Client {
	return &deepseekClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
}

func (c *deepseekClient) Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	if c.cfg.BaseURL == "" || c.cfg.APIKey == "" {
		return "", ErrNotConfigured
	}
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   true,
	}
	// 从配置或传参注入生成参数（传参优先生效）
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.MaxTokens = gen.MaxTokens
	} else {
		if c.cfg.Temperature != 0 {
			t := c.cfg.Temperature
			reqBody.Temperature = &t
		}
		if c.cfg.MaxTokens != 0 {
			m := c.cfg.MaxTokens
			reqBody.MaxTokens = &m
		}
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var out strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read from stream: %w", err)
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			if data == "[DONE]" {
				break
			}

			var chunk chatResponse
			if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr == nil && len(chunk.Choices) > 0 {
				out.WriteString(chunk.Choices[0].Delta.Content)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	return strings.TrimSpace(out.String()), nil
}
