package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
	"github.com/ragit/backend/internal/infrastructure/log"
)

// 确保 Client 实现了 domainRAG.CompletionClient 接口
var _ domainRAG.CompletionClient = (*Client)(nil)

// Client LLM Chat 客户端
// 兼容 OpenAI /chat/completions 协议
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option 客户端可选配置
type Option func(*Client)

// WithTemperature 设置采样温度
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTokens 设置回答的最大 token 数
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithMaxRetries 设置重试上限
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithTimeout 设置单次调用超时
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient 创建 LLM 客户端
func NewClient(baseURL, apiKey, model string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: 0.1,
		maxTokens:   2048,
		maxRetries:  3,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: log.NewModuleLogger("llm", "client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Model 返回使用的模型名
func (c *Client) Model() string {
	return c.model
}

// chatRequest Chat API 请求
type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// chatMessage Chat 消息
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse Chat API 响应
type chatResponse struct {
	ID      string `json:"id,omitempty"`
	Model   string `json:"model,omitempty"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete 单次生成调用，带指数退避重试
// 重试耗尽后返回 GenerationError
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, *domainRAG.CompletionUsage, error) {
	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			c.logger.Warn("Completion request failed, retrying",
				"attempt", attempt+1,
				"max_retries", c.maxRetries,
				"backoff", backoff,
				"error", lastErr,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", nil, &domainRAG.GenerationError{Model: c.model, Err: ctx.Err()}
			}
		}

		text, usage, err := c.doRequest(ctx, url, jsonData)
		if err == nil {
			c.logger.Debug("Completion request successful",
				"model", c.model,
				"prompt_tokens", usage.PromptTokens,
				"completion_tokens", usage.CompletionTokens,
			)
			return text, usage, nil
		}
		lastErr = err
	}

	c.logger.Error("Completion request failed after all retries",
		"max_retries", c.maxRetries,
		"error", lastErr,
	)

	return "", nil, &domainRAG.GenerationError{Model: c.model, Err: lastErr}
}

// doRequest 执行一次 HTTP 调用
func (c *Client) doRequest(ctx context.Context, url string, jsonData []byte) (string, *domainRAG.CompletionUsage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("LLM API request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", nil, fmt.Errorf("LLM API returned status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", nil, fmt.Errorf("failed to decode LLM response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", nil, fmt.Errorf("LLM API returned no choices")
	}

	usage := &domainRAG.CompletionUsage{
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
	}

	return chatResp.Choices[0].Message.Content, usage, nil
}
