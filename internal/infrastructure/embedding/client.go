package embedding

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

	"golang.org/x/time/rate"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
	"github.com/ragit/backend/internal/infrastructure/log"
)

// 确保 Client 实现了 domainRAG.EmbeddingClient 接口
var _ domainRAG.EmbeddingClient = (*Client)(nil)

// Client Embedding API 客户端
// 兼容 OpenAI /v1/embeddings 协议，带批量拆分、限流与指数退避重试
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	maxBatchSize int
	maxRetries   int
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// Option 客户端可选配置
type Option func(*Client)

// WithMaxBatchSize 设置单次请求的最大文本数
func WithMaxBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBatchSize = n
		}
	}
}

// WithMaxRetries 设置单批次重试上限
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

// WithRateLimit 设置对外部 API 的限流速率（请求/秒）
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// NewClient 创建 Embedding 客户端
func NewClient(baseURL, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       apiKey,
		model:        model,
		maxBatchSize: 256,
		maxRetries:   3,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.NewModuleLogger("embedding", "client"),
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

// buildEmbeddingURL 构建 Embedding API URL
// 支持多种输入格式，智能拼接 /v1/embeddings 路径
func buildEmbeddingURL(baseURL string) string {
	if strings.Contains(baseURL, "/v1/embeddings") {
		return baseURL
	}
	if strings.HasSuffix(baseURL, "/v1") {
		return baseURL + "/embeddings"
	}
	return fmt.Sprintf("%s/v1/embeddings", baseURL)
}

// embeddingRequest Embedding 请求
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse Embedding 响应
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// EmbedTexts 批量向量化文本，返回向量与输入顺序一一对应
// 超过 maxBatchSize 的输入自动拆分为多个批次
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty")
	}

	if len(texts) <= c.maxBatchSize {
		return c.embedBatch(ctx, texts)
	}

	c.logger.Debug("Splitting texts into batches",
		"total_texts", len(texts),
		"batch_limit", c.maxBatchSize,
	)

	allVectors := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += c.maxBatchSize {
		end := i + c.maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := c.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch starting at %d: %w", i, err)
		}
		allVectors = append(allVectors, vectors...)
	}

	return allVectors, nil
}

// embedBatch 处理单个批次，带限流与指数退避重试
// 超时与传输失败同样进入重试路径，重试耗尽后返回 EmbeddingError
func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embeddingRequest{
		Model: c.model,
		Input: texts,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := buildEmbeddingURL(c.baseURL)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			c.logger.Warn("Embedding request failed, retrying",
				"attempt", attempt+1,
				"max_retries", c.maxRetries,
				"backoff", backoff,
				"error", lastErr,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &domainRAG.EmbeddingError{BatchSize: len(texts), Err: ctx.Err()}
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &domainRAG.EmbeddingError{BatchSize: len(texts), Err: err}
			}
		}

		vectors, err := c.doRequest(ctx, url, jsonData, len(texts))
		if err == nil {
			return vectors, nil
		}
		lastErr = err
	}

	c.logger.Error("Embedding request failed after all retries",
		"max_retries", c.maxRetries,
		"batch_size", len(texts),
		"error", lastErr,
	)

	return nil, &domainRAG.EmbeddingError{BatchSize: len(texts), Err: lastErr}
}

// doRequest 执行一次 HTTP 调用
func (c *Client) doRequest(ctx context.Context, url string, jsonData []byte, expected int) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(embeddingResp.Data) != expected {
		return nil, fmt.Errorf("expected %d embeddings, got %d", expected, len(embeddingResp.Data))
	}

	// 按 index 还原顺序
	vectors := make([][]float32, expected)
	for _, data := range embeddingResp.Data {
		if data.Index < 0 || data.Index >= expected {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}

	return vectors, nil
}

// GetVectorDimension 获取向量维度（通过测试请求）
func (c *Client) GetVectorDimension(ctx context.Context) (int, error) {
	vectors, err := c.EmbedTexts(ctx, []string{"test"})
	if err != nil {
		return 0, err
	}

	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return 0, fmt.Errorf("invalid embedding response")
	}

	return len(vectors[0]), nil
}
