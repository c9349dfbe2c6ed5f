package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 可以从 "30s"、"2m" 形式的 YAML 值解析的时长
type Duration time.Duration

// UnmarshalYAML 实现 yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML 实现 yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std 转换为标准库时长
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config 应用配置
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Worker    WorkerConfig    `yaml:"worker"`
	Watcher   WatcherConfig   `yaml:"watcher"`
}

// DatabaseConfig 元数据存储配置
type DatabaseConfig struct {
	// Path SQLite 数据库文件路径，留空表示 ~/.ragit/ragit.db
	Path string `yaml:"path"`
}

// QdrantConfig 向量索引配置
type QdrantConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EmbeddingConfig Embedding API 配置
type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`

	// MaxBatchSize 单次请求的最大文本数
	MaxBatchSize int `yaml:"max_batch_size"`

	// MaxRetries 单批次的重试上限
	MaxRetries int `yaml:"max_retries"`

	// Timeout 单次调用超时
	Timeout Duration `yaml:"timeout"`

	// RequestsPerSecond 对外部 API 的限流速率，0 表示不限流
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// LLMConfig 生成模型配置
type LLMConfig struct {
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	Temperature float64  `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	MaxRetries  int      `yaml:"max_retries"`
	Timeout     Duration `yaml:"timeout"`
}

// IndexingConfig 索引管线配置
type IndexingConfig struct {
	// IgnorePatterns 扫描时排除的目录/文件模式
	IgnorePatterns []string `yaml:"ignore_patterns"`

	// MaxFileSize 超过该字节数的文件跳过
	MaxFileSize int64 `yaml:"max_file_size"`

	// WindowSize 窗口分块的行数
	WindowSize int `yaml:"window_size"`

	// WindowOverlap 相邻窗口的重叠行数
	WindowOverlap int `yaml:"window_overlap"`

	// TopK 检索返回的默认结果数
	TopK int `yaml:"top_k"`

	// PromptTokenBudget 提示词中检索上下文的 token 预算
	PromptTokenBudget int `yaml:"prompt_token_budget"`
}

// WorkerConfig 工作池配置
type WorkerConfig struct {
	// Concurrency 并发 worker 数
	Concurrency int `yaml:"concurrency"`

	// PollInterval 队列空闲时的轮询间隔
	PollInterval Duration `yaml:"poll_interval"`
}

// WatcherConfig 工作树监听配置
type WatcherConfig struct {
	Enabled bool `yaml:"enabled"`

	// Debounce 同一仓库事件的合并窗口
	Debounce Duration `yaml:"debounce"`
}

// NewConfig 创建配置（默认值）
func NewConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "",
		},
		Qdrant: QdrantConfig{
			Host: "localhost",
			Port: 6334,
		},
		Embedding: EmbeddingConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "text-embedding-3-small",
			MaxBatchSize:      256,
			MaxRetries:        3,
			Timeout:           Duration(30 * time.Second),
			RequestsPerSecond: 5,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.1,
			MaxTokens:   2048,
			MaxRetries:  3,
			Timeout:     Duration(60 * time.Second),
		},
		Indexing: IndexingConfig{
			IgnorePatterns: []string{
				".git", ".hg", ".svn",
				"node_modules", "vendor", "venv", ".venv",
				"__pycache__", ".idea", ".vscode",
				"dist", "build", "target",
			},
			MaxFileSize:       1 << 20, // 1 MiB
			WindowSize:        60,
			WindowOverlap:     10,
			TopK:              5,
			PromptTokenBudget: 6000,
		},
		Worker: WorkerConfig{
			Concurrency:  2,
			PollInterval: Duration(500 * time.Millisecond),
		},
		Watcher: WatcherConfig{
			Enabled:  true,
			Debounce: Duration(2 * time.Second),
		},
	}
}
