package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config 日志配置
type Config struct {
	// Level 日志级别：debug, info, warn, error
	Level string
	// Format 日志格式：text, json
	Format string
	// AddSource 是否附带调用位置（调试用）
	AddSource bool
}

var (
	initOnce      sync.Once
	defaultLogger *slog.Logger
)

// Init 初始化日志系统
// cfg 为 nil 时从 RAGIT_LOG_* 环境变量读取配置；重复调用只有第一次生效
func Init(cfg *Config) {
	initOnce.Do(func() {
		if cfg == nil {
			cfg = &Config{
				Level:     envOr("RAGIT_LOG_LEVEL", "info"),
				Format:    envOr("RAGIT_LOG_FORMAT", "text"),
				AddSource: os.Getenv("RAGIT_LOG_SOURCE") == "true",
			}
		}

		opts := &slog.HandlerOptions{
			Level:     parseLevel(cfg.Level),
			AddSource: cfg.AddSource,
		}

		var handler slog.Handler
		if strings.EqualFold(cfg.Format, "json") {
			handler = slog.NewJSONHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(os.Stdout, opts)
		}

		defaultLogger = slog.New(handler.WithAttrs([]slog.Attr{
			slog.String("service", "ragit-worker"),
		}))
		slog.SetDefault(defaultLogger)
	})
}

// GetLogger 获取默认 logger，未初始化时按环境变量初始化
func GetLogger() *slog.Logger {
	if defaultLogger == nil {
		Init(nil)
	}
	return defaultLogger
}

// NewModuleLogger 为特定模块组件创建 logger
func NewModuleLogger(module, component string) *slog.Logger {
	return GetLogger().With(
		slog.String("module", module),
		slog.String("component", component),
	)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
