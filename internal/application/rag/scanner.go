package rag

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	domainRAG "github.com/ragit/backend/internal/domain/rag"
	"github.com/ragit/backend/internal/infrastructure/log"
)

// ScannedFile 扫描到的一个源文件描述
type ScannedFile struct {
	Path        string // 仓库内相对路径（斜杠分隔）
	AbsPath     string // 绝对路径
	Language    string // 语言标签
	Size        int64
	ContentHash string // 内容 SHA-256
}

// ScanResult 一次全量扫描的结果
// 单个文件不可读只产生警告，不中断扫描
type ScanResult struct {
	Files    []*ScannedFile
	Warnings []string
}

// ScanConfig 扫描配置
type ScanConfig struct {
	IgnorePatterns []string // 排除的目录/文件名模式
	MaxFileSize    int64    // 超过该大小的文件跳过
}

// Scanner 仓库工作树扫描器
type Scanner struct {
	config *ScanConfig
	logger *slog.Logger
}

// NewScanner 创建扫描器
func NewScanner(config *ScanConfig) *Scanner {
	if config == nil {
		config = &ScanConfig{}
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = 1 << 20
	}

	return &Scanner{
		config: config,
		logger: log.NewModuleLogger("rag", "scanner"),
	}
}

// languageByExtension 扩展名到语言标签的映射
var languageByExtension = map[string]string{
	".py":    "python",
	".go":    "go",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".kt":    "kotlin",
	".swift": "swift",
	".sh":    "shell",
	".sql":   "sql",
	".md":    "markdown",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
}

// DetectLanguage 根据文件名推断语言标签，未知扩展名返回空串
func DetectLanguage(path string) string {
	return languageByExtension[strings.ToLower(filepath.Ext(path))]
}

// ScanRepository 扫描仓库根目录
// 根目录不可读返回 ScanError；单个文件的读失败降级为警告
func (s *Scanner) ScanRepository(root string) (*ScanResult, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &domainRAG.ScanError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &domainRAG.ScanError{Root: root, Err: fmt.Errorf("not a directory")}
	}

	result := &ScanResult{}

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			result.Warnings = append(result.Warnings, fmt.Sprintf("unreadable: %s: %v", path, walkErr))
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if path != root && s.ignored(name) {
				return filepath.SkipDir
			}
			return nil
		}

		if s.ignored(name) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		fileInfo, err := d.Info()
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unreadable: %s: %v", rel, err))
			return nil
		}

		if fileInfo.Size() > s.config.MaxFileSize {
			s.logger.Debug("Skipping oversized file",
				"path", rel,
				"size", fileInfo.Size(),
			)
			return nil
		}

		hash, binary, err := hashAndSniff(path)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unreadable: %s: %v", rel, err))
			return nil
		}
		if binary {
			return nil
		}

		result.Files = append(result.Files, &ScannedFile{
			Path:        rel,
			AbsPath:     path,
			Language:    DetectLanguage(rel),
			Size:        fileInfo.Size(),
			ContentHash: hash,
		})

		return nil
	})
	if err != nil {
		return nil, &domainRAG.ScanError{Root: root, Err: err}
	}

	s.logger.Info("Repository scan completed",
		"root", root,
		"files", len(result.Files),
		"warnings", len(result.Warnings),
	)

	return result, nil
}

// ignored 判断目录/文件名是否命中排除模式
func (s *Scanner) ignored(name string) bool {
	for _, pattern := range s.config.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
		if pattern == name {
			return true
		}
	}
	return false
}

// hashAndSniff 单次读取中计算内容哈希并探测二进制内容
// 前 8KB 含 NUL 字节视为二进制
func hashAndSniff(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	head := make([]byte, 8192)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", false, err
	}
	head = head[:n]

	if bytes.IndexByte(head, 0) >= 0 {
		return "", true, nil
	}

	hasher := sha256.New()
	hasher.Write(head)
	if _, err := io.Copy(hasher, f); err != nil {
		return "", false, err
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), false, nil
}

// HashText 计算文本内容哈希
// chunk 文本与文件内容共用同一哈希算法
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum)
}
