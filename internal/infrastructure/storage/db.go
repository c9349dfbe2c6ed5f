package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// GetDBPath 获取 ragit 数据库路径
// Windows: %USERPROFILE%\.ragit\ragit.db
// macOS/Linux: ~/.ragit/ragit.db
func GetDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".ragit", "ragit.db"), nil
}

// OpenDB 打开数据库连接
// path 为空时使用默认路径
func OpenDB(path string) (*sql.DB, error) {
	if path == "" {
		defaultPath, err := GetDBPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	// 确保目录存在
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// 并发 worker 共享同一文件，WAL + busy_timeout 缓解写锁竞争
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// InitDatabase 初始化表结构
func InitDatabase(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			local_path TEXT NOT NULL,
			status TEXT NOT NULL,
			phase TEXT NOT NULL DEFAULT '',
			last_revision TEXT NOT NULL DEFAULT '',
			file_count INTEGER NOT NULL DEFAULT 0,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			last_indexed_at INTEGER NOT NULL DEFAULT 0
		);`,

		`CREATE TABLE IF NOT EXISTS source_files (
			repository_id TEXT NOT NULL,
			path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			chunk_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			indexed_at INTEGER NOT NULL,
			PRIMARY KEY (repository_id, path)
		);`,

		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			repository_id TEXT NOT NULL,
			file_path TEXT NOT NULL,
			symbol TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			text TEXT NOT NULL,
			content_hash TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_repo_file ON chunks(repository_id, file_path);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_content_hash ON chunks(content_hash);`,

		`CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			vector BLOB NOT NULL,
			model TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS answers (
			id TEXT PRIMARY KEY,
			repository_id TEXT NOT NULL,
			question TEXT NOT NULL,
			text TEXT NOT NULL,
			citations TEXT NOT NULL DEFAULT '[]',
			model TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_answers_repo ON answers(repository_id, created_at);`,

		`CREATE TABLE IF NOT EXISTS task_queue (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			repository_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			next_retry_at INTEGER NOT NULL DEFAULT 0,
			result TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_queue_status ON task_queue(status, next_retry_at, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_task_queue_repo ON task_queue(repository_id, type, status);`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return nil
}
