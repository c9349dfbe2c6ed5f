package storage

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestDB 创建带完整 schema 的临时测试数据库
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenDB(dbPath)
	require.NoError(t, err)
	require.NoError(t, InitDatabase(db))

	cleanup := func() {
		db.Close()
	}

	return db, cleanup
}
