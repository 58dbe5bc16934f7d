package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS managed_machines(
	id TEXT PRIMARY KEY,
	vmx_path TEXT NOT NULL,
	vmx_key TEXT NOT NULL UNIQUE,
	display_name TEXT,
	pinned INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS trace_history(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	seq INTEGER NOT NULL,
	request_id TEXT NOT NULL,
	action TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	target TEXT,
	command TEXT,
	ok INTEGER NOT NULL,
	output TEXT,
	error_text TEXT,
	started_at TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trace_history_request ON trace_history(request_id);
`

// Open 打开(必要时创建) sqlite 数据库并建表。path 为 ":memory:" 时用于测试。
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// 内存库每个连接独立，限制为单连接
	db.SetMaxOpenConns(1)
	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema 幂等建表
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
