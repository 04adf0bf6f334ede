package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"futures-orders/internal/config"
)

// Store 封装订单流水库的 SQLite 连接。
type Store struct {
	db *sql.DB
}

// NewSQLite 打开订单流水数据库。in_memory 配置用于测试场景。
func NewSQLite(cfg config.DatabaseConfig) (*Store, error) {
	conn, err := sql.Open("sqlite3", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("打开订单流水数据库失败: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// WAL 允许流水写入与查询并行，流水丢几条不致命，同步级别放宽到 NORMAL。
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("执行 %s 失败: %w", pragma, err)
		}
	}

	return &Store{db: conn}, nil
}

func buildDSN(cfg config.DatabaseConfig) string {
	path := cfg.Path
	if cfg.InMemory {
		path = ":memory:"
	} else if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		// 目录创建失败时交给 sql.Open 报错。
		_ = os.MkdirAll(dir, 0o755)
	}

	query := url.Values{}
	query.Set("_busy_timeout", "5000")
	query.Set("_foreign_keys", "on")
	return path + "?" + query.Encode()
}

// DB 返回底层 *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
