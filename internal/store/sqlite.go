package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"relay-trader/internal/config"
)

var memSeq atomic.Int64

// Store 持有 relay-trader 的本地 SQLite 库。监控事件是唯一的落盘数据，
// 写入来自各请求协程，读取来自事件查询接口，属于典型的单库多连接场景。
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）本地数据库。调优全部走 DSN 参数：落盘模式
// 启用 WAL 加 busy_timeout，事件写入与查询互不阻塞；内存模式启用共享
// 缓存，连接池里的多个连接才会看到同一个库。
func Open(cfg config.DatabaseConfig) (*Store, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 数据库失败: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("连接 SQLite 数据库失败: %w", err)
	}

	return &Store{db: db}, nil
}

func buildDSN(cfg config.DatabaseConfig) (string, error) {
	if cfg.InMemory {
		// 命名内存库：同一连接池共享，不同 Open 之间互相隔离。
		return fmt.Sprintf("file:relaymem%d?mode=memory&cache=shared&_busy_timeout=5000&_foreign_keys=on",
			memSeq.Add(1)), nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("创建数据库目录 %q 失败: %w", dir, err)
		}
	}

	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL", cfg.Path), nil
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
