package database

import (
	"context"
	"database/sql"
	"fmt"

	"investorkonnect-signing/common/config"

	_ "github.com/lib/pq"
)

// NewPostgresDB 按配置建立连接池；连通性检查失败时关闭连接池并返回错误
func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	Configure(db, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout())
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s@%s:%d/%s: %w", cfg.User, cfg.Host, cfg.Port, cfg.Database, err)
	}
	return db, nil
}

// Configure 应用连接池参数，0 表示沿用 database/sql 默认值
func Configure(db *sql.DB, cfg *config.DatabaseConfig) {
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if d := cfg.MaxIdleTime(); d > 0 {
		db.SetConnMaxIdleTime(d)
	}
}

// Close 关闭数据库连接
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
