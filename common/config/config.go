package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig PostgreSQL 连接配置
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`

	// 以下为 0 / 空时不设置
	MaxIdleTimeSeconds    int    `yaml:"max_idle_time_seconds"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"` // DSN connect_timeout，同时作为启动 ping 超时
	ApplicationName       string `yaml:"application_name"`        // pg_stat_activity 中可见
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// GetDSN 获取 lib/pq 连接字符串
func (c *DatabaseConfig) GetDSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
	if c.ConnectTimeoutSeconds > 0 {
		dsn += fmt.Sprintf(" connect_timeout=%d", c.ConnectTimeoutSeconds)
	}
	if c.ApplicationName != "" {
		dsn += " application_name=" + c.ApplicationName
	}
	return dsn
}

func (c *DatabaseConfig) MaxIdleTime() time.Duration {
	return time.Duration(c.MaxIdleTimeSeconds) * time.Second
}

// PingTimeout 启动连通性检查的超时，未配置时 5s
func (c *DatabaseConfig) PingTimeout() time.Duration {
	if c.ConnectTimeoutSeconds > 0 {
		return time.Duration(c.ConnectTimeoutSeconds) * time.Second
	}
	return 5 * time.Second
}

// LoadFromEnv overrides fields from PREFIX_HOST, PREFIX_PORT, ... when set.
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	if v := os.Getenv(prefix + "_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv(prefix + "_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv(prefix + "_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv(prefix + "_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv(prefix + "_NAME"); v != "" {
		c.Database = v
	}
	if v := os.Getenv(prefix + "_SSLMODE"); v != "" {
		c.SSLMode = v
	}
	if v := os.Getenv(prefix + "_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConns = n
		}
	}
	if v := os.Getenv(prefix + "_MAX_IDLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxIdle = n
		}
	}
	if v := os.Getenv(prefix + "_MAX_IDLE_TIME_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxIdleTimeSeconds = n
		}
	}
	if v := os.Getenv(prefix + "_CONNECT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ConnectTimeoutSeconds = n
		}
	}
	if v := os.Getenv(prefix + "_APPLICATION_NAME"); v != "" {
		c.ApplicationName = v
	}
}

// LoadFromEnv 从环境变量加载 Redis 配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	if v := os.Getenv(prefix + "_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv(prefix + "_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv(prefix + "_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.DB = db
		}
	}
}
