// Package config 提供 provider 配置记录及 YAML 加载
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"

	"ormkit/errors"
	"ormkit/logging"
)

// 支持的数据库类型
const (
	DatabaseSQLite = "sqlite"
	DatabaseMySQL  = "mysql"
)

// 事件传输类型
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
	TransportNATS   = "nats"
)

// Config 顶层配置
type Config struct {
	Providers []Provider `yaml:"providers"`
	Events    *Events    `yaml:"events,omitempty"`
	Log       *Log       `yaml:"log,omitempty"`
}

// Provider 单个 provider 的配置记录
type Provider struct {
	// Provider 唯一名称
	Provider string `yaml:"provider"`
	// Database 数据库类型：sqlite | mysql
	Database string `yaml:"database"`
	// DSN 连接串，支持 ${ENV} 展开；mysql 可改用 Host/Port/User/Password/Schema
	DSN string `yaml:"dsn"`

	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Schema   string `yaml:"schema,omitempty"`

	// Entities 属于该 provider 的实体名称
	Entities    []string `yaml:"entities"`
	AutoConnect bool     `yaml:"auto_connect"`
	Pool        Pool     `yaml:"pool"`
	Cache       Cache    `yaml:"cache"`

	// 回调不参与序列化
	OnConnection func(provider string)            `yaml:"-"`
	OnError      func(provider string, err error) `yaml:"-"`
}

// Pool 连接池配置
type Pool struct {
	MaxOpen     int           `yaml:"max_open"`
	MaxIdle     int           `yaml:"max_idle"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
}

// Cache 读缓存配置
type Cache struct {
	// Duration 默认 TTL（毫秒），0 表示不缓存
	Duration int64 `yaml:"duration"`
}

// Events 生命周期事件的传输配置
type Events struct {
	Transport string `yaml:"transport"`
	// URL redis 地址（host:port）或 nats URL
	URL string `yaml:"url,omitempty"`
	// Stream redis stream 名称 / JetStream stream 名称
	Stream string `yaml:"stream,omitempty"`
	// Workers 内存传输的工作协程数
	Workers int `yaml:"workers,omitempty"`
}

// Log 全局日志配置
type Log struct {
	// Level debug | info | warn | error，空值为 info
	Level  string `yaml:"level"`
	Prefix string `yaml:"prefix,omitempty"`
}

// Logger 按配置构造写入 stderr 的 StdLogger
func (l Log) Logger() logging.Logger {
	return logging.NewStdLoggerWithWriter(l.Prefix, os.Stderr, logging.ParseLevel(l.Level))
}

// CacheTTL 返回该 provider 默认的读缓存 TTL
func (p Provider) CacheTTL() time.Duration {
	if p.Cache.Duration <= 0 {
		return 0
	}
	return time.Duration(p.Cache.Duration) * time.Millisecond
}

// HasEntity 判断实体是否声明在该 provider 下
func (p Provider) HasEntity(name string) bool {
	for _, e := range p.Entities {
		if e == name {
			return true
		}
	}
	return false
}

// DataSourceName 返回最终连接串
func (p Provider) DataSourceName() string {
	if p.DSN != "" {
		return os.ExpandEnv(p.DSN)
	}
	if p.Database != DatabaseMySQL {
		return ""
	}

	cfg := mysql.NewConfig()
	cfg.User = os.ExpandEnv(p.User)
	cfg.Passwd = os.ExpandEnv(p.Password)
	cfg.Net = "tcp"
	host := p.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := p.Port
	if port == 0 {
		port = 3306
	}
	cfg.Addr = host + ":" + strconv.Itoa(port)
	cfg.DBName = p.Schema
	cfg.ParseTime = true
	// 受影响行数按匹配行计算，与 sqlite 一致
	cfg.ClientFoundRows = true
	return cfg.FormatDSN()
}

// Validate 校验单条记录
func (p Provider) Validate() error {
	if strings.TrimSpace(p.Provider) == "" {
		return errors.NewConfigurationError("provider 名称不能为空")
	}
	switch p.Database {
	case DatabaseSQLite:
		if p.DSN == "" {
			return errors.NewConfigurationError(fmt.Sprintf("provider %q 缺少 dsn", p.Provider))
		}
	case DatabaseMySQL:
		if p.DSN == "" && p.Schema == "" {
			return errors.NewConfigurationError(fmt.Sprintf("provider %q 缺少 dsn 或 schema", p.Provider))
		}
	default:
		return errors.NewConfigurationError(
			fmt.Sprintf("provider %q 的数据库类型 %q 不受支持（sqlite | mysql）", p.Provider, p.Database))
	}
	if p.Pool.MaxOpen < 0 || p.Pool.MaxIdle < 0 || p.Cache.Duration < 0 {
		return errors.NewConfigurationError(fmt.Sprintf("provider %q 的连接池或缓存配置为负数", p.Provider))
	}
	return nil
}

// Validate 校验整体配置：名称唯一、类型已知
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Provider] {
			return errors.NewConflictError(fmt.Sprintf("provider %q 重复声明", p.Provider))
		}
		seen[p.Provider] = true
	}
	if c.Events != nil {
		switch c.Events.Transport {
		case TransportMemory, TransportRedis, TransportNATS:
		default:
			return errors.NewConfigurationError(fmt.Sprintf("事件传输类型 %q 不受支持", c.Events.Transport))
		}
	}
	if c.Log != nil && c.Log.Level != "" {
		if _, ok := logging.LookupLevel(c.Log.Level); !ok {
			return errors.NewConfigurationError(fmt.Sprintf("日志级别 %q 不受支持", c.Log.Level))
		}
	}
	return nil
}

// Find 按名称查找 provider
func (c *Config) Find(name string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.Provider == name {
			return p, true
		}
	}
	return Provider{}, false
}

// Parse 解析 YAML 配置
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "解析配置失败")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load 从文件加载配置。
// 文件缺失时返回 ConfigurationError，而不是终止进程。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfiguration,
			fmt.Sprintf("读取配置文件 %s 失败", path))
	}
	return Parse(data)
}
