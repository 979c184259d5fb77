package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tempmail/sessionbox/internal/domain"
)

// ServerConfig 定义 HTTP 服务器的监听配置
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// InboxConfig 定义会话收件箱的核心业务配置
type InboxConfig struct {
	AllowedDomains   []string // 可分配地址的域名列表，第一个为默认域名
	TTLMinutes       int      // 新收件箱的生存时间（分钟），以最后访问时间为基准
	AddressLength    int      // 生成的本地部分长度
	MaxAllocAttempts int      // 地址分配的最大尝试次数
	CooldownMinutes  int      // 地址释放后的冷却时间（分钟）
}

// SMTPConfig 定义 SMTP 接收服务器的配置
type SMTPConfig struct {
	BindAddr        string // SMTP 服务监听地址，默认 ":25"
	Domain          string // HELO/EHLO 响应域名
	MaxMessageBytes int64  // 单封邮件大小上限
	MaxPerMinute    int    // 单个发件地址每分钟接收上限
}

// CORSConfig 定义跨域配置
type CORSConfig struct {
	AllowedOrigins []string
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 控制台编码与详细堆栈
	File        string // 日志文件路径，留空只输出到 stdout
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存配置
type RedisConfig struct {
	Enabled  bool   // 是否启用收件箱视图缓存
	Address  string // Redis 服务地址，默认 "localhost:6379"
	Password string
	DB       int
}

// CleanupConfig 定义周期性清理任务的默认参数
type CleanupConfig struct {
	InboxAgeMinutes   int           // expired/abandoned 行的静置时间
	BatchSize         int           // 每批次处理行数
	MaxRuntimeSeconds int           // 单次运行的墙钟预算
	Interval          time.Duration // 服务进程内的调度间隔
	Verbose           bool
	DryRun            bool
}

// Params 转换为核心层消费的清理参数。
func (c CleanupConfig) Params() domain.CleanupConfig {
	return domain.CleanupConfig{
		InboxAgeMinutes:   c.InboxAgeMinutes,
		BatchSize:         c.BatchSize,
		MaxRuntimeSeconds: c.MaxRuntimeSeconds,
		Verbose:           c.Verbose,
		DryRun:            c.DryRun,
	}
}

// Config 是系统配置的根结构体
type Config struct {
	Server   ServerConfig
	Inbox    InboxConfig
	SMTP     SMTPConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cleanup  CleanupConfig
}

// Load 从环境变量和 .env 文件加载配置。
//
// 优先级从高到低：系统环境变量、.env 文件、默认值。
// 环境变量前缀 SESSIONBOX_，例如 SESSIONBOX_SERVER_PORT、
// SESSIONBOX_INBOX_TTL_MINUTES。校验失败时返回错误，不会带着
// 非法配置启动。
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("sessionbox")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("inbox.allowed_domains", "temp.mail")
	viper.SetDefault("inbox.ttl_minutes", 60)
	viper.SetDefault("inbox.address_length", 10)
	viper.SetDefault("inbox.max_alloc_attempts", 10)
	viper.SetDefault("inbox.cooldown_minutes", 1440)
	viper.SetDefault("smtp.bind_addr", ":25")
	viper.SetDefault("smtp.domain", "temp.mail")
	viper.SetDefault("smtp.max_message_bytes", 10*1024*1024)
	viper.SetDefault("smtp.max_per_minute", 60)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("cleanup.inbox_age_minutes", 1440)
	viper.SetDefault("cleanup.batch_size", 1000)
	viper.SetDefault("cleanup.max_runtime_seconds", 300)
	viper.SetDefault("cleanup.interval", "1h")
	viper.SetDefault("cleanup.verbose", false)
	viper.SetDefault("cleanup.dry_run", false)

	domains := parseDomains(viper.GetString("inbox.allowed_domains"))
	if len(domains) == 0 {
		return nil, fmt.Errorf("inbox.allowed_domains must not be empty")
	}
	for _, d := range domains {
		if err := domain.ValidateDomain(d); err != nil {
			return nil, fmt.Errorf("inbox.allowed_domains: %q: %w", d, err)
		}
	}

	ttlMinutes := viper.GetInt("inbox.ttl_minutes")
	if ttlMinutes <= 0 {
		return nil, fmt.Errorf("inbox.ttl_minutes must be positive, got %d", ttlMinutes)
	}

	addressLength := viper.GetInt("inbox.address_length")
	if addressLength < domain.MinLocalPartLength || addressLength > domain.MaxLocalPartLength {
		return nil, fmt.Errorf("inbox.address_length must be in %d..%d, got %d",
			domain.MinLocalPartLength, domain.MaxLocalPartLength, addressLength)
	}

	maxAttempts := viper.GetInt("inbox.max_alloc_attempts")
	if maxAttempts < 1 {
		return nil, fmt.Errorf("inbox.max_alloc_attempts must be >= 1, got %d", maxAttempts)
	}

	cooldownMinutes := viper.GetInt("inbox.cooldown_minutes")
	if cooldownMinutes < 1 {
		return nil, fmt.Errorf("inbox.cooldown_minutes must be >= 1, got %d", cooldownMinutes)
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	cleanupInterval, err := time.ParseDuration(viper.GetString("cleanup.interval"))
	if err != nil {
		cleanupInterval = time.Hour
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Inbox: InboxConfig{
			AllowedDomains:   domains,
			TTLMinutes:       ttlMinutes,
			AddressLength:    addressLength,
			MaxAllocAttempts: maxAttempts,
			CooldownMinutes:  cooldownMinutes,
		},
		SMTP: SMTPConfig{
			BindAddr:        viper.GetString("smtp.bind_addr"),
			Domain:          viper.GetString("smtp.domain"),
			MaxMessageBytes: viper.GetInt64("smtp.max_message_bytes"),
			MaxPerMinute:    viper.GetInt("smtp.max_per_minute"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Cleanup: CleanupConfig{
			InboxAgeMinutes:   viper.GetInt("cleanup.inbox_age_minutes"),
			BatchSize:         viper.GetInt("cleanup.batch_size"),
			MaxRuntimeSeconds: viper.GetInt("cleanup.max_runtime_seconds"),
			Interval:          cleanupInterval,
			Verbose:           viper.GetBool("cleanup.verbose"),
			DryRun:            viper.GetBool("cleanup.dry_run"),
		},
	}

	if err := cfg.Cleanup.Params().Validate(); err != nil {
		return nil, fmt.Errorf("cleanup defaults: %w", err)
	}

	return cfg, nil
}

// parseDomains 将逗号分隔的域名字符串解析为小写域名数组。
func parseDomains(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为去除空白的切片。
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载当前目录或父目录的 .env（可选，静默失败）。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
