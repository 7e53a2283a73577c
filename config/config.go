package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用全局配置结构体
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	OneBot     OneBotConfig     `mapstructure:"onebot"`
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Handin     HandinConfig     `mapstructure:"handin"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Permission PermissionConfig `mapstructure:"permission"`
}

// ServerConfig 管理接口 HTTP 服务器配置
type ServerConfig struct {
	Enabled    bool       `mapstructure:"enabled"`
	Port       int        `mapstructure:"port"`
	AdminToken string     `mapstructure:"admin_token"`
	CORS       CORSConfig `mapstructure:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// OneBotConfig OneBot v11 协议端（NapCat）配置
type OneBotConfig struct {
	EventMode     string        `mapstructure:"event_mode"` // ws | webhook
	WSURL         string        `mapstructure:"ws_url"`
	HTTPBase      string        `mapstructure:"http_base"`
	AccessToken   string        `mapstructure:"access_token"`
	WebhookSecret string        `mapstructure:"webhook_secret"` // HTTP 上报 X-Signature 密钥
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`

	// NapCat 本地缓存目录：容器内路径与宿主机映射
	TempContainerDir string `mapstructure:"temp_container_dir"`
	TempHostDir      string `mapstructure:"temp_host_dir"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// StorageConfig 任务持久化配置
type StorageConfig struct {
	Driver     string `mapstructure:"driver"` // json | postgres
	TaskDBPath string `mapstructure:"task_db_path"`
}

// DatabaseConfig PostgreSQL 数据库配置（storage.driver=postgres 时使用）
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 分钟
}

// DSN 生成 PostgreSQL 连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// RedisConfig Redis 配置（可选：限流与事件去重）
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	RateLimit       int           `mapstructure:"rate_limit"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	DedupeTTL       time.Duration `mapstructure:"dedupe_ttl"`
}

// HandinConfig 作业提交业务配置
type HandinConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	ArchiveDir string `mapstructure:"archive_dir"`
	InboxDir   string `mapstructure:"inbox_dir"`
	TempDir    string `mapstructure:"temp_dir"`
	RosterPath string `mapstructure:"roster_path"`
	Timezone   string `mapstructure:"timezone"`

	// 旧版目录：<legacy_groups_dir>/<gid>/<legacy_dir_name>/<task>/...
	LegacyGroupsDir string `mapstructure:"legacy_groups_dir"`
	LegacyDirName   string `mapstructure:"legacy_dir_name"`

	ArchiveRetention   time.Duration `mapstructure:"archive_retention"`
	InboxRetention     time.Duration `mapstructure:"inbox_retention"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
}

// Location 解析业务时区，失败时回退到本地时区
func (c *HandinConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// DeliveryConfig 文件发送配置
type DeliveryConfig struct {
	GroupHostDir        string          `mapstructure:"group_host_dir"`
	GroupContainerDir   string          `mapstructure:"group_container_dir"`
	PrivateHostDir      string          `mapstructure:"private_host_dir"`
	PrivateContainerDir string          `mapstructure:"private_container_dir"`
	ASCIISafeNames      bool            `mapstructure:"ascii_safe_names"`
	RetryDelays         []time.Duration `mapstructure:"retry_delays"`
	ZipFallback         bool            `mapstructure:"zip_fallback"`
}

// DispatchConfig 事件分发与重连配置
type DispatchConfig struct {
	MaxInFlight      int           `mapstructure:"max_in_flight"`
	LockShards       int           `mapstructure:"lock_shards"`
	WorkerPoolSize   int           `mapstructure:"worker_pool_size"`
	GracePeriod      time.Duration `mapstructure:"grace_period"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
}

// PermissionConfig 权限等级：0游客 1临时 2好友 3管理员
type PermissionConfig struct {
	AdminUsers   []int64        `mapstructure:"admin_users"`
	DefaultLevel int            `mapstructure:"default_level"`
	UserLevels   map[string]int `mapstructure:"user_levels"`
	GroupLevels  map[string]int `mapstructure:"group_levels"`
}

// Load 从配置文件与环境变量加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	v := viper.New()

	// ── 默认值 ──
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.cors.allow_origins", []string{})

	v.SetDefault("onebot.event_mode", "ws")
	v.SetDefault("onebot.ws_url", "ws://127.0.0.1:3001/")
	v.SetDefault("onebot.http_base", "http://127.0.0.1:3010")
	v.SetDefault("onebot.access_token", "")
	v.SetDefault("onebot.webhook_secret", "")
	v.SetDefault("onebot.action_timeout", "8s")
	v.SetDefault("onebot.upload_timeout", "300s")
	v.SetDefault("onebot.fetch_timeout", "180s")
	v.SetDefault("onebot.temp_container_dir", "/app/.config/QQ/NapCat/temp")
	v.SetDefault("onebot.temp_host_dir", "./napcat_qq/NapCat/temp")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.driver", "json")
	v.SetDefault("storage.task_db_path", "./data/_handin_tasks.json")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "handin")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "Asia/Shanghai")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", 60)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.rate_limit", 20)
	v.SetDefault("redis.rate_limit_window", "10s")
	v.SetDefault("redis.dedupe_ttl", "10m")

	v.SetDefault("handin.data_dir", "./data")
	v.SetDefault("handin.archive_dir", "./data/handin")
	v.SetDefault("handin.inbox_dir", "./data/users/_handin_inbox")
	v.SetDefault("handin.temp_dir", "./data/temp")
	v.SetDefault("handin.roster_path", "./data/friend/班级名册.xlsx")
	v.SetDefault("handin.timezone", "Asia/Shanghai")
	v.SetDefault("handin.legacy_groups_dir", "./data/groups")
	v.SetDefault("handin.legacy_dir_name", "handin")
	v.SetDefault("handin.archive_retention", "720h")
	v.SetDefault("handin.inbox_retention", "720h")
	v.SetDefault("handin.poll_interval", "10s")
	v.SetDefault("handin.cleanup_interval", "1h")
	v.SetDefault("handin.session_idle_timeout", "72h")

	v.SetDefault("delivery.group_host_dir", "./upload_group_file")
	v.SetDefault("delivery.group_container_dir", "/data/upload_group_file")
	v.SetDefault("delivery.private_host_dir", "./upload_private_file")
	v.SetDefault("delivery.private_container_dir", "/data/upload_private_file")
	v.SetDefault("delivery.ascii_safe_names", false)
	v.SetDefault("delivery.retry_delays", []string{"800ms", "1800ms"})
	v.SetDefault("delivery.zip_fallback", true)

	v.SetDefault("dispatch.max_in_flight", 32)
	v.SetDefault("dispatch.lock_shards", 64)
	v.SetDefault("dispatch.worker_pool_size", 4)
	v.SetDefault("dispatch.grace_period", "5s")
	v.SetDefault("dispatch.reconnect_backoff", "2s")

	v.SetDefault("permission.admin_users", []int64{})
	v.SetDefault("permission.default_level", 0)

	// ── 配置文件 ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── 环境变量 ──
	v.SetEnvPrefix("HANDIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在时仅依赖默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("配置校验失败: server.port 必须在 1-65535 之间")
	}
	switch c.OneBot.EventMode {
	case "ws", "webhook":
	default:
		return fmt.Errorf("配置校验失败: onebot.event_mode 只能是 ws 或 webhook")
	}
	if c.OneBot.EventMode == "webhook" && !c.Server.Enabled {
		return fmt.Errorf("配置校验失败: onebot.event_mode=webhook 需要开启 server.enabled")
	}
	switch c.Storage.Driver {
	case "json", "postgres":
	default:
		return fmt.Errorf("配置校验失败: storage.driver 只能是 json 或 postgres")
	}
	if c.Handin.ArchiveDir == "" || c.Handin.InboxDir == "" {
		return fmt.Errorf("配置校验失败: handin.archive_dir 与 handin.inbox_dir 不能为空")
	}
	if c.Handin.ArchiveRetention <= 0 || c.Handin.InboxRetention <= 0 {
		return fmt.Errorf("配置校验失败: 保留时长必须大于 0")
	}
	if c.Handin.PollInterval <= 0 {
		return fmt.Errorf("配置校验失败: handin.poll_interval 必须大于 0")
	}
	if c.Dispatch.MaxInFlight <= 0 || c.Dispatch.LockShards <= 0 || c.Dispatch.WorkerPoolSize <= 0 {
		return fmt.Errorf("配置校验失败: dispatch 并发参数必须大于 0")
	}
	for _, d := range c.Delivery.RetryDelays {
		if d < 0 {
			return fmt.Errorf("配置校验失败: delivery.retry_delays 不能为负数")
		}
	}
	return nil
}
