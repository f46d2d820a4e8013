package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var valid = validator.New()

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config 全局配置结构体（聚合所有核心模块）
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server" comment:"HTTP服务配置"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor" comment:"轮询采集配置"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage" comment:"系统库配置"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache" comment:"查询缓存配置"`
	Kafka   KafkaConfig   `yaml:"kafka" mapstructure:"kafka" comment:"样本转发配置"`
	Auth    AuthConfig    `yaml:"auth" mapstructure:"auth" comment:"鉴权配置"`
	Log     ZapLogConfig  `yaml:"log" mapstructure:"log" comment:"日志配置"`
}

// ServerConfig HTTP服务配置（超时统一为time.Duration，支持"30s"解析）
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr" env:"SERVER_ADDR" validate:"required,hostname_port" comment:"HTTP监听地址（格式：ip:port）"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" env:"SERVER_READ_TIMEOUT" validate:"required,gt=0" comment:"读取超时时间（如30s）"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" env:"SERVER_WRITE_TIMEOUT" validate:"required,gt=0" comment:"写入超时时间（如30s）"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" validate:"required,gt=0" comment:"空闲连接超时时间（如60s）"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" validate:"required,gt=0" comment:"优雅关闭超时"`
}

// MonitorConfig 轮询全局配置
type MonitorConfig struct {
	Interval       time.Duration `yaml:"interval" mapstructure:"interval" env:"MONITOR_INTERVAL" validate:"required,gt=0" comment:"两次轮询之间的空闲间隔" default:"10s"`
	CollectTimeout time.Duration `yaml:"collect_timeout" mapstructure:"collect_timeout" env:"MONITOR_COLLECT_TIMEOUT" validate:"required,gt=0" comment:"单个目标采集超时" default:"5s"`
	MaxConcurrency int           `yaml:"max_concurrency" mapstructure:"max_concurrency" env:"MONITOR_MAX_CONCURRENCY" validate:"gte=0" comment:"周期内并发上限，0 表示按目标数" default:"0"`
	Lookback       time.Duration `yaml:"lookback" mapstructure:"lookback" env:"MONITOR_LOOKBACK" validate:"required,gt=0" comment:"查询回看窗口" default:"3h"`
	DiskAlertMB    float64       `yaml:"disk_alert_mb" mapstructure:"disk_alert_mb" env:"MONITOR_DISK_ALERT_MB" validate:"gte=0" comment:"库大小告警阈值(MB)，0 关闭" default:"500"`
	ProcessStats   bool          `yaml:"process_stats" mapstructure:"process_stats" env:"MONITOR_PROCESS_STATS" comment:"是否采集 agent 自身进程指标" default:"true"`
	Engines        []string      `yaml:"engines" mapstructure:"engines" env:"MONITOR_ENGINES" validate:"required,min=1,dive,oneof=postgres mongodb redis" comment:"启用的引擎采集器" default:"postgres,mongodb,redis"`
}

// StorageConfig 系统库（目标注册表 + 样本表）
type StorageConfig struct {
	Driver            string        `yaml:"driver" mapstructure:"driver" env:"STORAGE_DRIVER" validate:"required,oneof=postgres memory" default:"postgres"`
	DSN               string        `yaml:"dsn" mapstructure:"dsn" env:"DATABASE_CONNECTION_STRING" comment:"Postgres 连接串"`
	MaxOpenConns      int           `yaml:"max_open_conns" mapstructure:"max_open_conns" validate:"gte=0" default:"10"`
	MaxIdleConns      int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns" validate:"gte=0" default:"5"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime" validate:"gte=0" default:"5m"`
	BootstrapAttempts int           `yaml:"bootstrap_attempts" mapstructure:"bootstrap_attempts" validate:"gte=1" default:"5"`
	BootstrapDelay    time.Duration `yaml:"bootstrap_delay" mapstructure:"bootstrap_delay" validate:"gte=0" default:"5s"`
}

// CacheConfig Redis 查询缓存
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled" env:"CACHE_ENABLED" default:"false"`
	Addr      string        `yaml:"addr" mapstructure:"addr" env:"REDIS_CONNECTION" default:"localhost:6379"`
	Password  string        `yaml:"password" mapstructure:"password" env:"CACHE_PASSWORD"`
	DB        int           `yaml:"db" mapstructure:"db" validate:"gte=0"`
	KeyPrefix string        `yaml:"key_prefix" mapstructure:"key_prefix" default:"SaaS_Monitor_"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl" validate:"gte=0" default:"30s"`
}

// KafkaConfig 样本转发
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled" env:"KAFKA_ENABLED" default:"false"`
	Brokers      []string      `yaml:"brokers" mapstructure:"brokers" env:"KAFKA_BROKERS"`
	Topic        string        `yaml:"topic" mapstructure:"topic" default:"db-metrics"`
	BatchSize    int           `yaml:"batch_size" mapstructure:"batch_size" validate:"gte=0" default:"100"`
	BatchTimeout time.Duration `yaml:"batch_timeout" mapstructure:"batch_timeout" validate:"gte=0" default:"1s"`
	MaxRetry     int           `yaml:"max_retry" mapstructure:"max_retry" validate:"gte=0" default:"3"`
}

// AuthConfig JWT 鉴权
type AuthConfig struct {
	Secret        string        `yaml:"secret" mapstructure:"secret" env:"AUTH_SECRET" validate:"required,min=16"`
	Issuer        string        `yaml:"issuer" mapstructure:"issuer"`
	CookieName    string        `yaml:"cookie_name" mapstructure:"cookie_name" validate:"required" default:"SaaS_Auth"`
	TokenExpiry   time.Duration `yaml:"token_expiry" mapstructure:"token_expiry" validate:"gt=0" default:"1h"`
	AllowedOrigin string        `yaml:"allowed_origin" mapstructure:"allowed_origin" env:"FRONTEND_URL" default:"http://localhost:5173"`
}

// ZapLogConfig 日志配置
type ZapLogConfig struct {
	Level   string `yaml:"level" mapstructure:"level" env:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal" comment:"日志级别" default:"info"`
	Format  string `yaml:"format" mapstructure:"format" env:"LOG_FORMAT" validate:"required,oneof=json console" comment:"日志格式（json/console）" default:"json"`
	Path    string `yaml:"path" mapstructure:"path" env:"LOG_PATH" validate:"required" comment:"日志存储路径" default:"./logs"`
	MaxSize int    `yaml:"max_size" mapstructure:"max_size" env:"LOG_MAX_SIZE" validate:"required,gt=0" comment:"单个日志文件最大大小（MB）" default:"100"`
	MaxAge  int    `yaml:"max_age" mapstructure:"max_age" env:"LOG_MAX_AGE" validate:"required,gt=0" comment:"日志文件最大保存天数" default:"7"`
}

// NewDefaultConfig 创建默认配置（所有字段兜底，避免空指针/非法值）
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "0.0.0.0:8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval:       10 * time.Second,
			CollectTimeout: 5 * time.Second,
			MaxConcurrency: 0,
			Lookback:       3 * time.Hour,
			DiskAlertMB:    500,
			ProcessStats:   true,
			Engines:        []string{"postgres", "mongodb", "redis"},
		},
		Storage: StorageConfig{
			Driver:            DriverPostgres,
			MaxOpenConns:      10,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			BootstrapAttempts: 5,
			BootstrapDelay:    5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:   false,
			Addr:      "localhost:6379",
			KeyPrefix: "SaaS_Monitor_",
			TTL:       30 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			Brokers:      []string{},
			Topic:        "db-metrics",
			BatchSize:    100,
			BatchTimeout: time.Second,
			MaxRetry:     3,
		},
		Auth: AuthConfig{
			CookieName:    "SaaS_Auth",
			TokenExpiry:   time.Hour,
			AllowedOrigin: "http://localhost:5173",
		},
		Log: ZapLogConfig{
			Level:   "info",
			Format:  "json",
			Path:    "./logs",
			MaxSize: 100,
			MaxAge:  7,
		},
	}
}

// LoadConfigWithCli 支持 time.Duration，(Flags + YAML + ENV)
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	cfg := NewDefaultConfig()
	v := viper.New()

	// 1. 绑定 Cobra Flags → Viper
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	// 2. 解析配置文件 (--config)
	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	// 3. 绑定环境变量 ENV -> Viper （SERVER_ADDR -> server.addr）
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	// 4. 解码反序列化到结构体（支持 time.Duration）
	if err := decode(v.AllSettings(), cfg); err != nil {
		return nil, err
	}

	// 5. 校验配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// legacyEnv 兼容旧部署使用的环境变量名
var legacyEnv = map[string][]string{
	"storage.dsn":         {"STORAGE_DSN", "DATABASE_CONNECTION_STRING"},
	"cache.addr":          {"CACHE_ADDR", "REDIS_CONNECTION"},
	"auth.allowed_origin": {"AUTH_ALLOWED_ORIGIN", "FRONTEND_URL"},
}

func decode(settings map[string]any, cfg *Config) error {
	decoderConfig := &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate 配置校验
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	// 	1,校验Server服务配置
	if err := c.Server.Validate(); err != nil {
		return err
	}
	// 	2，校验轮询配置
	if err := c.Monitor.Validate(); err != nil {
		return err
	}
	// 	3，校验存储、缓存、转发
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Kafka.Validate(); err != nil {
		return err
	}
	// 	4，校验日志配置
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}
