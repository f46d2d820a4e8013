package agent

import (
	"github.com/spf13/cobra"
)

// initStorageFlags 系统库、缓存、转发与鉴权
func initStorageFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.String("storage.driver", defaultCfg.Storage.Driver, "-> Storage driver [postgres,memory] | 存储驱动")
	f.String("storage.dsn", defaultCfg.Storage.DSN, "-> Postgres DSN | 系统库连接串")
	f.Int("storage.max_open_conns", defaultCfg.Storage.MaxOpenConns, "-> Max open connections | 最大连接数")
	f.Int("storage.max_idle_conns", defaultCfg.Storage.MaxIdleConns, "-> Max idle connections | 最大空闲连接数")
	f.Duration("storage.conn_max_lifetime", defaultCfg.Storage.ConnMaxLifetime, "-> Connection max lifetime | 连接最长存活")
	f.Int("storage.bootstrap_attempts", defaultCfg.Storage.BootstrapAttempts, "-> Schema bootstrap attempts | 建表重试次数")
	f.Duration("storage.bootstrap_delay", defaultCfg.Storage.BootstrapDelay, "-> Delay between bootstrap attempts | 建表重试间隔")

	f.Bool("cache.enabled", defaultCfg.Cache.Enabled, "-> Enable redis series cache | 启用查询缓存")
	f.String("cache.addr", defaultCfg.Cache.Addr, "-> Redis address | Redis 地址")
	f.String("cache.password", defaultCfg.Cache.Password, "-> Redis password | Redis 密码")
	f.Int("cache.db", defaultCfg.Cache.DB, "-> Redis db index | Redis 库号")
	f.String("cache.key_prefix", defaultCfg.Cache.KeyPrefix, "-> Cache key prefix | 缓存键前缀")
	f.Duration("cache.ttl", defaultCfg.Cache.TTL, "-> Cache ttl | 缓存过期时间")

	f.Bool("kafka.enabled", defaultCfg.Kafka.Enabled, "-> Enable kafka fan-out | 启用样本转发")
	f.StringSlice("kafka.brokers", defaultCfg.Kafka.Brokers, "-> Kafka brokers | Kafka 地址列表")
	f.String("kafka.topic", defaultCfg.Kafka.Topic, "-> Kafka topic | 主题")
	f.Int("kafka.batch_size", defaultCfg.Kafka.BatchSize, "-> Writer batch size | 批量大小")
	f.Duration("kafka.batch_timeout", defaultCfg.Kafka.BatchTimeout, "-> Writer batch timeout | 批量超时")
	f.Int("kafka.max_retry", defaultCfg.Kafka.MaxRetry, "-> Publish attempts | 发送重试次数")

	f.String("auth.secret", defaultCfg.Auth.Secret, "-> JWT HS256 secret (min 16) | JWT 密钥")
	f.String("auth.issuer", defaultCfg.Auth.Issuer, "-> JWT issuer | 签发者")
	f.String("auth.cookie_name", defaultCfg.Auth.CookieName, "-> Auth cookie name | 鉴权 Cookie 名")
	f.Duration("auth.token_expiry", defaultCfg.Auth.TokenExpiry, "-> Token expiry | 令牌有效期")
	f.String("auth.allowed_origin", defaultCfg.Auth.AllowedOrigin, "-> CORS allowed origin | 允许跨域的前端地址")
}
