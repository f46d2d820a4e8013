package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/db-monitor/pkg/config"
	"github.com/db-monitor/pkg/connstr"
	"github.com/db-monitor/pkg/logger"
	"github.com/db-monitor/pkg/target"
)

// ErrMiss 缓存未命中
var ErrMiss = errors.New("cache miss")

// KV 缓存后端最小接口
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Close() error
}

// SeriesReader 被缓存的聚合查询
type SeriesReader interface {
	Series(ctx context.Context, owner string, lookback time.Duration) ([]target.AggregatedPoint, error)
}

// RedisKV go-redis 实现
type RedisKV struct {
	client redis.UniversalClient
}

// NewRedisKV 创建单机客户端并 Ping 一次
func NewRedisKV(ctx context.Context, cfg config.CacheConfig) (*RedisKV, error) {
	opts, err := ClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis cache %s: %w", opts.Addr, err)
	}
	return &RedisKV{client: client}, nil
}

// ClientOptions 解析 cache.addr（host:port、redis:// URL 或 "host:port,password=.." 旧格式），
// 显式配置的 password/db 优先
func ClientOptions(cfg config.CacheConfig) (*redis.Options, error) {
	opts, err := connstr.Redis(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("cache.addr: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 5 * time.Second
	return opts, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisKV) Close() error { return r.client.Close() }

// Series 按 owner 缓存聚合结果的读穿透缓存；缓存故障时直接回源
type Series struct {
	kv     KV
	reader SeriesReader
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

func NewSeries(reader SeriesReader, kv KV, cfg config.CacheConfig) *Series {
	return &Series{
		kv:     kv,
		reader: reader,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		log:    logger.With("series-cache"),
	}
}

func (s *Series) key(owner string) string {
	return s.prefix + "series:" + owner
}

// cachedSeries 缓存值，lookback 不同视为未命中
type cachedSeries struct {
	Lookback time.Duration           `json:"lookback"`
	Points   []target.AggregatedPoint `json:"points"`
}

func (s *Series) Series(ctx context.Context, owner string, lookback time.Duration) ([]target.AggregatedPoint, error) {
	key := s.key(owner)
	raw, err := s.kv.Get(ctx, key)
	switch {
	case err == nil:
		var c cachedSeries
		if jerr := json.Unmarshal(raw, &c); jerr == nil && c.Lookback == lookback {
			return c.Points, nil
		}
	case !errors.Is(err, ErrMiss):
		s.log.Warn("series cache read failed", zap.String("key", key), zap.Error(err))
	}

	points, err := s.reader.Series(ctx, owner, lookback)
	if err != nil {
		return nil, err
	}
	val, err := json.Marshal(cachedSeries{Lookback: lookback, Points: points})
	if err == nil {
		err = s.kv.Set(ctx, key, val, s.ttl)
	}
	if err != nil {
		s.log.Warn("series cache write failed", zap.String("key", key), zap.Error(err))
	}
	return points, nil
}

// Invalidate 目标增删后清掉该 owner 的缓存
func (s *Series) Invalidate(ctx context.Context, owner string) error {
	if err := s.kv.Del(ctx, s.key(owner)); err != nil {
		return fmt.Errorf("invalidate series cache for %s: %w", owner, err)
	}
	return nil
}

func (s *Series) Close() error { return s.kv.Close() }
