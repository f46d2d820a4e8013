package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/db-monitor/pkg/config"
	"github.com/db-monitor/pkg/target"
)

var (
	// ErrNotFound 目标不存在或不属于调用者
	ErrNotFound = errors.New("target not found")
	// ErrDuplicateTarget 同一用户下目标名重复
	ErrDuplicateTarget = errors.New("target name already registered")
)

// Registry 目标注册表
type Registry interface {
	ListActiveTargets(ctx context.Context) ([]target.Target, error)
	ListTargetsByOwner(ctx context.Context, owner string) ([]target.Target, error)
	AddTarget(ctx context.Context, t target.NewTarget) (int, error)
	DeleteTarget(ctx context.Context, id int, owner string) error
}

// Sink 样本写入。Time 由 Sink 赋值，返回实际落库的样本；
// 同一 (db_id, time) 已存在时 inserted=false 且 err=nil
type Sink interface {
	Append(ctx context.Context, s target.Sample) (stored target.Sample, inserted bool, err error)
}

// SeriesReader 按分钟聚合的只读查询
type SeriesReader interface {
	Series(ctx context.Context, owner string, lookback time.Duration) ([]target.AggregatedPoint, error)
}

// Migrator 幂等建表
type Migrator interface {
	EnsureSchema(ctx context.Context) error
}

// Store 系统库全部能力
type Store interface {
	Registry
	Sink
	SeriesReader
	Migrator
	Close() error
}

// Option 存储可选项
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// sampleTime 统一为 UTC，精度与 timestamptz 一致（微秒）
func sampleTime(now func() time.Time) time.Time {
	return now().UTC().Truncate(time.Microsecond)
}

// Open 按 driver 打开存储
func Open(cfg config.StorageConfig, opts ...Option) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return OpenPostgres(cfg, opts...)
	case config.DriverMemory:
		return NewMemory(opts...), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
