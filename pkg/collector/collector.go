package collector

import (
	"context"
	"fmt"

	"github.com/db-monitor/pkg/target"
)

// Collector 引擎采集器核心接口：给定连接描述，产出一次 (cpu, memory) 估算
// 每次调用内部自建连接、用完即关，不跨周期持有
type Collector interface {
	Kind() target.EngineKind
	Collect(ctx context.Context, dsn string) (target.Reading, error)
}

// CollectionError 单个目标采集失败
type CollectionError struct {
	Target string
	Kind   target.EngineKind
	Err    error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect %s target %q: %v", e.Kind, e.Target, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// Set 按引擎类型查找采集器
type Set map[target.EngineKind]Collector

// NewSet builds a Set; a later collector replaces an earlier one of the same kind.
func NewSet(collectors ...Collector) Set {
	s := make(Set, len(collectors))
	for _, c := range collectors {
		s[c.Kind()] = c
	}
	return s
}

// Lookup 查找目标引擎对应的采集器
func (s Set) Lookup(kind target.EngineKind) (Collector, error) {
	c, ok := s[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no collector for %s", target.ErrUnknownEngine, kind)
	}
	return c, nil
}

// linearCPU 连接数线性折算 CPU 估算，并截断到 [0,100]
func linearCPU(count, perUnit float64) float64 {
	return target.ClampCPU(count * perUnit)
}
