package registers

import (
	"context"

	"github.com/db-monitor/pkg/target"
)

// Agent 顶层轮询接口（封装调度生命周期）
type Agent interface {
	Start(ctx context.Context)          // 启动调度循环（非阻塞）
	Shutdown(ctx context.Context) error // 优雅停止，等待当前周期结束
}

// Executor 执行一次完整的轮询周期
type Executor interface {
	RunOnce(ctx context.Context) CycleReport
}

// TargetLister 周期开始时读取活跃目标
type TargetLister interface {
	ListActiveTargets(ctx context.Context) ([]target.Target, error)
}

// SampleSink 写入单条样本
type SampleSink interface {
	Append(ctx context.Context, s target.Sample) (target.Sample, bool, error)
}

// SamplePublisher 周期结束后转发已落库样本（可选）
type SamplePublisher interface {
	Publish(ctx context.Context, samples []target.Sample) error
}
