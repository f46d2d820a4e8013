package registers

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/db-monitor/pkg/logger"
)

// Sampler 周期结束后的附加采样（agent 自身进程指标）
type Sampler interface {
	Sample() error
}

// AgentImpl 轮询调度器：一个周期结束后空闲 interval 再开始下一个，周期之间不重叠
type AgentImpl struct {
	executor Executor
	interval time.Duration
	sampler  Sampler
	onCycle  func(CycleReport)
	log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type AgentOption func(*AgentImpl)

// WithSampler 每个周期后更新一次进程指标
func WithSampler(s Sampler) AgentOption {
	return func(a *AgentImpl) { a.sampler = s }
}

// WithCycleHook 每个周期结束后回调
func WithCycleHook(fn func(CycleReport)) AgentOption {
	return func(a *AgentImpl) { a.onCycle = fn }
}

// OwnerInvalidator 按 owner 失效查询缓存
type OwnerInvalidator interface {
	Invalidate(ctx context.Context, owner string) error
}

// InvalidateOwners 周期回调：有新样本落库的 owner 清掉缓存，图表最多滞后一个周期
func InvalidateOwners(ctx context.Context, inv OwnerInvalidator) func(CycleReport) {
	log := logger.With("scheduler")
	return func(r CycleReport) {
		for _, owner := range r.Owners() {
			if err := inv.Invalidate(ctx, owner); err != nil {
				log.Warn("series cache invalidation failed", zap.String("user_id", owner), zap.Error(err))
			}
		}
	}
}

func NewAgent(exec Executor, interval time.Duration, opts ...AgentOption) *AgentImpl {
	a := &AgentImpl{
		executor: exec,
		interval: interval,
		log:      logger.With("scheduler"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run 阻塞执行调度循环，ctx 取消后返回 ctx.Err()
// 取消只在周期之间生效；进行中的周期通过同一个 ctx 中断各目标的采集
func (a *AgentImpl) Run(ctx context.Context) error {
	a.log.Info("monitor scheduler started", zap.Duration("interval", a.interval))
	defer a.log.Info("monitor scheduler stopped")

	timer := time.NewTimer(a.interval)
	timer.Stop()
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		report := a.executor.RunOnce(ctx)
		a.afterCycle(report)

		// 空闲间隔从本周期结束开始计算
		timer.Reset(a.interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (a *AgentImpl) afterCycle(report CycleReport) {
	if a.sampler != nil {
		if err := a.sampler.Sample(); err != nil {
			a.log.Debug("process sample failed", zap.Error(err))
		}
	}
	if a.onCycle != nil {
		a.onCycle(report)
	}
}

// Start 在后台启动调度循环，重复调用无效
func (a *AgentImpl) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil {
		a.log.Warn("monitor scheduler already started, skip")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if err := a.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("monitor scheduler exited", zap.Error(err))
		}
	}(a.done)
}

// Shutdown 停止调度并等待当前周期收尾，ctx 到期则放弃等待
func (a *AgentImpl) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}

	a.log.Info("starting to shutdown monitor scheduler")
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.log.Warn("monitor scheduler shutdown timed out", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
