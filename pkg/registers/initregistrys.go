package registers

import (
	"go.uber.org/zap"

	"github.com/db-monitor/pkg/collector"
	"github.com/db-monitor/pkg/config"
	"github.com/db-monitor/pkg/logger"
	"github.com/db-monitor/pkg/metrics"
)

// Module 采集器注册项
type Module struct {
	Enabled bool
	Name    string
	NewFunc func() collector.Collector
}

// RegisterCollectors 采集器注册统一入口（新增引擎只需在表里加一行）
func RegisterCollectors(cfg config.MonitorConfig) collector.Set {
	modules := []Module{
		{Enabled: cfg.EngineEnabled("postgres"), Name: "postgres", NewFunc: func() collector.Collector { return collector.NewRelational() }},
		{Enabled: cfg.EngineEnabled("mongodb"), Name: "mongodb", NewFunc: func() collector.Collector { return collector.NewDocument() }},
		{Enabled: cfg.EngineEnabled("redis"), Name: "redis", NewFunc: func() collector.Collector { return collector.NewKeyValue() }},
	}

	var enabled []collector.Collector
	for _, m := range modules {
		if !m.Enabled {
			logger.Info("collector disabled, skip", zap.String("collector", m.Name))
			continue
		}
		enabled = append(enabled, m.NewFunc())
		logger.Info("registered collector successfully", zap.String("collector", m.Name))
	}
	return collector.NewSet(enabled...)
}

// InitPollAgent 装配轮询引擎：采集器 + 指标 + 周期执行器 + 调度器
// publisher 可为 nil；opts 追加在进程采样之后
func InitPollAgent(cfg *config.Config, registry TargetLister, sink SampleSink, factory *metrics.MetricFactory, publisher SamplePublisher, opts ...AgentOption) *AgentImpl {
	cycleOpts := []CycleOption{WithMetrics(factory.NewPollMetrics())}
	if publisher != nil {
		cycleOpts = append(cycleOpts, WithPublisher(publisher))
	}
	cycle := NewPollCycle(registry, RegisterCollectors(cfg.Monitor), sink, cfg.Monitor, cycleOpts...)

	var agentOpts []AgentOption
	if cfg.Monitor.ProcessStats {
		sampler, err := factory.NewProcessSampler()
		if err != nil {
			logger.Warn("process sampler unavailable", zap.Error(err))
		} else {
			agentOpts = append(agentOpts, WithSampler(sampler))
		}
	}
	return NewAgent(cycle, cfg.Monitor.Interval, append(agentOpts, opts...)...)
}
