package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PollMetrics 轮询引擎自身的观测指标
type PollMetrics struct {
	Cycles          *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	Targets         *prometheus.GaugeVec
	CollectErrors   *prometheus.CounterVec
	CollectDuration *prometheus.HistogramVec
	SinkWrites      *prometheus.CounterVec
}

// NewPollMetrics 一次性创建并注册全部轮询指标
func (m *MetricFactory) NewPollMetrics() *PollMetrics {
	return &PollMetrics{
		Cycles:          m.NewPollCyclesTotal(),
		CycleDuration:   m.NewPollCycleDurationSeconds(),
		Targets:         m.NewPollTargets(),
		CollectErrors:   m.NewCollectErrorsTotal(),
		CollectDuration: m.NewCollectDurationSeconds(),
		SinkWrites:      m.NewSinkWritesTotal(),
	}
}

// NewPollCyclesTotal 周期计数，outcome: ok | registry_error
func (m *MetricFactory) NewPollCyclesTotal() *prometheus.CounterVec {
	return promauto.With(m.reg).NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_poll_cycles_total",
		Help: "Total poll cycles by outcome",
	}, []string{"outcome"})
}

func (m *MetricFactory) NewPollCycleDurationSeconds() prometheus.Histogram {
	return promauto.With(m.reg).NewHistogram(prometheus.HistogramOpts{
		Name:    "monitor_poll_cycle_duration_seconds",
		Help:    "Wall time of one poll cycle",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 0.05s ~ 25.6s
	})
}

// NewPollTargets 最近一个周期的目标数，result: attempted | succeeded | failed | skipped
func (m *MetricFactory) NewPollTargets() *prometheus.GaugeVec {
	return promauto.With(m.reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "monitor_poll_targets",
		Help: "Targets handled by the last poll cycle",
	}, []string{"result"})
}

// NewCollectErrorsTotal 创建「采集器错误总数」指标
// engine: Postgres / MongoDB / Redis
func (m *MetricFactory) NewCollectErrorsTotal() *prometheus.CounterVec {
	return promauto.With(m.reg).NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_collect_errors_total",
		Help: "Total collection errors per engine",
	}, []string{"engine"})
}

// NewCollectDurationSeconds 单个目标采集耗时分布
func (m *MetricFactory) NewCollectDurationSeconds() *prometheus.HistogramVec {
	return promauto.With(m.reg).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "monitor_collect_duration_seconds",
		Help:    "Collection duration per engine",
		Buckets: prometheus.DefBuckets,
	}, []string{"engine"})
}

// NewSinkWritesTotal result: inserted | duplicate | error
func (m *MetricFactory) NewSinkWritesTotal() *prometheus.CounterVec {
	return promauto.With(m.reg).NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_sink_writes_total",
		Help: "Sample writes by result",
	}, []string{"result"})
}
