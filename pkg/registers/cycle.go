package registers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/db-monitor/pkg/collector"
	"github.com/db-monitor/pkg/config"
	"github.com/db-monitor/pkg/logger"
	"github.com/db-monitor/pkg/metrics"
	"github.com/db-monitor/pkg/target"
)

// Outcome 单个目标在一个周期内的结果
type Outcome int

const (
	OutcomeSucceeded Outcome = iota + 1
	OutcomeFailed
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ErrWrite 样本写入失败
var ErrWrite = errors.New("sample write failed")

// TargetResult 单个目标的处理结果
type TargetResult struct {
	Target   target.Target
	Outcome  Outcome
	Sample   target.Sample // Outcome == OutcomeSucceeded 时有效
	Inserted bool          // false 表示同一时刻已有样本，按重复跳过
	Err      error
}

// CycleReport 一个周期的不可变汇总，由各目标结果折叠得到
type CycleReport struct {
	Started    time.Time
	Duration   time.Duration
	Attempted  int
	Succeeded  int
	Failed     int
	Skipped    int
	Duplicates int
	FetchErr   error // 目标列表读取失败时整个周期作废
	Results    []TargetResult
}

// OK reports whether the registry fetch succeeded.
func (r CycleReport) OK() bool { return r.FetchErr == nil }

// Inserted returns the samples that were newly persisted this cycle.
func (r CycleReport) Inserted() []target.Sample {
	var out []target.Sample
	for _, res := range r.Results {
		if res.Outcome == OutcomeSucceeded && res.Inserted {
			out = append(out, res.Sample)
		}
	}
	return out
}

// Owners returns the distinct owners that received a new sample, in result order.
func (r CycleReport) Owners() []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range r.Inserted() {
		if !seen[s.OwnerID] {
			seen[s.OwnerID] = true
			out = append(out, s.OwnerID)
		}
	}
	return out
}

func foldReport(started time.Time, results []TargetResult) CycleReport {
	r := CycleReport{Started: started, Results: results}
	for _, res := range results {
		switch res.Outcome {
		case OutcomeSkipped:
			r.Skipped++
			continue
		case OutcomeSucceeded:
			r.Succeeded++
			if !res.Inserted {
				r.Duplicates++
			}
		case OutcomeFailed:
			r.Failed++
		}
		r.Attempted++
	}
	r.Duration = time.Since(started)
	return r
}

// PollCycle 轮询周期执行器
type PollCycle struct {
	registry       TargetLister
	collectors     collector.Set
	sink           SampleSink
	publisher      SamplePublisher
	metrics        *metrics.PollMetrics
	timeout        time.Duration
	maxConcurrency int
	diskAlertMB    float64
	log            *zap.Logger
}

// CycleOption 执行器可选项
type CycleOption func(*PollCycle)

// WithMetrics 记录 Prometheus 指标
func WithMetrics(pm *metrics.PollMetrics) CycleOption {
	return func(c *PollCycle) { c.metrics = pm }
}

// WithPublisher 周期结束后转发新样本
func WithPublisher(p SamplePublisher) CycleOption {
	return func(c *PollCycle) { c.publisher = p }
}

func NewPollCycle(registry TargetLister, collectors collector.Set, sink SampleSink, cfg config.MonitorConfig, opts ...CycleOption) *PollCycle {
	c := &PollCycle{
		registry:       registry,
		collectors:     collectors,
		sink:           sink,
		timeout:        cfg.CollectTimeout,
		maxConcurrency: cfg.MaxConcurrency,
		diskAlertMB:    cfg.DiskAlertMB,
		log:            logger.With("poll-cycle"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunOnce 执行一个周期：读取活跃目标，逐个（并发）采集并写入，单目标失败互不影响
func (c *PollCycle) RunOnce(ctx context.Context) CycleReport {
	started := time.Now()

	targets, err := c.listTargets(ctx)
	if err != nil {
		c.log.Error("master loop error: list active targets failed", zap.Error(err))
		report := CycleReport{Started: started, Duration: time.Since(started), FetchErr: err}
		c.observe(report)
		return report
	}

	results := make([]TargetResult, len(targets))
	limit := c.maxConcurrency
	if limit <= 0 || limit > len(targets) {
		limit = len(targets)
	}
	sem := make(chan struct{}, max(limit, 1))

	var wg sync.WaitGroup
	for i, t := range targets {
		if !t.Pollable() {
			c.log.Warn("skipping database: connection string is empty", targetFields(t)...)
			results[i] = TargetResult{Target: t, Outcome: OutcomeSkipped}
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = TargetResult{Target: t, Outcome: OutcomeFailed, Err: ctx.Err()}
			continue
		}
		wg.Add(1)
		go func(i int, t target.Target) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = c.pollTarget(ctx, t)
		}(i, t)
	}
	wg.Wait()

	report := foldReport(started, results)
	c.publish(ctx, report)
	c.observe(report)
	return report
}

// listTargets 与写入一样受 collect_timeout 约束，系统库卡住时本周期按 registry_error 结束
func (c *PollCycle) listTargets(ctx context.Context) ([]target.Target, error) {
	lctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.registry.ListActiveTargets(lctx)
}

func (c *PollCycle) pollTarget(ctx context.Context, t target.Target) (res TargetResult) {
	res = TargetResult{Target: t}
	fields := targetFields(t)
	defer func() {
		if p := recover(); p != nil {
			c.log.Error("panic while polling database", append(fields, zap.Any("panic", p))...)
			res = TargetResult{Target: t, Outcome: OutcomeFailed, Err: fmt.Errorf("poll panic: %v", p)}
		}
	}()

	reading, err := c.collect(ctx, t)
	if err != nil {
		c.log.Error("failed to poll database", append(fields, zap.Error(err))...)
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}

	if reading.HasStorage && c.diskAlertMB > 0 && reading.Storage > c.diskAlertMB {
		c.log.Warn("DISK ALERT: database is getting large",
			append(fields, zap.Float64("size_mb", reading.Storage), zap.Float64("threshold_mb", c.diskAlertMB))...)
	}

	wctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	stored, inserted, err := c.sink.Append(wctx, target.Sample{
		TargetID: t.ID,
		OwnerID:  t.OwnerID,
		TenantID: t.TenantID,
		Reading:  reading,
	})
	if err != nil {
		c.countWrite("error")
		c.log.Error("failed to persist sample", append(fields, zap.Error(err))...)
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("%w: %w", ErrWrite, err)
		return res
	}
	if inserted {
		c.countWrite("inserted")
	} else {
		c.countWrite("duplicate")
		c.log.Debug("duplicate sample skipped", append(fields, zap.Time("time", stored.Time))...)
	}

	c.log.Info("polled database", append(fields,
		zap.Float64("cpu", reading.CPU), zap.Float64("memory_mb", reading.Memory))...)
	res.Outcome, res.Sample, res.Inserted = OutcomeSucceeded, stored, inserted
	return res
}

// collect 在超时内执行采集；采集器不响应 ctx 时也会在超时点返回
func (c *PollCycle) collect(ctx context.Context, t target.Target) (target.Reading, error) {
	wrap := func(err error) error {
		return &collector.CollectionError{Target: t.Name, Kind: t.Kind, Err: err}
	}
	if t.Kind == 0 {
		return target.Reading{}, wrap(fmt.Errorf("%w: %q", target.ErrUnknownEngine, t.RawKind))
	}
	coll, err := c.collectors.Lookup(t.Kind)
	if err != nil {
		return target.Reading{}, wrap(err)
	}

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.CollectDuration.WithLabelValues(t.Kind.String()).Observe(time.Since(start).Seconds())
		}
	}()

	reading, err := collectBounded(ctx, coll, t.DSN, c.timeout)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CollectErrors.WithLabelValues(t.Kind.String()).Inc()
		}
		return target.Reading{}, wrap(err)
	}
	reading.CPU = target.ClampCPU(reading.CPU)
	return reading, nil
}

type collectResult struct {
	reading target.Reading
	err     error
}

func collectBounded(parent context.Context, coll collector.Collector, dsn string, timeout time.Duration) (target.Reading, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ch := make(chan collectResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- collectResult{err: fmt.Errorf("collector panic: %v", p)}
			}
		}()
		r, err := coll.Collect(ctx, dsn)
		ch <- collectResult{reading: r, err: err}
	}()

	select {
	case res := <-ch:
		return res.reading, res.err
	case <-ctx.Done():
		return target.Reading{}, fmt.Errorf("collection aborted after %s: %w", timeout, ctx.Err())
	}
}

func (c *PollCycle) publish(ctx context.Context, report CycleReport) {
	if c.publisher == nil {
		return
	}
	samples := report.Inserted()
	if len(samples) == 0 {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.publisher.Publish(pctx, samples); err != nil {
		c.log.Warn("failed to publish samples", zap.Int("samples", len(samples)), zap.Error(err))
	}
}

func (c *PollCycle) countWrite(result string) {
	if c.metrics != nil {
		c.metrics.SinkWrites.WithLabelValues(result).Inc()
	}
}

func (c *PollCycle) observe(r CycleReport) {
	if !r.OK() {
		if c.metrics != nil {
			c.metrics.Cycles.WithLabelValues("registry_error").Inc()
			c.metrics.CycleDuration.Observe(r.Duration.Seconds())
		}
		return
	}
	c.log.Info("poll cycle finished",
		zap.Int("attempted", r.Attempted),
		zap.Int("succeeded", r.Succeeded),
		zap.Int("failed", r.Failed),
		zap.Int("skipped", r.Skipped),
		zap.Int("duplicates", r.Duplicates),
		zap.Duration("duration", r.Duration),
	)
	if c.metrics == nil {
		return
	}
	c.metrics.Cycles.WithLabelValues("ok").Inc()
	c.metrics.CycleDuration.Observe(r.Duration.Seconds())
	c.metrics.Targets.WithLabelValues("attempted").Set(float64(r.Attempted))
	c.metrics.Targets.WithLabelValues("succeeded").Set(float64(r.Succeeded))
	c.metrics.Targets.WithLabelValues("failed").Set(float64(r.Failed))
	c.metrics.Targets.WithLabelValues("skipped").Set(float64(r.Skipped))
}

func targetFields(t target.Target) []zap.Field {
	return []zap.Field{
		zap.Int("db_id", t.ID),
		zap.String("db_name", t.Name),
		zap.String("db_type", t.RawKind),
	}
}
