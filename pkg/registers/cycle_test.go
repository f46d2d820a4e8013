package registers_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db-monitor/pkg/collector"
	"github.com/db-monitor/pkg/config"
	"github.com/db-monitor/pkg/metrics"
	"github.com/db-monitor/pkg/registers"
	"github.com/db-monitor/pkg/storage"
	"github.com/db-monitor/pkg/target"
)

type collectFunc func(ctx context.Context, dsn string) (target.Reading, error)

// fakeCollector 可编程采集器
type fakeCollector struct {
	kind target.EngineKind
	fn   collectFunc
}

func (f *fakeCollector) Kind() target.EngineKind { return f.kind }

func (f *fakeCollector) Collect(ctx context.Context, dsn string) (target.Reading, error) {
	return f.fn(ctx, dsn)
}

func fixed(r target.Reading) collectFunc {
	return func(context.Context, string) (target.Reading, error) { return r, nil }
}

func failing(err error) collectFunc {
	return func(context.Context, string) (target.Reading, error) { return target.Reading{}, err }
}

// blocking 不理会 ctx，直到测试结束才返回
func blocking(t *testing.T) collectFunc {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	return func(context.Context, string) (target.Reading, error) {
		<-release
		return target.Reading{}, nil
	}
}

type brokenLister struct{ err error }

func (b brokenLister) ListActiveTargets(context.Context) ([]target.Target, error) {
	return nil, b.err
}

// hangingLister 模拟卡住的系统库，只在 ctx 结束时返回
type hangingLister struct{}

func (hangingLister) ListActiveTargets(ctx context.Context) ([]target.Target, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// recordingPublisher 记录每次转发的样本
type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]target.Sample
}

func (p *recordingPublisher) Publish(_ context.Context, samples []target.Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, samples)
	return nil
}

func monitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		Interval:       50 * time.Millisecond,
		CollectTimeout: 100 * time.Millisecond,
		Lookback:       time.Hour,
		DiskAlertMB:    500,
	}
}

func putTarget(store *storage.Memory, owner, name string, kind target.EngineKind, dsn string) target.Target {
	return store.Put(target.Target{
		OwnerID: owner,
		Name:    name,
		Kind:    kind,
		RawKind: kind.String(),
		DSN:     dsn,
		Active:  true,
	})
}

func newPollMetrics() *metrics.PollMetrics {
	return metrics.NewMetricFactory(metrics.NewPromRegistry(false)).NewPollMetrics()
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	store := storage.NewMemory()
	putTarget(store, "O", "pg", target.Relational, "host=pg")
	putTarget(store, "O", "mongo", target.Document, "mongodb://mongo")
	putTarget(store, "O", "redis", target.KeyValue, "redis:6379")
	putTarget(store, "O", "empty", target.Relational, "  ")
	store.Put(target.Target{OwnerID: "O", Name: "oracle", RawKind: "Oracle", DSN: "oracle://x", Active: true})

	collectors := collector.NewSet(
		&fakeCollector{kind: target.Relational, fn: fixed(target.Reading{CPU: 10, Memory: 120, Storage: 120, HasStorage: true})},
		&fakeCollector{kind: target.Document, fn: failing(errors.New("auth failed"))},
		&fakeCollector{kind: target.KeyValue, fn: func(context.Context, string) (target.Reading, error) {
			panic("boom")
		}},
	)
	pm := newPollMetrics()
	cycle := registers.NewPollCycle(store, collectors, store, monitorConfig(), registers.WithMetrics(pm))

	report := cycle.RunOnce(context.Background())
	require.True(t, report.OK())
	assert.Equal(t, 4, report.Attempted)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, 1, report.Skipped)

	byName := map[string]registers.TargetResult{}
	for _, res := range report.Results {
		byName[res.Target.Name] = res
	}
	assert.Equal(t, registers.OutcomeSucceeded, byName["pg"].Outcome)
	assert.Equal(t, registers.OutcomeSkipped, byName["empty"].Outcome)
	assert.ErrorContains(t, byName["redis"].Err, "panic")
	assert.ErrorIs(t, byName["oracle"].Err, target.ErrUnknownEngine)

	var ce *collector.CollectionError
	require.ErrorAs(t, byName["mongo"].Err, &ce)
	assert.Equal(t, "mongo", ce.Target)

	points, err := store.Series(context.Background(), "O", time.Hour)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "pg", points[0].Name)
	assert.Equal(t, 10.0, points[0].CPU)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.Cycles.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.CollectErrors.WithLabelValues("MongoDB")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.CollectErrors.WithLabelValues("Redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.SinkWrites.WithLabelValues("inserted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.Targets.WithLabelValues("failed")))
}

func TestRunOnceEmptyDSNProducesNothing(t *testing.T) {
	store := storage.NewMemory()
	putTarget(store, "O", "blank", target.KeyValue, "")

	var calls int
	var mu sync.Mutex
	collectors := collector.NewSet(&fakeCollector{kind: target.KeyValue, fn: func(context.Context, string) (target.Reading, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return target.Reading{}, nil
	}})
	pm := newPollMetrics()
	cycle := registers.NewPollCycle(store, collectors, store, monitorConfig(), registers.WithMetrics(pm))

	for i := 0; i < 5; i++ {
		report := cycle.RunOnce(context.Background())
		assert.Equal(t, 0, report.Attempted)
		assert.Equal(t, 0, report.Failed)
		assert.Equal(t, 1, report.Skipped)
	}
	assert.Zero(t, calls)
	assert.Equal(t, 0, testutil.CollectAndCount(pm.CollectErrors))

	points, err := store.Series(context.Background(), "O", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestRunOnceAbortsHungCollector(t *testing.T) {
	store := storage.NewMemory()
	putTarget(store, "O", "hung", target.Document, "mongodb://hung")
	putTarget(store, "O", "ok", target.KeyValue, "redis:6379")

	collectors := collector.NewSet(
		&fakeCollector{kind: target.Document, fn: blocking(t)},
		&fakeCollector{kind: target.KeyValue, fn: fixed(target.Reading{CPU: 3, Memory: 1})},
	)
	cfg := monitorConfig()
	cfg.CollectTimeout = 50 * time.Millisecond
	cycle := registers.NewPollCycle(store, collectors, store, cfg)

	start := time.Now()
	report := cycle.RunOnce(context.Background())
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	for _, res := range report.Results {
		if res.Target.Name == "hung" {
			assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
		}
	}
}

func TestRunOnceRegistryError(t *testing.T) {
	pm := newPollMetrics()
	cycle := registers.NewPollCycle(brokenLister{err: errors.New("connection refused")}, collector.NewSet(),
		storage.NewMemory(), monitorConfig(), registers.WithMetrics(pm))

	report := cycle.RunOnce(context.Background())
	assert.False(t, report.OK())
	assert.ErrorContains(t, report.FetchErr, "connection refused")
	assert.Zero(t, report.Attempted)
	assert.Empty(t, report.Results)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.Cycles.WithLabelValues("registry_error")))
}

func TestRunOnceBoundsRegistryFetch(t *testing.T) {
	factory := metrics.NewMetricFactory(metrics.NewPromRegistry(false))
	pm := factory.NewPollMetrics()
	cfg := monitorConfig()
	cycle := registers.NewPollCycle(hangingLister{}, collector.NewSet(), storage.NewMemory(), cfg, registers.WithMetrics(pm))

	start := time.Now()
	report := cycle.RunOnce(context.Background())
	assert.Less(t, time.Since(start), cfg.CollectTimeout+time.Second)
	assert.False(t, report.OK())
	assert.ErrorIs(t, report.FetchErr, context.DeadlineExceeded)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.Cycles.WithLabelValues("registry_error")))
}

func TestRunOnceClampsCPUAndNormalizesTenant(t *testing.T) {
	store := storage.NewMemory()
	tg := store.Put(target.Target{OwnerID: "O", Name: "busy", Kind: target.Relational, RawKind: "Postgres",
		DSN: "host=busy", Active: true, TenantID: "not-a-guid"})

	collectors := collector.NewSet(&fakeCollector{kind: target.Relational,
		fn: fixed(target.Reading{CPU: 250, Memory: 900, Storage: 900, HasStorage: true})})
	cycle := registers.NewPollCycle(store, collectors, store, monitorConfig())

	report := cycle.RunOnce(context.Background())
	require.Equal(t, 1, report.Succeeded)
	s := report.Results[0].Sample
	assert.Equal(t, tg.ID, s.TargetID)
	assert.Equal(t, 100.0, s.CPU)
	assert.Equal(t, 900.0, s.Storage)
	assert.Equal(t, target.NilTenant, s.TenantID)
}

func TestRunOnceDuplicateAndPublish(t *testing.T) {
	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	store := storage.NewMemory(storage.WithClock(func() time.Time { return at }))
	putTarget(store, "O", "pg", target.Relational, "host=pg")

	pub := &recordingPublisher{}
	pm := newPollMetrics()
	collectors := collector.NewSet(&fakeCollector{kind: target.Relational, fn: fixed(target.Reading{CPU: 5, Memory: 50})})
	cycle := registers.NewPollCycle(store, collectors, store, monitorConfig(),
		registers.WithMetrics(pm), registers.WithPublisher(pub))

	first := cycle.RunOnce(context.Background())
	second := cycle.RunOnce(context.Background())

	assert.Equal(t, 1, first.Succeeded)
	assert.Zero(t, first.Duplicates)
	assert.Len(t, first.Inserted(), 1)

	// 同一时间戳：按重复跳过，不算失败
	assert.Equal(t, 1, second.Succeeded)
	assert.Equal(t, 1, second.Duplicates)
	assert.Zero(t, second.Failed)
	assert.Empty(t, second.Inserted())

	require.Len(t, pub.batches, 1)
	assert.Equal(t, at, pub.batches[0][0].Time)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.SinkWrites.WithLabelValues("duplicate")))
}

func TestRunOnceBoundedConcurrency(t *testing.T) {
	store := storage.NewMemory()
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		putTarget(store, "O", name, target.KeyValue, "redis:"+name)
	}

	var mu sync.Mutex
	var inflight, peak int
	collectors := collector.NewSet(&fakeCollector{kind: target.KeyValue, fn: func(context.Context, string) (target.Reading, error) {
		mu.Lock()
		inflight++
		peak = max(peak, inflight)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inflight--
		mu.Unlock()
		return target.Reading{CPU: 1}, nil
	}})
	cfg := monitorConfig()
	cfg.MaxConcurrency = 2
	cycle := registers.NewPollCycle(store, collectors, store, cfg)

	report := cycle.RunOnce(context.Background())
	assert.Equal(t, 6, report.Succeeded)
	assert.LessOrEqual(t, peak, 2)
}

type failingSink struct{}

func (failingSink) Append(_ context.Context, s target.Sample) (target.Sample, bool, error) {
	return s, false, errors.New("disk full")
}

func TestRunOnceSinkFailureIsPerTarget(t *testing.T) {
	store := storage.NewMemory()
	putTarget(store, "O", "pg", target.Relational, "host=pg")
	pm := newPollMetrics()
	collectors := collector.NewSet(&fakeCollector{kind: target.Relational, fn: fixed(target.Reading{CPU: 1})})
	cycle := registers.NewPollCycle(store, collectors, failingSink{}, monitorConfig(), registers.WithMetrics(pm))

	report := cycle.RunOnce(context.Background())
	require.True(t, report.OK())
	assert.Equal(t, 1, report.Failed)
	assert.ErrorIs(t, report.Results[0].Err, registers.ErrWrite)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.SinkWrites.WithLabelValues("error")))
}
