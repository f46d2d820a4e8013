package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/db-monitor/pkg/target"
)

type sampleKey struct {
	targetID int
	time     time.Time
}

type bucketKey struct {
	targetID int
	minute   time.Time
}

// Memory 进程内存储，语义与 Postgres 一致：(db_id, time) 唯一、删除目标级联删除样本。
// 用于本地运行与测试
type Memory struct {
	mu      sync.RWMutex
	now     func() time.Time
	nextID  int
	targets map[int]target.Target
	samples map[sampleKey]target.Sample
}

func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		now:     o.now,
		nextID:  1,
		targets: make(map[int]target.Target),
		samples: make(map[sampleKey]target.Sample),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) EnsureSchema(context.Context) error { return nil }

// Put 直接写入一个目标（保留给测试构造不可通过 AddTarget 得到的状态，例如空连接串）
func (m *Memory) Put(t target.Target) target.Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		t.ID = m.nextID
	}
	if t.ID >= m.nextID {
		m.nextID = t.ID + 1
	}
	m.targets[t.ID] = t
	return t
}

func (m *Memory) sortedTargets(keep func(target.Target) bool) []target.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []target.Target
	for _, t := range m.targets {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) ListActiveTargets(ctx context.Context) ([]target.Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.sortedTargets(func(t target.Target) bool { return t.Active }), nil
}

func (m *Memory) ListTargetsByOwner(ctx context.Context, owner string) ([]target.Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.sortedTargets(func(t target.Target) bool { return t.Active && t.OwnerID == owner }), nil
}

func (m *Memory) AddTarget(ctx context.Context, nt target.NewTarget) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.targets {
		if t.OwnerID == nt.OwnerID && t.Name == nt.Name {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateTarget, nt.Name)
		}
	}
	id := m.nextID
	m.nextID++
	m.targets[id] = target.Target{
		ID:       id,
		OwnerID:  nt.OwnerID,
		Name:     nt.Name,
		Kind:     nt.Kind,
		RawKind:  nt.Kind.String(),
		DSN:      nt.DSN,
		Active:   true,
		TenantID: nt.TenantID,
	}
	return id, nil
}

func (m *Memory) DeleteTarget(ctx context.Context, id int, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok || t.OwnerID != owner {
		return ErrNotFound
	}
	delete(m.targets, id)
	for k := range m.samples {
		if k.targetID == id {
			delete(m.samples, k)
		}
	}
	return nil
}

func (m *Memory) Append(ctx context.Context, s target.Sample) (target.Sample, bool, error) {
	if err := ctx.Err(); err != nil {
		return s, false, err
	}
	return m.insert(s, sampleTime(m.now))
}

func (m *Memory) insert(s target.Sample, at time.Time) (target.Sample, bool, error) {
	s.Time = at
	s.TenantID = target.NormalizeTenant(s.TenantID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[s.TargetID]; !ok {
		return s, false, fmt.Errorf("insert sample for db %d: %w", s.TargetID, ErrNotFound)
	}
	key := sampleKey{targetID: s.TargetID, time: s.Time}
	if _, dup := m.samples[key]; dup {
		return s, false, nil
	}
	m.samples[key] = s
	return s, true, nil
}

type bucketAcc struct {
	name   string
	cpu    float64
	memory float64
	n      int
}

func (m *Memory) Series(ctx context.Context, owner string, lookback time.Duration) ([]target.AggregatedPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	until := m.now().UTC()
	since := until.Add(-lookback)

	m.mu.RLock()
	acc := make(map[bucketKey]*bucketAcc)
	for k, s := range m.samples {
		t, ok := m.targets[k.targetID]
		if !ok || t.OwnerID != owner {
			continue
		}
		if s.Time.Before(since) || s.Time.After(until) {
			continue
		}
		bk := bucketKey{targetID: k.targetID, minute: s.Time.Truncate(time.Minute)}
		a, ok := acc[bk]
		if !ok {
			a = &bucketAcc{name: t.Name}
			acc[bk] = a
		}
		a.cpu += s.CPU
		a.memory += s.Memory
		a.n++
	}
	m.mu.RUnlock()

	out := make([]target.AggregatedPoint, 0, len(acc))
	for k, a := range acc {
		out = append(out, target.AggregatedPoint{
			TargetID: k.targetID,
			Name:     a.name,
			Time:     k.minute,
			CPU:      a.cpu / float64(a.n),
			Memory:   a.memory / float64(a.n),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out, nil
}
