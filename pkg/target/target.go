package target

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EngineKind 目标数据库的协议族
type EngineKind int

const (
	Relational EngineKind = iota + 1
	Document
	KeyValue
)

// ErrUnknownEngine db_type 无法识别
var ErrUnknownEngine = errors.New("unknown engine kind")

// NilTenant 非法 tenant id 的兜底值
var NilTenant = uuid.Nil.String()

// String 返回存储层使用的 db_type 字面值
func (k EngineKind) String() string {
	switch k {
	case Relational:
		return "Postgres"
	case Document:
		return "MongoDB"
	case KeyValue:
		return "Redis"
	default:
		return fmt.Sprintf("EngineKind(%d)", int(k))
	}
}

// ParseEngineKind maps a stored db_type onto an EngineKind.
// An empty value means Postgres, matching rows written before db_type existed.
func ParseEngineKind(s string) (EngineKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "postgres", "postgresql", "pg":
		return Relational, nil
	case "mongodb", "mongo":
		return Document, nil
	case "redis":
		return KeyValue, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownEngine, s)
	}
}

// Target 一个被监控的数据库实例（单个周期内只读）
// Kind is zero when the stored db_type could not be parsed; RawKind keeps the stored value.
type Target struct {
	ID       int
	OwnerID  string
	Name     string
	Kind     EngineKind
	RawKind  string
	DSN      string
	Active   bool
	TenantID string
}

// Pollable reports whether the target carries a connection descriptor.
func (t Target) Pollable() bool {
	return strings.TrimSpace(t.DSN) != ""
}

// NewTarget 注册请求
type NewTarget struct {
	OwnerID  string
	Name     string
	Kind     EngineKind
	DSN      string
	TenantID string
}

// Reading is what one engine collector produces.
// Storage is the on-disk size in MB and is only reported by engines that expose it.
type Reading struct {
	CPU        float64
	Memory     float64
	Storage    float64
	HasStorage bool
}

// Sample 一条持久化的观测值，Time 由 Sink 写入时赋值
type Sample struct {
	TargetID int
	OwnerID  string
	TenantID string
	Time     time.Time
	Reading
}

// AggregatedPoint 按分钟聚合后的点
type AggregatedPoint struct {
	TargetID int       `json:"db_id"`
	Name     string    `json:"name"`
	Time     time.Time `json:"time"`
	CPU      float64   `json:"cpu"`
	Memory   float64   `json:"memory"`
}

// NormalizeTenant returns tenant when it parses as a GUID, NilTenant otherwise.
func NormalizeTenant(tenant string) string {
	id, err := uuid.Parse(strings.TrimSpace(tenant))
	if err != nil {
		return NilTenant
	}
	return id.String()
}

// ClampCPU bounds an estimate to [0, 100].
func ClampCPU(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
