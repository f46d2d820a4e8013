package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/db-monitor/pkg/config"
	"github.com/db-monitor/pkg/connstr"
	"github.com/db-monitor/pkg/target"
)

const (
	listActiveQuery = `SELECT id, user_id, name, connection_string, db_type, is_active, COALESCE(tenant_id, '')
FROM monitored_databases WHERE is_active = true AND connection_string IS NOT NULL ORDER BY id`

	listByOwnerQuery = `SELECT id, user_id, name, connection_string, db_type, is_active, COALESCE(tenant_id, '')
FROM monitored_databases WHERE user_id = $1 AND is_active = true ORDER BY id`

	insertTargetQuery = `INSERT INTO monitored_databases (name, db_type, connection_string, user_id, is_active, tenant_id)
VALUES ($1, $2, $3, $4, true, $5) RETURNING id`

	deleteTargetQuery = `DELETE FROM monitored_databases WHERE id = $1 AND user_id = $2`

	insertSampleQuery = `INSERT INTO database_metrics (db_id, time, cpu, memory, storage_usage, tenant_id)
VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (db_id, time) DO NOTHING`

	seriesQuery = `SELECT m.db_id, d.name, date_trunc('minute', m.time) AS bucket, avg(m.cpu), avg(m.memory)
FROM database_metrics m
JOIN monitored_databases d ON m.db_id = d.id
WHERE d.user_id = $1 AND m.time >= $2 AND m.time <= $3
GROUP BY m.db_id, d.name, bucket
ORDER BY bucket ASC, m.db_id ASC`

	pqUniqueViolation = "23505"
)

// Postgres 系统库实现（lib/pq）
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres 打开连接池，不在此处 Ping，连通性由 Bootstrap 重试保证
// DSN 兼容旧部署的 "Host=..;Port=..;Database=.." 形式
func OpenPostgres(cfg config.StorageConfig, opts ...Option) (*Postgres, error) {
	db, err := sql.Open("postgres", connstr.Postgres(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return NewPostgres(db, opts...), nil
}

// NewPostgres 包装已有 *sql.DB
func NewPostgres(db *sql.DB, opts ...Option) *Postgres {
	o := buildOptions(opts)
	return &Postgres{db: db, now: o.now}
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// targetRow monitored_databases 行
type targetRow struct {
	ID       int
	UserID   string
	Name     string
	DSN      sql.NullString
	DBType   string
	IsActive bool
	TenantID string
}

func (r targetRow) toTarget() target.Target {
	// 无法识别的 db_type 保留 Kind=0，由轮询按单目标失败处理
	kind, _ := target.ParseEngineKind(r.DBType)
	return target.Target{
		ID:       r.ID,
		OwnerID:  r.UserID,
		Name:     r.Name,
		Kind:     kind,
		RawKind:  r.DBType,
		DSN:      r.DSN.String,
		Active:   r.IsActive,
		TenantID: r.TenantID,
	}
}

func (p *Postgres) queryTargets(ctx context.Context, query string, args ...any) ([]target.Target, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var out []target.Target
	for rows.Next() {
		var r targetRow
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.DSN, &r.DBType, &r.IsActive, &r.TenantID); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, r.toTarget())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return out, nil
}

func (p *Postgres) ListActiveTargets(ctx context.Context) ([]target.Target, error) {
	return p.queryTargets(ctx, listActiveQuery)
}

func (p *Postgres) ListTargetsByOwner(ctx context.Context, owner string) ([]target.Target, error) {
	return p.queryTargets(ctx, listByOwnerQuery, owner)
}

func (p *Postgres) AddTarget(ctx context.Context, t target.NewTarget) (int, error) {
	var tenant sql.NullString
	if t.TenantID != "" {
		tenant = sql.NullString{String: t.TenantID, Valid: true}
	}
	var id int
	err := p.db.QueryRowContext(ctx, insertTargetQuery, t.Name, t.Kind.String(), t.DSN, t.OwnerID, tenant).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateTarget, t.Name)
		}
		return 0, fmt.Errorf("insert target: %w", err)
	}
	return id, nil
}

func (p *Postgres) DeleteTarget(ctx context.Context, id int, owner string) error {
	res, err := p.db.ExecContext(ctx, deleteTargetQuery, id, owner)
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete target rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Append(ctx context.Context, s target.Sample) (target.Sample, bool, error) {
	s.Time = sampleTime(p.now)

	var storage sql.NullFloat64
	if s.HasStorage {
		storage = sql.NullFloat64{Float64: s.Storage, Valid: true}
	}
	res, err := p.db.ExecContext(ctx, insertSampleQuery,
		s.TargetID, s.Time, s.CPU, s.Memory, storage, target.NormalizeTenant(s.TenantID))
	if err != nil {
		return s, false, fmt.Errorf("insert sample for db %d: %w", s.TargetID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s, false, fmt.Errorf("insert sample rows affected: %w", err)
	}
	return s, n > 0, nil
}

// seriesRow 聚合查询的一行
type seriesRow struct {
	DBID   int
	Name   string
	Bucket time.Time
	CPU    sql.NullFloat64
	Memory sql.NullFloat64
}

func (p *Postgres) Series(ctx context.Context, owner string, lookback time.Duration) ([]target.AggregatedPoint, error) {
	until := p.now().UTC()
	since := until.Add(-lookback)

	rows, err := p.db.QueryContext(ctx, seriesQuery, owner, since, until)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	out := make([]target.AggregatedPoint, 0)
	for rows.Next() {
		var r seriesRow
		if err := rows.Scan(&r.DBID, &r.Name, &r.Bucket, &r.CPU, &r.Memory); err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		out = append(out, target.AggregatedPoint{
			TargetID: r.DBID,
			Name:     r.Name,
			Time:     r.Bucket.UTC(),
			CPU:      r.CPU.Float64,
			Memory:   r.Memory.Float64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate series: %w", err)
	}
	return out, nil
}
