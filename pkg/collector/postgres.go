package collector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/db-monitor/pkg/connstr"
	"github.com/db-monitor/pkg/target"
)

const (
	pgSizeQuery  = "SELECT pg_database_size(current_database()) / 1024.0 / 1024.0"
	pgConnsQuery = "SELECT count(*) FROM pg_stat_activity WHERE datname = current_database()"

	pgCPUPerConn = 5.0
)

// Opener 打开一个 *sql.DB，测试时替换为 sqlmock
type Opener func(driverName, dsn string) (*sql.DB, error)

// Relational Postgres 采集器：memory = 库大小(MB)，cpu = min(连接数*5, 100)
type Relational struct {
	open Opener
}

func NewRelational() *Relational {
	return &Relational{open: sql.Open}
}

// NewRelationalWithOpener 使用自定义 Opener
func NewRelationalWithOpener(open Opener) *Relational {
	return &Relational{open: open}
}

func (c *Relational) Kind() target.EngineKind { return target.Relational }

func (c *Relational) Collect(ctx context.Context, dsn string) (target.Reading, error) {
	db, err := c.open("postgres", connstr.Postgres(dsn))
	if err != nil {
		return target.Reading{}, fmt.Errorf("open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	var sizeMB sql.NullFloat64
	if err := db.QueryRowContext(ctx, pgSizeQuery).Scan(&sizeMB); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return target.Reading{}, fmt.Errorf("query database size: %w", err)
	}

	var conns sql.NullInt64
	if err := db.QueryRowContext(ctx, pgConnsQuery).Scan(&conns); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return target.Reading{}, fmt.Errorf("query active connections: %w", err)
	}

	return RelationalReading(sizeMB.Float64, conns.Int64), nil
}

// RelationalReading 由库大小与活跃连接数计算读数
func RelationalReading(sizeMB float64, activeConns int64) target.Reading {
	return target.Reading{
		CPU:        linearCPU(float64(activeConns), pgCPUPerConn),
		Memory:     sizeMB,
		Storage:    sizeMB,
		HasStorage: true,
	}
}
