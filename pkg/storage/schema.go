package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/db-monitor/pkg/logger"
)

// schemaDDL 可重复执行
const schemaDDL = `
CREATE TABLE IF NOT EXISTS users (
    google_id TEXT PRIMARY KEY,
    email TEXT UNIQUE NOT NULL,
    name TEXT,
    picture TEXT,
    tenant_id TEXT
);
ALTER TABLE users ADD COLUMN IF NOT EXISTS tenant_id TEXT;
ALTER TABLE users ADD COLUMN IF NOT EXISTS name TEXT;
ALTER TABLE users ADD COLUMN IF NOT EXISTS picture TEXT;

CREATE TABLE IF NOT EXISTS monitored_databases (
    id SERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    connection_string TEXT NOT NULL,
    db_type TEXT NOT NULL,
    host TEXT DEFAULT '',
    is_active BOOLEAN DEFAULT TRUE,
    tenant_id TEXT,
    UNIQUE(name, user_id)
);
ALTER TABLE monitored_databases ADD COLUMN IF NOT EXISTS tenant_id TEXT;
ALTER TABLE monitored_databases ADD COLUMN IF NOT EXISTS host TEXT DEFAULT '';

CREATE TABLE IF NOT EXISTS database_metrics (
    db_id INTEGER REFERENCES monitored_databases(id) ON DELETE CASCADE,
    time TIMESTAMPTZ NOT NULL,
    cpu DOUBLE PRECISION,
    memory DOUBLE PRECISION,
    storage_usage DOUBLE PRECISION,
    tenant_id TEXT,
    UNIQUE(db_id, time)
);
ALTER TABLE database_metrics ADD COLUMN IF NOT EXISTS tenant_id TEXT;
ALTER TABLE database_metrics ADD COLUMN IF NOT EXISTS storage_usage DOUBLE PRECISION;
CREATE INDEX IF NOT EXISTS idx_database_metrics_time ON database_metrics (time);
`

// Bootstrap 启动时建表：固定间隔重试 attempts 次，全部失败只告警并返回 false，进程继续提供服务
func Bootstrap(ctx context.Context, m Migrator, attempts int, delay time.Duration) bool {
	log := logger.With("schema")
	if attempts < 1 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		log.Info("database migration attempt", zap.Int("attempt", i), zap.Int("max_attempts", attempts))
		err := m.EnsureSchema(ctx)
		if err == nil {
			log.Info("database schema verified")
			return true
		}
		log.Warn("database migration attempt failed", zap.Int("attempt", i), zap.Error(err))
		if i == attempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warn("database migration cancelled", zap.Error(ctx.Err()))
			return false
		case <-timer.C:
		}
	}
	log.Warn("final migration attempt failed, data requests may fail until the schema exists")
	return false
}
