package connstr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// npgsqlKeys 旧版 "Host=..;Port=..;Username=.." 形式连接串的键名映射
var npgsqlKeys = map[string]string{
	"host":     "host",
	"server":   "host",
	"port":     "port",
	"database": "dbname",
	"username": "user",
	"user id":  "user",
	"userid":   "user",
	"user":     "user",
	"password": "password",
	"sslmode":  "sslmode",
	"ssl mode": "sslmode",
	"timeout":  "connect_timeout",
}

// Postgres rewrites semicolon separated Host=...;Database=... strings into
// the key=value form lib/pq understands. URLs and native key=value strings pass through.
func Postgres(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || !strings.Contains(dsn, ";") {
		return dsn
	}
	var parts []string
	for _, kv := range strings.Split(dsn, ";") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		key, known := npgsqlKeys[strings.ToLower(strings.TrimSpace(k))]
		if !known {
			continue
		}
		v = strings.TrimSpace(v)
		if key == "sslmode" {
			v = strings.ToLower(v)
		}
		parts = append(parts, key+"="+quotePQ(v))
	}
	return strings.Join(parts, " ")
}

func quotePQ(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Redis accepts redis:// and rediss:// URLs as well as the
// "host:port,password=...,defaultDatabase=N" form stored by older deployments.
// Pool settings are left to the caller.
func Redis(dsn string) (*redis.Options, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "redis://") || strings.HasPrefix(dsn, "rediss://") {
		opts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}

	parts := strings.Split(dsn, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" {
		return nil, fmt.Errorf("parse redis dsn: missing address")
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = strings.TrimSpace(v)
		case "user", "username":
			opts.Username = strings.TrimSpace(v)
		case "defaultdatabase":
			db, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("parse redis dsn defaultDatabase %q: %w", v, err)
			}
			opts.DB = db
		}
	}
	return opts, nil
}
