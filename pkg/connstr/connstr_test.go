package connstr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db-monitor/pkg/connstr"
)

func TestPostgres(t *testing.T) {
	assert.Equal(t,
		"host=localhost port=5433 dbname=postgres user=saas_admin password=SaaS_Password_99",
		connstr.Postgres("Host=localhost;Port=5433;Database=postgres;Username=saas_admin;Password=SaaS_Password_99"))
	assert.Equal(t, "postgres://u@h/db", connstr.Postgres("postgres://u@h/db"))
	assert.Equal(t, "host=h dbname=x", connstr.Postgres("host=h dbname=x"))
	assert.Equal(t, "host=h password='a b'", connstr.Postgres("Host=h;Password=a b;"))
	assert.Equal(t, "host=h sslmode=disable", connstr.Postgres("Server=h;SSL Mode=Disable;Pooling=true"))
}

func TestRedis(t *testing.T) {
	opts, err := connstr.Redis("cache:6380,password=s3cret,defaultDatabase=2")
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "s3cret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	opts, err = connstr.Redis("redis://:pw@cache:6379/1")
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 1, opts.DB)

	opts, err = connstr.Redis("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Empty(t, opts.Password)

	_, err = connstr.Redis(",password=x")
	assert.Error(t, err)
	_, err = connstr.Redis("cache:1,defaultDatabase=x")
	assert.Error(t, err)
}
