package cache_test

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db-monitor/pkg/cache"
	"github.com/db-monitor/pkg/config"
)

func TestClientOptions(t *testing.T) {
	cfg := config.NewDefaultConfig().Cache

	cfg.Addr = "cache:6380,password=s3cret,defaultDatabase=2"
	opts, err := cache.ClientOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "s3cret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	// 显式配置覆盖连接串里的值
	cfg.Password, cfg.DB = "override", 4
	opts, err = cache.ClientOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, "override", opts.Password)
	assert.Equal(t, 4, opts.DB)

	cfg = config.NewDefaultConfig().Cache
	opts, err = cache.ClientOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 5*time.Second, opts.ReadTimeout)

	cfg.Addr = ",password=x"
	_, err = cache.ClientOptions(cfg)
	assert.Error(t, err)
}

func TestNewRedisKVDialsLegacyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var hits atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			hits.Add(1)
			_ = conn.Close()
		}
	}()

	cfg := config.NewDefaultConfig().Cache
	cfg.Addr = "127.0.0.1:" + strconv.Itoa(ln.Addr().(*net.TCPAddr).Port) + ",password=x"
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err = cache.NewRedisKV(ctx, cfg)
	assert.Error(t, err)
	assert.Positive(t, hits.Load())
}
