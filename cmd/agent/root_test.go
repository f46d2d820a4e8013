package agent

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db-monitor/pkg/auth"
	"github.com/db-monitor/pkg/config"
)

const testSecret = "flag-secret-0123456789"

func TestFlagsMapOntoConfig(t *testing.T) {
	args := []string{
		"--storage.driver=memory",
		"--auth.secret=" + testSecret,
		"--log.path=" + t.TempDir(),
		"--monitor.interval=15s",
		"--monitor.collect_timeout=2s",
		"--monitor.engines=redis,postgres",
		"--kafka.brokers=k1:9092,k2:9092",
		"--server.shutdown_timeout=9s",
		"--log.max_age=3",
	}
	require.NoError(t, rootCmd.ParseFlags(args))

	cfg, err := config.LoadConfigWithCli(rootCmd)
	require.NoError(t, err)
	assert.Equal(t, config.DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 15*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 2*time.Second, cfg.Monitor.CollectTimeout)
	assert.Equal(t, []string{"redis", "postgres"}, cfg.Monitor.Engines)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 9*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 3, cfg.Log.MaxAge)
	// 未指定的保持默认
	assert.Equal(t, 3*time.Hour, cfg.Monitor.Lookback)
	assert.Equal(t, "SaaS_Auth", cfg.Auth.CookieName)
}

func TestLogFlagsOnlyExposeRotationKnobs(t *testing.T) {
	flags := rootCmd.PersistentFlags()
	for _, name := range []string{"log.level", "log.format", "log.path", "log.max_size", "log.max_age"} {
		assert.NotNil(t, flags.Lookup(name), name)
	}
	// rotatelogs 不支持压缩，也不能与 max_age 同时限制份数
	assert.Nil(t, flags.Lookup("log.compress"))
	assert.Nil(t, flags.Lookup("log.max_backup"))
}

func TestTokenCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"token", "--user", "G1",
		"--storage.driver=memory",
		"--auth.secret=" + testSecret,
		"--log.path=" + t.TempDir(),
	})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())

	cfg := config.NewDefaultConfig()
	cfg.Auth.Secret = testSecret
	claims, err := auth.NewJWTAuth(cfg.Auth).ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "G1", claims.UserID)
}
