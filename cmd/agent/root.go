package agent

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/db-monitor/cmd/server"
	"github.com/db-monitor/pkg/auth"
	"github.com/db-monitor/pkg/cache"
	"github.com/db-monitor/pkg/config"
	"github.com/db-monitor/pkg/logger"
	"github.com/db-monitor/pkg/metrics"
	"github.com/db-monitor/pkg/publisher"
	"github.com/db-monitor/pkg/registers"
	"github.com/db-monitor/pkg/storage"
	"github.com/db-monitor/pkg/util"
)

var (
	cfgFile   string
	GlobalCfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "db-monitor",
	Short: "Polls registered Postgres/MongoDB/Redis targets and serves owner-scoped metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		var err error
		GlobalCfg, err = config.LoadConfigWithCli(cmd)
		if err != nil {
			// 统一输出错误到 stderr
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "请检查配置文件路径或使用 -c 参数指定\n")
			os.Exit(1)
		}
		if err := runServer(cmd.Context(), GlobalCfg); err != nil {
			fmt.Fprintf(os.Stderr, "服务启动失败: %v\n", err)
			os.Exit(1)
		}
		return nil
	},
}

func Execute() {
	cobra.CheckErr(rootCmd.ExecuteContext(context.Background()))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径（如 configs/config.yaml）")
	// 注册分组 flag
	initServerFlags(rootCmd)
	initMonitorFlags(rootCmd)
	initStorageFlags(rootCmd)
	initLogFlags(rootCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runServer(ctx context.Context, cfg *config.Config) error {
	util.PrintBanner("db-monitor", "ColorBlue")

	//初始化日志
	initLogger, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("log initialization successful",
		zap.String("path", cfg.Log.Path), zap.String("level", cfg.Log.Level), zap.String("format", cfg.Log.Format))

	// 系统库
	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	// 建表失败不阻止启动，后续周期按单次失败处理
	storage.Bootstrap(ctx, store, cfg.Storage.BootstrapAttempts, cfg.Storage.BootstrapDelay)

	// init Registry
	factory := metrics.NewMetricFactory(metrics.NewPromRegistry(true))

	kafka := publisher.NewKafka(cfg.Kafka)
	defer kafka.Close()
	var pub registers.SamplePublisher
	if kafka.IsEnabled() {
		pub = kafka
		logger.Info("kafka fan-out enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	var (
		series      storage.SeriesReader = store
		invalidator server.Invalidator
	)
	if cfg.Cache.Enabled {
		kv, err := cache.NewRedisKV(ctx, cfg.Cache)
		if err != nil {
			logger.Warn("series cache disabled, redis unreachable", zap.Error(err))
		} else {
			sc := cache.NewSeries(store, kv, cfg.Cache)
			defer sc.Close()
			series, invalidator = sc, sc
		}
	}

	var agentOpts []registers.AgentOption
	if invalidator != nil {
		// 新样本落库后刷新对应 owner 的缓存
		agentOpts = append(agentOpts, registers.WithCycleHook(registers.InvalidateOwners(ctx, invalidator)))
	}
	agent := registers.InitPollAgent(cfg, store, store, factory, pub, agentOpts...)
	agent.Start(ctx)

	api := server.NewAPI(store, series, invalidator, cfg.Monitor.Lookback, logger.With("api"))
	httpServer := server.NewHTTPServer(cfg, initLogger, factory.Registry(), api, auth.NewJWTAuth(cfg.Auth))
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("start HTTP server failed: %w", err)
	}

	server.WaitForShutdown(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// 关闭顺序：HTTP服务 -> 调度器
		errHTTP := httpServer.Shutdown(shutdownCtx)
		errAgent := agent.Shutdown(shutdownCtx)
		if err := errors.Join(errHTTP, errAgent); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("all services shutdown successfully")
		return nil
	})
	return nil
}
