package agent

import (
	"github.com/spf13/cobra"
)

func initMonitorFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.Duration("monitor.interval", defaultCfg.Monitor.Interval, "两次轮询之间的空闲间隔")
	f.Duration("monitor.collect_timeout", defaultCfg.Monitor.CollectTimeout, "单个目标采集超时")
	f.Int("monitor.max_concurrency", defaultCfg.Monitor.MaxConcurrency, "周期内并发上限，0 表示按目标数")
	f.Duration("monitor.lookback", defaultCfg.Monitor.Lookback, "/api/metrics 回看窗口")
	f.Float64("monitor.disk_alert_mb", defaultCfg.Monitor.DiskAlertMB, "库大小告警阈值(MB)，0 关闭")
	f.Bool("monitor.process_stats", defaultCfg.Monitor.ProcessStats, "采集 agent 自身进程指标")
	f.StringSlice("monitor.engines", defaultCfg.Monitor.Engines, "启用的引擎 [postgres,mongodb,redis]")
}
