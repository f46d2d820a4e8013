package metrics

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessSampler 采集 agent 自身进程的 CPU / 常驻内存
type ProcessSampler struct {
	proc     *process.Process
	cpu      prometheus.Gauge
	resident prometheus.Gauge
}

// NewProcessSampler 绑定当前进程
func (m *MetricFactory) NewProcessSampler() (*ProcessSampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open self process: %w", err)
	}
	return &ProcessSampler{
		proc: p,
		cpu: promauto.With(m.reg).NewGauge(prometheus.GaugeOpts{
			Name: "agent_process_cpu_percent",
			Help: "CPU percent of the monitor process since the previous sample",
		}),
		resident: promauto.With(m.reg).NewGauge(prometheus.GaugeOpts{
			Name: "agent_process_resident_megabytes",
			Help: "Resident memory of the monitor process in MB",
		}),
	}, nil
}

// Sample 更新一次指标
func (s *ProcessSampler) Sample() error {
	pct, err := s.proc.Percent(0)
	if err != nil {
		return fmt.Errorf("process cpu percent: %w", err)
	}
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return fmt.Errorf("process memory info: %w", err)
	}
	s.cpu.Set(pct)
	s.resident.Set(float64(mem.RSS) / (1024 * 1024))
	return nil
}
