package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registers 接口隔离 Prometheus 的默认实现，单测可以换成独立的 Registry
type Registers interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// promRegistry Prometheus 实现，内部包裹了官方的 *prometheus.Registry
type promRegistry struct {
	*prometheus.Registry
}

// NewPromRegistry 创建 Prometheus 指标注册器，enableProcess 时注册进程/Go 运行时指标
func NewPromRegistry(enableProcess bool) Registers {
	reg := prometheus.NewRegistry()
	if enableProcess {
		reg.MustRegister(
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			prometheus.NewGoCollector(),
		)
	}
	return &promRegistry{Registry: reg}
}
