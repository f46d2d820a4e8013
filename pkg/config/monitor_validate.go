package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Validate HTTP服务配置校验
func (h *ServerConfig) Validate() error {
	if err := valid.Struct(h); err != nil {
		return err
	}
	if h.Addr == "" {
		return errors.New("server.addr cannot be empty")
	}
	// 	用net包解析地址，验证格式合法性
	if _, err := net.ResolveTCPAddr("tcp", h.Addr); err != nil {
		return fmt.Errorf("server.addr format invalid (expected: :port or ip:port), got %s: %w", h.Addr, err)
	}
	return nil
}

// Validate 轮询配置校验
// 采集超时不能超过 6 个间隔
func (m *MonitorConfig) Validate() error {
	if err := valid.Struct(m); err != nil {
		return err
	}
	if m.Interval < time.Second || m.Interval > time.Hour {
		return fmt.Errorf("monitor.interval must be between 1s and 1h, got %s", m.Interval)
	}
	if m.CollectTimeout > 6*m.Interval {
		return fmt.Errorf("monitor.collect_timeout %s exceeds 6x interval %s", m.CollectTimeout, m.Interval)
	}
	if m.Lookback < time.Minute {
		return fmt.Errorf("monitor.lookback must be at least 1m, got %s", m.Lookback)
	}
	seen := make(map[string]struct{}, len(m.Engines))
	for _, e := range m.Engines {
		if _, dup := seen[e]; dup {
			return fmt.Errorf("monitor.engines contains duplicate %q", e)
		}
		seen[e] = struct{}{}
	}
	return nil
}

// EngineEnabled 引擎是否在 monitor.engines 中
func (m *MonitorConfig) EngineEnabled(name string) bool {
	for _, e := range m.Engines {
		if e == name {
			return true
		}
	}
	return false
}
