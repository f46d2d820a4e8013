package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate 存储配置校验
func (s *StorageConfig) Validate() error {
	if err := valid.Struct(s); err != nil {
		return err
	}
	if s.Driver == DriverPostgres && strings.TrimSpace(s.DSN) == "" {
		return errors.New("storage.dsn is required for the postgres driver (or set DATABASE_CONNECTION_STRING)")
	}
	if s.MaxIdleConns > s.MaxOpenConns && s.MaxOpenConns > 0 {
		return fmt.Errorf("storage.max_idle_conns %d exceeds max_open_conns %d", s.MaxIdleConns, s.MaxOpenConns)
	}
	return nil
}

// Validate 缓存未启用时不参与校验
func (c *CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := valid.Struct(c); err != nil {
		return err
	}
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("cache.addr is required when cache is enabled")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive when cache is enabled, got %s", c.TTL)
	}
	return nil
}

// Validate 转发未启用时不参与校验
func (k *KafkaConfig) Validate() error {
	if !k.Enabled {
		return nil
	}
	if err := valid.Struct(k); err != nil {
		return err
	}
	if len(k.Brokers) == 0 {
		return errors.New("kafka.brokers must contain at least one broker when kafka is enabled")
	}
	seen := map[string]bool{}
	for _, b := range k.Brokers {
		if strings.TrimSpace(b) == "" {
			return errors.New("kafka.brokers cannot contain empty string")
		}
		if seen[b] {
			return fmt.Errorf("kafka.brokers duplicated entry: %q", b)
		}
		seen[b] = true
	}
	if strings.TrimSpace(k.Topic) == "" {
		return errors.New("kafka.topic is required when kafka is enabled")
	}
	return nil
}
