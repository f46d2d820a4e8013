package collector

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/db-monitor/pkg/connstr"
	"github.com/db-monitor/pkg/target"
)

const (
	redisCPUPerClient = 3.0
	bytesPerMB        = 1024.0 * 1024.0
)

// InfoReader 读取 INFO memory + INFO clients 的原始文本
type InfoReader func(ctx context.Context, dsn string) (string, error)

// KeyValue Redis 采集器：memory = used_memory / 1MiB，cpu = min(connected_clients*3, 100)
type KeyValue struct {
	info InfoReader
}

func NewKeyValue() *KeyValue {
	return &KeyValue{info: redisInfo}
}

// NewKeyValueWithReader 使用自定义 InfoReader
func NewKeyValueWithReader(r InfoReader) *KeyValue {
	return &KeyValue{info: r}
}

func (c *KeyValue) Kind() target.EngineKind { return target.KeyValue }

func (c *KeyValue) Collect(ctx context.Context, dsn string) (target.Reading, error) {
	raw, err := c.info(ctx, dsn)
	if err != nil {
		return target.Reading{}, err
	}
	return KeyValueReading(ParseInfo(raw)), nil
}

// KeyValueReading 由 INFO 字段计算读数，缺失或非法字段按 0 处理
func KeyValueReading(info map[string]string) target.Reading {
	usedMemory, _ := strconv.ParseFloat(info["used_memory"], 64)
	clients, _ := strconv.ParseFloat(info["connected_clients"], 64)
	return target.Reading{
		CPU:    linearCPU(clients, redisCPUPerClient),
		Memory: usedMemory / bytesPerMB,
	}
}

// ParseInfo 解析 INFO 输出（"# Section" 标题与 key:value 行）
func ParseInfo(raw string) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

func redisInfo(ctx context.Context, dsn string) (string, error) {
	opts, err := connstr.Redis(dsn)
	if err != nil {
		return "", err
	}
	opts.PoolSize = 1
	client := redis.NewClient(opts)
	defer client.Close()

	mem, err := client.Info(ctx, "memory").Result()
	if err != nil {
		return "", fmt.Errorf("info memory: %w", err)
	}
	clients, err := client.Info(ctx, "clients").Result()
	if err != nil {
		return "", fmt.Errorf("info clients: %w", err)
	}
	return mem + "\r\n" + clients, nil
}
