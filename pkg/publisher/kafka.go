package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/db-monitor/pkg/config"
	"github.com/db-monitor/pkg/logger"
	"github.com/db-monitor/pkg/target"
)

// MessageWriter kafka.Writer 的最小接口
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// samplePayload 转发的消息体
type samplePayload struct {
	DBID         int       `json:"db_id"`
	TenantID     string    `json:"tenant_id"`
	OwnerID      string    `json:"owner_id"`
	Time         time.Time `json:"time"`
	CPU          float64   `json:"cpu"`
	Memory       float64   `json:"memory"`
	StorageUsage *float64  `json:"storage_usage"`
}

// Kafka 样本转发生产者；未启用或无 broker 时所有操作都是空操作
type Kafka struct {
	writer   MessageWriter
	enabled  bool
	maxRetry int
	backoff  time.Duration
	log      *zap.Logger
}

func NewKafka(cfg config.KafkaConfig) *Kafka {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return &Kafka{enabled: false, log: logger.With("publisher")}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return NewKafkaWithWriter(w, cfg.MaxRetry)
}

// NewKafkaWithWriter 使用外部 writer（测试注入）
func NewKafkaWithWriter(w MessageWriter, maxRetry int) *Kafka {
	return &Kafka{
		writer:   w,
		enabled:  true,
		maxRetry: max(maxRetry, 1),
		backoff:  100 * time.Millisecond,
		log:      logger.With("publisher"),
	}
}

func (k *Kafka) IsEnabled() bool { return k.enabled }

// Publish 发送一批样本，失败时指数退避重试 maxRetry 次
func (k *Kafka) Publish(ctx context.Context, samples []target.Sample) error {
	if !k.enabled || len(samples) == 0 {
		return nil
	}
	msgs, err := encode(samples)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err = k.writer.WriteMessages(ctx, msgs...)
		if err == nil {
			return nil
		}
		k.log.Warn("kafka publish failed",
			zap.Int("attempt", attempt+1), zap.Int("max_retry", k.maxRetry), zap.Error(err))
		if attempt+1 >= k.maxRetry {
			return fmt.Errorf("publish %d samples: %w", len(samples), err)
		}

		t := time.NewTimer(k.backoff << attempt)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("publish %d samples: %w", len(samples), ctx.Err())
		case <-t.C:
		}
	}
}

func encode(samples []target.Sample) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(samples))
	for _, s := range samples {
		p := samplePayload{
			DBID:     s.TargetID,
			TenantID: target.NormalizeTenant(s.TenantID),
			OwnerID:  s.OwnerID,
			Time:     s.Time,
			CPU:      s.CPU,
			Memory:   s.Memory,
		}
		if s.HasStorage {
			v := s.Storage
			p.StorageUsage = &v
		}
		value, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal sample for db %d: %w", s.TargetID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.Itoa(s.TargetID)),
			Value: value,
			Time:  s.Time,
		})
	}
	return msgs, nil
}

func (k *Kafka) Close() error {
	if !k.enabled || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
