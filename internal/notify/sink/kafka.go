package sink

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"component-deployer/internal/config"
	"component-deployer/internal/notify"
)

func init() {
	notify.RegisterSink("kafka", func(cfg config.SinkConfig) (notify.Sink, error) {
		return NewKafkaSink(cfg.Brokers)
	})
}

// KafkaSink publishes summaries to Kafka, keyed by task so one task's
// summaries stay ordered on one partition.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a synchronous Kafka writer.
func NewKafkaSink(brokers []string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: writer}, nil
}

func (k *KafkaSink) Publish(ctx context.Context, topic, key string, value []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
