package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"sensor-agent/internal/config"
	"sensor-agent/internal/infra/mq"
)

type KafkaProducer struct {
	writer       *kafka.Writer
	logger       *zap.Logger
	defaultTopic string
}

var _ mq.Producer = (*KafkaProducer)(nil)

// NewKafkaProducer 异步写入; 主题由每条消息指定, writer 本身不设 Topic
func NewKafkaProducer(cfg config.KafkaConfig, logger *zap.Logger) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Kafka async write failed", zap.Error(err), zap.Int("messages", len(messages)))
			}
		},
	}

	logger.Info("Initialized Kafka producer", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))

	return &KafkaProducer{
		writer:       w,
		logger:       logger,
		defaultTopic: cfg.Topic,
	}, nil
}

// message 配置了默认主题时优先使用, 否则使用调用方主题
func (p *KafkaProducer) message(topic, key string, data interface{}) (kafka.Message, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal data: %w", err)
	}
	target := topic
	if p.defaultTopic != "" {
		target = p.defaultTopic
	}
	if target == "" {
		return kafka.Message{}, fmt.Errorf("kafka: no topic")
	}
	return kafka.Message{
		Topic: target,
		Key:   []byte(key),
		Value: body,
	}, nil
}

func (p *KafkaProducer) Produce(ctx context.Context, topic string, key string, data interface{}) error {
	msg, err := p.message(topic, key, data)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to produce message to Kafka", zap.Error(err), zap.String("topic", msg.Topic))
		return err
	}

	p.logger.Debug("Produced message to Kafka", zap.String("topic", msg.Topic), zap.String("key", key))
	return nil
}

func (p *KafkaProducer) Close() {
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Failed to close Kafka writer", zap.Error(err))
	}
}
