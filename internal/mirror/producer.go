package mirror

import (
	"fmt"

	"go.uber.org/zap"

	"sensor-agent/internal/config"
	"sensor-agent/internal/infra/kafka"
	"sensor-agent/internal/infra/mq"
	"sensor-agent/internal/infra/rabbitmq"
)

// NewProducer 按配置选择镜像后端; 未启用时返回 NoOp
func NewProducer(cfg config.MessageQueueConfig, logger *zap.Logger) (mq.Producer, error) {
	if !cfg.Enabled {
		logger.Info("Message queue mirror disabled")
		return mq.NewNoOpProducer(), nil
	}

	switch cfg.Type {
	case "kafka":
		return kafka.NewKafkaProducer(cfg.Kafka, logger)
	case "rabbitmq", "":
		return rabbitmq.NewRabbitMQProducer(cfg.RabbitMQ, logger)
	default:
		return nil, fmt.Errorf("unknown message queue type %q", cfg.Type)
	}
}
