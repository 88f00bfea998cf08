package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"sensor-agent/internal/config"
	"sensor-agent/internal/infra/mq"
)

var (
	ErrClosed       = errors.New("rabbitmq: producer closed")
	ErrNotConnected = errors.New("rabbitmq: not connected")
)

const reconnectDelay = 5 * time.Second

type RabbitMQProducer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	cfg        config.RabbitMQConfig
	logger     *zap.Logger
	mu         sync.Mutex
	isClosed   bool
	reconnectC chan struct{}
}

var _ mq.Producer = (*RabbitMQProducer)(nil)

// NewRabbitMQProducer 懒连接: 初次连接在后台进行, 失败由重连循环接管
func NewRabbitMQProducer(cfg config.RabbitMQConfig, logger *zap.Logger) (*RabbitMQProducer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq: empty url")
	}
	p := &RabbitMQProducer{
		cfg:        cfg,
		logger:     logger,
		reconnectC: make(chan struct{}, 1),
	}

	go func() {
		p.logger.Info("Attempting initial RabbitMQ connection", zap.String("url", maskURL(cfg.URL)))
		if err := p.connect(); err != nil {
			p.logger.Warn("Initial RabbitMQ connection failed (will retry)", zap.Error(err))
			p.signalReconnect()
		}
	}()

	go p.handleReconnect()

	return p, nil
}

// connectionURL 拼接虚拟主机, "/dev" 形式转义为 "%2fdev"
func connectionURL(cfg config.RabbitMQConfig) string {
	connURL := cfg.URL
	if cfg.VirtualHost == "" {
		return connURL
	}
	vhost := cfg.VirtualHost
	if strings.HasPrefix(vhost, "/") {
		vhost = "%2f" + vhost[1:]
	}

	// amqp://host:port[/vhost]
	rest := strings.SplitN(connURL, "://", 2)
	if len(rest) != 2 {
		return strings.TrimSuffix(connURL, "/") + "/" + vhost
	}
	host := strings.SplitN(rest[1], "/", 2)[0]
	return rest[0] + "://" + host + "/" + vhost
}

// maskURL 日志中隐藏密码
func maskURL(raw string) string {
	u, err := amqp.ParseURI(raw)
	if err != nil {
		return raw
	}
	if u.Password != "" {
		u.Password = "******"
	}
	return u.String()
}

func (p *RabbitMQProducer) connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isClosed {
		return ErrClosed
	}

	connURL := connectionURL(p.cfg)
	p.logger.Debug("Connecting to RabbitMQ", zap.String("url", maskURL(connURL)))
	conn, err := amqp.Dial(connURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := p.declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	p.conn = conn
	p.ch = ch

	go func() {
		if err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1)); ok {
			p.logger.Warn("RabbitMQ connection closed", zap.Error(err))
		}
		p.signalReconnect()
	}()

	p.logger.Info("Connected to RabbitMQ", zap.String("exchange", p.cfg.Exchange))
	return nil
}

// declare 声明 topic 交换机, 配置了队列时声明并绑定 (幂等)
func (p *RabbitMQProducer) declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if p.cfg.QueueName == "" {
		return nil
	}
	if _, err := ch.QueueDeclare(p.cfg.QueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(p.cfg.QueueName, p.cfg.RoutingKey, p.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

func (p *RabbitMQProducer) signalReconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isClosed {
		return
	}
	select {
	case p.reconnectC <- struct{}{}:
	default:
	}
}

func (p *RabbitMQProducer) handleReconnect() {
	for range p.reconnectC {
		for {
			err := p.connect()
			if err == nil {
				p.logger.Info("Reconnected to RabbitMQ")
				break
			}
			if errors.Is(err, ErrClosed) {
				return
			}
			p.logger.Error("Failed to reconnect to RabbitMQ", zap.Error(err))
			time.Sleep(reconnectDelay)
		}
	}
}

// Produce 发布到交换机; key 为空时使用配置的 routing key
func (p *RabbitMQProducer) Produce(ctx context.Context, topic string, key string, data interface{}) error {
	p.mu.Lock()
	if p.isClosed {
		p.mu.Unlock()
		return ErrClosed
	}
	ch := p.ch
	p.mu.Unlock()

	if ch == nil || ch.IsClosed() {
		p.signalReconnect()
		return ErrNotConnected
	}

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	routingKey := p.routingKey(key)

	err = ch.PublishWithContext(ctx,
		p.cfg.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Type:        topic,
			Body:        body,
			Timestamp:   time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("Published message to RabbitMQ",
		zap.String("exchange", p.cfg.Exchange), zap.String("routing_key", routingKey))
	return nil
}

// routingKey key 为空时使用配置的 routing key (队列按它绑定)
func (p *RabbitMQProducer) routingKey(key string) string {
	if key != "" {
		return key
	}
	return p.cfg.RoutingKey
}

func (p *RabbitMQProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isClosed {
		return
	}
	p.isClosed = true
	close(p.reconnectC)
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
