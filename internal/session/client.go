package session

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"sensor-agent/internal/credential"
)

// QoS 服务质量等级
type QoS byte

const (
	AtMostOnce QoS = iota
	AtLeastOnce
	ExactlyOnce
)

// KeepAlive 固定 60s 保活, 不可配置
const KeepAlive = 60 * time.Second

const eventBuffer = 64

var (
	// ErrNotConnected 会话尚未就绪或已断开
	ErrNotConnected = errors.New("session: not connected")
	// ErrTimeout 等待 broker 应答超时
	ErrTimeout = errors.New("session: operation timed out")
	// ErrInvalidQoS QoS 超出 0..2
	ErrInvalidQoS = errors.New("session: invalid qos")
)

// Config 会话配置, 构建后不再修改
type Config struct {
	URL               string
	ClientID          string
	ConnectTimeout    time.Duration
	OperationTimeout  time.Duration
	Material          credential.Material
	AttachSystemRoots bool
}

// Commander 命令句柄
type Commander interface {
	Subscribe(topic string, qos QoS) error
	Enqueue(topic string, qos QoS, retain bool, payload []byte) error
	Close()
}

// Client 一条双向认证的 MQTT/TLS 会话: 命令句柄 + 连接句柄 + 固定主题
type Client struct {
	Commander  Commander
	Connection *Connection
	PubTopic   string
	SubTopic   string
}

// Close 先结束事件序列 (释放阻塞在 Push 上的回调), 再断开连接
func (c *Client) Close() {
	c.Connection.End(nil)
	c.Commander.Close()
}

// pahoClient 用到的 paho 客户端子集
type pahoClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// New 加载证书, 组装配置, 连接 broker。任何失败都视为致命错误直接返回。
func New(cfg Config, pubTopic, subTopic string, logger *zap.Logger) (*Client, error) {
	return newClient(cfg, pubTopic, subTopic, logger, func(opts *mqtt.ClientOptions) pahoClient {
		return mqtt.NewClient(opts)
	})
}

func newClient(cfg Config, pubTopic, subTopic string, logger *zap.Logger, factory func(*mqtt.ClientOptions) pahoClient) (*Client, error) {
	tlsCfg, err := cfg.Material.TLSConfig(cfg.AttachSystemRoots)
	if err != nil {
		return nil, fmt.Errorf("session tls config: %w", err)
	}

	opTimeout := cfg.OperationTimeout
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}

	conn := NewConnection(eventBuffer, logger)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(KeepAlive).
		SetTLSConfig(tlsCfg).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetDefaultPublishHandler(conn.onMessage).
		SetOnConnectHandler(conn.onConnect).
		SetConnectionLostHandler(conn.onConnectionLost)

	pc := factory(opts)
	logger.Info("Connecting to MQTT broker", zap.String("url", cfg.URL), zap.String("client_id", cfg.ClientID))

	token := pc.Connect()
	if !token.WaitTimeout(connectTimeout) {
		pc.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.URL, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.URL, err)
	}

	return &Client{
		Commander: &commander{
			client:  pc,
			timeout: opTimeout,
			logger:  logger,
		},
		Connection: conn,
		PubTopic:   pubTopic,
		SubTopic:   subTopic,
	}, nil
}

func (c *Connection) onMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	c.Push(Event{Kind: EventReceived, Topic: msg.Topic(), Payload: payload, At: time.Now()})
}

func (c *Connection) onConnect(_ mqtt.Client) {
	c.Push(Event{Kind: EventConnected, At: time.Now()})
}

func (c *Connection) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("MQTT connection lost", zap.Error(err))
	c.End(err)
}

type commander struct {
	client  pahoClient
	timeout time.Duration
	logger  *zap.Logger
}

func (c *commander) Subscribe(topic string, qos QoS) error {
	if qos > ExactlyOnce {
		return ErrInvalidQoS
	}
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	// nil 回调: 消息走默认处理器, 进入连接句柄
	return c.wait(c.client.Subscribe(topic, byte(qos), nil))
}

func (c *commander) Enqueue(topic string, qos QoS, retain bool, payload []byte) error {
	if qos > ExactlyOnce {
		return ErrInvalidQoS
	}
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return c.wait(c.client.Publish(topic, byte(qos), retain, payload))
}

func (c *commander) Close() {
	c.logger.Info("Disconnecting from MQTT broker")
	c.client.Disconnect(250)
}

func (c *commander) wait(token mqtt.Token) error {
	if !token.WaitTimeout(c.timeout) {
		return ErrTimeout
	}
	return token.Error()
}
