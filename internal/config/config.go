package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Wifi         WifiConfig         `mapstructure:"wifi"`
	MQTT         MQTTConfig         `mapstructure:"mqtt"`
	Loop         LoopConfig         `mapstructure:"loop"`
	Ingest       IngestConfig       `mapstructure:"ingest"`
	Log          LogConfig          `mapstructure:"log"`
	MessageQueue MessageQueueConfig `mapstructure:"message_queue"`
}

// WifiConfig 无线 STA 连接参数
type WifiConfig struct {
	SSID         string        `mapstructure:"ssid"`
	Password     string        `mapstructure:"password"`
	Interface    string        `mapstructure:"interface"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// MQTTConfig 安全会话参数 (broker 地址, 客户端标识, 主题, 证书路径); 保活固定为 60s, 不在此配置
type MQTTConfig struct {
	URL               string        `mapstructure:"url"`
	ClientID          string        `mapstructure:"client_id"`
	PubTopic          string        `mapstructure:"pub_topic"`
	SubTopic          string        `mapstructure:"sub_topic"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	RootCA            string        `mapstructure:"root_ca"`
	Cert              string        `mapstructure:"cert"`
	Key               string        `mapstructure:"key"`
	AttachSystemRoots bool          `mapstructure:"attach_system_roots"`
}

// LoopConfig 会话循环节奏
type LoopConfig struct {
	SubscribeRetry     time.Duration `mapstructure:"subscribe_retry"`
	Grace              time.Duration `mapstructure:"grace"`
	PublishInterval    time.Duration `mapstructure:"publish_interval"`
	PlaceholderPayload string        `mapstructure:"placeholder_payload"`
	RebuildInitial     time.Duration `mapstructure:"rebuild_initial"`
	RebuildMax         time.Duration `mapstructure:"rebuild_max"`
}

type IngestConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	MaxFrame int    `mapstructure:"max_frame"`
}

type MessageQueueConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Type     string         `mapstructure:"type"`
	Workers  int            `mapstructure:"workers"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

type RabbitMQConfig struct {
	URL         string `mapstructure:"url"`
	VirtualHost string `mapstructure:"virtual_host"`
	Exchange    string `mapstructure:"exchange"`
	RoutingKey  string `mapstructure:"routing_key"`
	QueueName   string `mapstructure:"queue_name"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// setDefaults 字符串默认为空, 时间参数使用固件原有节奏
func setDefaults(v *viper.Viper) {
	v.SetDefault("wifi.ssid", "")
	v.SetDefault("wifi.password", "")
	v.SetDefault("wifi.interface", "wlan0")
	v.SetDefault("wifi.poll_interval", 100*time.Millisecond)

	v.SetDefault("mqtt.url", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.pub_topic", "")
	v.SetDefault("mqtt.sub_topic", "")
	v.SetDefault("mqtt.connect_timeout", 30*time.Second)
	v.SetDefault("mqtt.operation_timeout", 10*time.Second)
	v.SetDefault("mqtt.root_ca", "certs/root-ca.pem")
	v.SetDefault("mqtt.cert", "certs/device-certificate.pem.crt")
	v.SetDefault("mqtt.key", "certs/private-key.pem.key")
	v.SetDefault("mqtt.attach_system_roots", true)

	v.SetDefault("loop.subscribe_retry", 500*time.Millisecond)
	v.SetDefault("loop.grace", 500*time.Millisecond)
	v.SetDefault("loop.publish_interval", 2*time.Second)
	v.SetDefault("loop.placeholder_payload", "Hello from sensor-agent!")
	v.SetDefault("loop.rebuild_initial", 2*time.Second)
	v.SetDefault("loop.rebuild_max", 60*time.Second)

	v.SetDefault("ingest.enabled", true)
	v.SetDefault("ingest.host", "127.0.0.1")
	v.SetDefault("ingest.port", 7070)
	v.SetDefault("ingest.max_frame", 1024)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.filename", "logs/agent.log")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 7)
	v.SetDefault("log.console", true)

	v.SetDefault("message_queue.workers", 2)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
