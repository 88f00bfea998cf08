package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sensor-agent/internal/config"
	"sensor-agent/internal/credential"
	"sensor-agent/internal/session"
	"sensor-agent/internal/wifi"
)

// SessionFactory 构建一条安全会话, 默认为 session.New
type SessionFactory func(cfg session.Config, pubTopic, subTopic string, logger *zap.Logger) (*session.Client, error)

// App 启动完成后的设备状态
type App struct {
	Config      config.Config
	IPInfo      wifi.IPInfo
	Credentials *credential.Registry
	Client      *session.Client
	// Dial 使用同一份配置与证书重建会话
	Dial Dialer
}

// Bootstrap 启动顺序: 无线链路 → 证书 → 安全会话。任一步失败都是致命错误。
type Bootstrap struct {
	Config     config.Config
	Radio      wifi.Radio
	NewSession SessionFactory
	Logger     *zap.Logger
}

func (b Bootstrap) Start(ctx context.Context) (*App, error) {
	newSession := b.NewSession
	if newSession == nil {
		newSession = session.New
	}
	cfg := b.Config

	mgr := wifi.NewManager(b.Radio, cfg.Wifi.PollInterval, b.Logger)
	info, err := mgr.Connect(ctx, cfg.Wifi.SSID, cfg.Wifi.Password)
	if err != nil {
		return nil, err
	}
	b.Logger.Info("IP info", zap.Stringer("ip_info", info))

	reg := credential.NewRegistry()
	material, err := credential.ReadMaterial(reg, credential.Paths{
		RootCA: cfg.MQTT.RootCA,
		Cert:   cfg.MQTT.Cert,
		Key:    cfg.MQTT.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	sessCfg := SessionConfig(cfg.MQTT, material)
	client, err := newSession(sessCfg, cfg.MQTT.PubTopic, cfg.MQTT.SubTopic, b.Logger)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &App{
		Config:      cfg,
		IPInfo:      info,
		Credentials: reg,
		Client:      client,
		Dial: func(ctx context.Context) (*session.Client, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return newSession(sessCfg, cfg.MQTT.PubTopic, cfg.MQTT.SubTopic, b.Logger)
		},
	}, nil
}

// SessionConfig 由配置和已加载的证书组装会话配置
func SessionConfig(cfg config.MQTTConfig, material credential.Material) session.Config {
	return session.Config{
		URL:               cfg.URL,
		ClientID:          cfg.ClientID,
		ConnectTimeout:    cfg.ConnectTimeout,
		OperationTimeout:  cfg.OperationTimeout,
		Material:          material,
		AttachSystemRoots: cfg.AttachSystemRoots,
	}
}

// LoopOptions 将配置转换为循环参数, 未设置的项沿用默认值
func LoopOptions(cfg config.LoopConfig) Options {
	opts := DefaultOptions()
	if cfg.SubscribeRetry > 0 {
		opts.SubscribeRetry = cfg.SubscribeRetry
	}
	if cfg.Grace > 0 {
		opts.Grace = cfg.Grace
	}
	if cfg.PublishInterval > 0 {
		opts.PublishInterval = cfg.PublishInterval
	}
	if cfg.PlaceholderPayload != "" {
		opts.Placeholder = cfg.PlaceholderPayload
	}
	if cfg.RebuildInitial > 0 {
		opts.RebuildInitial = cfg.RebuildInitial
	}
	if cfg.RebuildMax > 0 {
		opts.RebuildMax = cfg.RebuildMax
	}
	return opts
}
