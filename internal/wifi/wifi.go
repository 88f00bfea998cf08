package wifi

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// StationConfig STA 模式参数
type StationConfig struct {
	SSID     string
	Password string
}

// String 打印时隐藏密码
func (c StationConfig) String() string {
	return fmt.Sprintf("ssid=%q password=%d chars", c.SSID, len(c.Password))
}

// IPInfo 获取到的地址信息, 仅用于诊断日志
type IPInfo struct {
	IP      net.IP
	Netmask net.IPMask
	Gateway net.IP
}

func (i IPInfo) String() string {
	gw := "-"
	if i.Gateway != nil {
		gw = i.Gateway.String()
	}
	return fmt.Sprintf("ip=%s mask=%s gw=%s", i.IP, net.IP(i.Netmask), gw)
}

// Radio 无线驱动抽象, 每个调用都可能失败
type Radio interface {
	SetConfiguration(cfg StationConfig) error
	Start() error
	Connect() error
	IsConnected() (bool, error)
	Configuration() (StationConfig, error)
	IPInfo() (IPInfo, error)
}

// Manager 驱动 STA 链路直到拿到 IP
type Manager struct {
	radio        Radio
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewManager 创建连接管理器。pollInterval <= 0 时使用 100ms。
func NewManager(radio Radio, pollInterval time.Duration, logger *zap.Logger) *Manager {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &Manager{
		radio:        radio,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Connect 配置 → 启动 → 连接 → 轮询直到关联且获取 IP。
// 配置, 启动, 连接以及轮询中的平台错误立即返回, 不重试。
func (m *Manager) Connect(ctx context.Context, ssid, password string) (IPInfo, error) {
	if err := m.radio.SetConfiguration(StationConfig{SSID: ssid, Password: password}); err != nil {
		return IPInfo{}, fmt.Errorf("wifi set configuration: %w", err)
	}
	if err := m.radio.Start(); err != nil {
		return IPInfo{}, fmt.Errorf("wifi start: %w", err)
	}
	if err := m.radio.Connect(); err != nil {
		return IPInfo{}, fmt.Errorf("wifi connect: %w", err)
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		connected, err := m.radio.IsConnected()
		if err != nil {
			return IPInfo{}, fmt.Errorf("wifi is connected: %w", err)
		}
		if connected {
			break
		}

		cfg, err := m.radio.Configuration()
		if err != nil {
			return IPInfo{}, fmt.Errorf("wifi get configuration: %w", err)
		}
		m.logger.Info("Waiting for station", zap.Stringer("config", cfg))

		select {
		case <-ctx.Done():
			return IPInfo{}, ctx.Err()
		case <-ticker.C:
		}
	}

	info, err := m.radio.IPInfo()
	if err != nil {
		return IPInfo{}, fmt.Errorf("wifi ip info: %w", err)
	}
	m.logger.Info("Station connected", zap.String("ssid", ssid), zap.Stringer("ip_info", info))
	return info, nil
}
