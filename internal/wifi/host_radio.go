package wifi

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrNotStarted Connect/IsConnected 在 Start 之前被调用
var ErrNotStarted = errors.New("wifi: radio not started")

// HostRadio 运行在 Linux 主机上的 Radio 实现。
// 关联由系统 (wpa_supplicant / NetworkManager) 完成, 这里只观察网卡状态:
// 网卡 UP 且持有 IPv4 地址即视为已连接。
type HostRadio struct {
	iface string

	mu      sync.Mutex
	cfg     StationConfig
	started bool

	// 测试注入
	lookup func(name string) (*net.Interface, error)
	addrs  func(ifi *net.Interface) ([]net.Addr, error)
}

func NewHostRadio(iface string) *HostRadio {
	return &HostRadio{
		iface:  iface,
		lookup: net.InterfaceByName,
		addrs:  func(ifi *net.Interface) ([]net.Addr, error) { return ifi.Addrs() },
	}
}

func (r *HostRadio) SetConfiguration(cfg StationConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	return nil
}

func (r *HostRadio) Start() error {
	if _, err := r.lookup(r.iface); err != nil {
		return fmt.Errorf("interface %s: %w", r.iface, err)
	}
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	return nil
}

func (r *HostRadio) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return ErrNotStarted
	}
	return nil
}

func (r *HostRadio) IsConnected() (bool, error) {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return false, ErrNotStarted
	}

	_, ipNet, err := r.ipv4()
	if err != nil {
		return false, err
	}
	return ipNet != nil, nil
}

func (r *HostRadio) Configuration() (StationConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg, nil
}

func (r *HostRadio) IPInfo() (IPInfo, error) {
	_, ipNet, err := r.ipv4()
	if err != nil {
		return IPInfo{}, err
	}
	if ipNet == nil {
		return IPInfo{}, fmt.Errorf("interface %s has no IPv4 address", r.iface)
	}
	return IPInfo{IP: ipNet.IP, Netmask: ipNet.Mask}, nil
}

// ipv4 网卡 UP 时返回第一个 IPv4 地址, 否则返回 nil
func (r *HostRadio) ipv4() (*net.Interface, *net.IPNet, error) {
	ifi, err := r.lookup(r.iface)
	if err != nil {
		return nil, nil, fmt.Errorf("interface %s: %w", r.iface, err)
	}
	if ifi.Flags&net.FlagUp == 0 {
		return ifi, nil, nil
	}
	addrs, err := r.addrs(ifi)
	if err != nil {
		return nil, nil, fmt.Errorf("interface %s addrs: %w", r.iface, err)
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.To4() != nil {
			return ifi, ipNet, nil
		}
	}
	return ifi, nil, nil
}
