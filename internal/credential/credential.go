// Package credential 将原始 PEM 字节转换为传输层需要的 NUL 结尾缓冲区。
//
// 证书在启动时加载一次, 此后在进程生命周期内保持有效, 从不回收。
// 所有缓冲区统一由 Registry 持有, 这是唯一允许的 "泄漏" 场景。
package credential

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Sentinel 追加在每个缓冲区末尾的终止字节
const Sentinel byte = 0

var (
	// ErrEmpty 证书文件为空
	ErrEmpty = errors.New("credential: empty material")
	// ErrNoRootCA 根证书无法解析为 PEM 证书
	ErrNoRootCA = errors.New("credential: root CA contains no usable certificate")
)

// Registry 进程级证书存储区。只增不减。
type Registry struct {
	mu      sync.Mutex
	buffers [][]byte
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Load 复制 raw 并追加 Sentinel, 返回一个指向注册区内存的只读视图。
// 不校验 PEM 结构, 格式错误会延迟到会话构建时暴露。
func (r *Registry) Load(raw []byte) View {
	buf := make([]byte, len(raw)+1)
	copy(buf, raw)
	buf[len(raw)] = Sentinel

	r.mu.Lock()
	r.buffers = append(r.buffers, buf)
	r.mu.Unlock()

	return View{buf: buf}
}

// Len 当前持有的缓冲区数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}

// View 不持有所有权的证书视图, 底层内存归 Registry 所有
type View struct {
	buf []byte
}

// Bytes 返回包含终止字节的完整缓冲区
func (v View) Bytes() []byte {
	return v.buf
}

// PEM 读取到第一个 Sentinel 为止 (不含)
func (v View) PEM() []byte {
	if i := bytes.IndexByte(v.buf, Sentinel); i >= 0 {
		return v.buf[:i]
	}
	return v.buf
}

// Len 包含终止字节的长度
func (v View) Len() int {
	return len(v.buf)
}

// Material 根证书, 设备证书, 设备私钥
type Material struct {
	RootCA View
	Cert   View
	Key    View
}

// Paths 证书文件路径
type Paths struct {
	RootCA string
	Cert   string
	Key    string
}

// LoadMaterial 将三份原始字节装入注册区
func LoadMaterial(reg *Registry, rootCA, cert, key []byte) Material {
	return Material{
		RootCA: reg.Load(rootCA),
		Cert:   reg.Load(cert),
		Key:    reg.Load(key),
	}
}

// ReadMaterial 从文件读取三份证书。文件缺失或为空视为启动失败。
func ReadMaterial(reg *Registry, paths Paths) (Material, error) {
	read := func(name, path string) ([]byte, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%s %q: %w", name, path, ErrEmpty)
		}
		return data, nil
	}

	rootCA, err := read("root CA", paths.RootCA)
	if err != nil {
		return Material{}, err
	}
	cert, err := read("device certificate", paths.Cert)
	if err != nil {
		return Material{}, err
	}
	key, err := read("private key", paths.Key)
	if err != nil {
		return Material{}, err
	}
	return LoadMaterial(reg, rootCA, cert, key), nil
}

// TLSConfig 构建双向认证的 TLS 配置。attachSystemRoots 对应平台提供的信任包。
func (m Material) TLSConfig(attachSystemRoots bool) (*tls.Config, error) {
	pair, err := tls.X509KeyPair(m.Cert.PEM(), m.Key.PEM())
	if err != nil {
		return nil, fmt.Errorf("load device key pair: %w", err)
	}

	var pool *x509.CertPool
	if attachSystemRoots {
		if sys, err := x509.SystemCertPool(); err == nil {
			pool = sys
		}
	}
	if pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(m.RootCA.PEM()) {
		return nil, ErrNoRootCA
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		RootCAs:      pool,
		Certificates: []tls.Certificate{pair},
	}, nil
}
