package client

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// FrameSample 将一条读数编码为一行; 换行符会破坏分帧, 因此替换为空格
func FrameSample(value string) []byte {
	value = strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
	return []byte(value + "\n")
}

// FrameReading 数值读数按固定精度编码
func FrameReading(v float64, precision int) []byte {
	return FrameSample(strconv.FormatFloat(v, 'f', precision, 64))
}

// Feeder 向本地采样接入端口推送样本, 用于联调
type Feeder struct {
	conn net.Conn
}

func Dial(addr string, timeout time.Duration) (*Feeder, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial ingest %s: %w", addr, err)
	}
	return &Feeder{conn: conn}, nil
}

// NewFeeder 使用已建立的连接
func NewFeeder(conn net.Conn) *Feeder {
	return &Feeder{conn: conn}
}

func (f *Feeder) Send(value string) error {
	_, err := f.conn.Write(FrameSample(value))
	return err
}

func (f *Feeder) SendReading(v float64, precision int) error {
	_, err := f.conn.Write(FrameReading(v, precision))
	return err
}

func (f *Feeder) Close() error {
	return f.conn.Close()
}
