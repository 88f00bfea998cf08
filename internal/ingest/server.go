package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"

	"sensor-agent/internal/bridge"
	"sensor-agent/internal/config"
)

// SampleSink 样本的去向, 通常是 *bridge.Bridge
type SampleSink interface {
	Offer(s bridge.Sample) (replaced bool)
}

// connContext 保存每个连接的状态
type connContext struct {
	buffer  []byte
	scanner *LineScanner
	addr    string
	frames  int
}

func newConnContext(addr string, maxFrame int) *connContext {
	return &connContext{
		buffer:  make([]byte, 0, 256),
		scanner: NewLineScanner(maxFrame),
		addr:    addr,
	}
}

// feed 追加新数据并切出完整帧; 出错时调用方应关闭连接
func (cc *connContext) feed(data []byte) ([]string, error) {
	cc.buffer = append(cc.buffer, data...)

	var frames []string
	for {
		advance, token, err := cc.scanner.SplitFunc(cc.buffer, false)
		if err != nil {
			return frames, err
		}
		if advance == 0 {
			// 需要更多数据
			break
		}
		if token != nil {
			frames = append(frames, string(token))
			cc.frames++
		}
		cc.buffer = cc.buffer[advance:]
	}
	return frames, nil
}

// Server 本地采样接入: 传感器进程通过 TCP 按行推送读数, 每行作为一个样本投递到 bridge。
// 这就是独立的采样任务, 与会话循环互不阻塞。
type Server struct {
	gnet.BuiltinEventEngine

	addr      string
	multicore bool
	maxFrame  int
	sink      SampleSink
	logger    *zap.Logger
	now       func() time.Time
}

func NewServer(cfg config.IngestConfig, sink SampleSink, logger *zap.Logger) *Server {
	return &Server{
		addr:      fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port),
		multicore: false,
		maxFrame:  cfg.MaxFrame,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) OnBoot(eng gnet.Engine) (action gnet.Action) {
	s.logger.Info("Sample ingest is booting", zap.String("address", s.addr))
	return
}

func (s *Server) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	s.logger.Info("Sample source connected", zap.String("remote_addr", c.RemoteAddr().String()))
	c.SetContext(newConnContext(c.RemoteAddr().String(), s.maxFrame))
	return
}

func (s *Server) OnTraffic(c gnet.Conn) (action gnet.Action) {
	cc, ok := c.Context().(*connContext)
	if !ok {
		return gnet.Close
	}

	buf, _ := c.Next(-1)
	if len(buf) == 0 {
		return
	}

	frames, err := cc.feed(buf)
	s.deliver(frames)
	if err != nil {
		s.logger.Warn("Sample frame error, closing", zap.Error(err), zap.String("addr", cc.addr))
		return gnet.Close
	}
	return
}

func (s *Server) deliver(frames []string) {
	for _, f := range frames {
		if replaced := s.sink.Offer(bridge.Sample{Value: f, At: s.now()}); replaced {
			s.logger.Debug("Unconsumed sample superseded", zap.String("sample", f))
		}
	}
}

func (s *Server) OnClose(c gnet.Conn, err error) (action gnet.Action) {
	frames := 0
	if cc, ok := c.Context().(*connContext); ok {
		frames = cc.frames
	}
	s.logger.Info("Sample source closed",
		zap.String("remote", c.RemoteAddr().String()),
		zap.Int("frames", frames),
		zap.Error(err))
	return
}

func (s *Server) OnShutdown(eng gnet.Engine) {
	s.logger.Info("Sample ingest is shutting down")
}

// Start 阻塞运行直到 Stop
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting sample ingest", zap.String("addr", s.addr))
	return gnet.Run(s, s.addr,
		gnet.WithMulticore(s.multicore),
		gnet.WithLogger(s.logger.Sugar()),
		gnet.WithReusePort(true),
	)
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping sample ingest...")
	return gnet.Stop(ctx, s.addr)
}
