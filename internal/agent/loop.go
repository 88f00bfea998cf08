package agent

import (
	"context"
	"errors"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"sensor-agent/internal/bridge"
	"sensor-agent/internal/session"
)

// ErrSessionClosed 当前会话的事件序列已结束, 需要重建
var ErrSessionClosed = errors.New("agent: session closed")

type State int32

const (
	StateSubscribePending State = iota
	StateSubscribed
	StateRebuilding
)

func (s State) String() string {
	switch s {
	case StateSubscribePending:
		return "subscribe_pending"
	case StateSubscribed:
		return "subscribed"
	case StateRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// Dialer 重建会话。启动时的首次构建不经过这里。
type Dialer func(ctx context.Context) (*session.Client, error)

// Options 会话循环节奏
type Options struct {
	SubscribeRetry  time.Duration
	Grace           time.Duration
	PublishInterval time.Duration
	Placeholder     string
	RebuildInitial  time.Duration
	RebuildMax      time.Duration
}

// DefaultOptions 固件原有节奏: 500ms 订阅重试, 500ms 宽限, 2s 发布
func DefaultOptions() Options {
	return Options{
		SubscribeRetry:  500 * time.Millisecond,
		Grace:           500 * time.Millisecond,
		PublishInterval: 2 * time.Second,
		Placeholder:     "Hello from sensor-agent!",
		RebuildInitial:  2 * time.Second,
		RebuildMax:      60 * time.Second,
	}
}

// Stats 循环计数
type Stats struct {
	SubscribeFailures uint64
	Published         uint64
	PublishFailures   uint64
	Rebuilds          uint64
}

// Loop 会话循环: 订阅 → 宽限 → 周期发布, 发布失败回到订阅, 会话断开则重建。
type Loop struct {
	opts   Options
	dial   Dialer
	bridge *bridge.Bridge
	sink   MessageSink
	clock  Clock
	logger *zap.Logger

	state             atomic.Int32
	subscribeFailures atomic.Uint64
	published         atomic.Uint64
	publishFailures   atomic.Uint64
	rebuilds          atomic.Uint64
}

// NewLoop sink 可为 nil; clock 为 nil 时使用 RealClock
func NewLoop(opts Options, dial Dialer, b *bridge.Bridge, sink MessageSink, clock Clock, logger *zap.Logger) *Loop {
	if clock == nil {
		clock = RealClock()
	}
	return &Loop{
		opts:   opts,
		dial:   dial,
		bridge: b,
		sink:   sink,
		clock:  clock,
		logger: logger,
	}
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) Stats() Stats {
	return Stats{
		SubscribeFailures: l.subscribeFailures.Load(),
		Published:         l.published.Load(),
		PublishFailures:   l.publishFailures.Load(),
		Rebuilds:          l.rebuilds.Load(),
	}
}

func (l *Loop) setState(s State) {
	if State(l.state.Swap(int32(s))) != s {
		l.logger.Debug("Session loop state", zap.Stringer("state", s))
	}
}

// Run 接管 sess 并一直运行, 直到 ctx 取消 (返回 nil)。
// 每个会话只启动一个事件泵; 泵结束后关闭会话并重建。
func (l *Loop) Run(ctx context.Context, sess *session.Client) error {
	l.logger.Info("About to start the MQTT client")
	for {
		lifecycle := startPump(ctx, sess.Connection, l.sink, l.logger)

		err := l.serve(ctx, sess, lifecycle)
		sess.Close()
		// 等待事件泵退出, 避免泄漏
		for range lifecycle {
		}

		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("Session ended, rebuilding", zap.Error(err))

		sess, err = l.rebuild(ctx)
		if err != nil {
			return nil
		}
	}
}

// serve 在单个会话上运行 订阅/发布 状态机
func (l *Loop) serve(ctx context.Context, sess *session.Client, lifecycle <-chan Lifecycle) error {
	for {
		l.setState(StateSubscribePending)
		for {
			if l.closed(sess, lifecycle) {
				return ErrSessionClosed
			}
			err := sess.Commander.Subscribe(sess.SubTopic, session.AtMostOnce)
			if err == nil {
				break
			}
			l.subscribeFailures.Inc()
			l.logger.Error("Failed to subscribe to topic, retrying...",
				zap.String("topic", sess.SubTopic), zap.Error(err))
			if err := l.clock.Sleep(ctx, l.opts.SubscribeRetry); err != nil {
				return err
			}
		}

		l.setState(StateSubscribed)
		l.logger.Info("Subscribed to topic", zap.String("topic", sess.SubTopic))

		// 给事件泵一个机会收到第一条 (保留) 消息
		if err := l.clock.Sleep(ctx, l.opts.Grace); err != nil {
			return err
		}

		if err := l.publishLoop(ctx, sess, lifecycle); err != nil {
			return err
		}
	}
}

// publishLoop 发布失败时返回 nil, 由调用方重新订阅
func (l *Loop) publishLoop(ctx context.Context, sess *session.Client, lifecycle <-chan Lifecycle) error {
	for {
		if l.closed(sess, lifecycle) {
			return ErrSessionClosed
		}

		payload := l.opts.Placeholder
		if s, ok := l.bridge.TryReceive(); ok {
			payload = s.Value
		}

		if err := sess.Commander.Enqueue(sess.PubTopic, session.AtMostOnce, false, []byte(payload)); err != nil {
			l.publishFailures.Inc()
			l.logger.Error("Failed to publish, re-subscribing",
				zap.String("topic", sess.PubTopic), zap.Error(err))
			return nil
		}
		l.published.Inc()
		l.logger.Info("Published", zap.String("topic", sess.PubTopic), zap.String("payload", payload))

		if err := l.clock.Sleep(ctx, l.opts.PublishInterval); err != nil {
			return err
		}
	}
}

// closed 非阻塞检查: 连接句柄已结束, 或事件泵报告断开/已退出
func (l *Loop) closed(sess *session.Client, lifecycle <-chan Lifecycle) bool {
	select {
	case <-sess.Connection.Done():
		return true
	default:
	}
	for {
		select {
		case ev, ok := <-lifecycle:
			if !ok || ev.Kind == LifecycleDisconnected {
				return true
			}
		default:
			return false
		}
	}
}

// rebuild 指数退避重建会话, 直到成功或 ctx 取消
func (l *Loop) rebuild(ctx context.Context) (*session.Client, error) {
	l.setState(StateRebuilding)
	delay := l.opts.RebuildInitial
	if delay <= 0 {
		delay = time.Second
	}
	for {
		sess, err := l.dial(ctx)
		if err == nil {
			l.rebuilds.Inc()
			l.logger.Info("Session rebuilt")
			return sess, nil
		}
		l.logger.Error("Failed to rebuild session", zap.Error(err), zap.Duration("retry_in", delay))

		if err := l.clock.Sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
		if l.opts.RebuildMax > 0 && delay > l.opts.RebuildMax {
			delay = l.opts.RebuildMax
		}
	}
}
