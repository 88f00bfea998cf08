package agent

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"sensor-agent/internal/session"
)

type LifecycleKind int

const (
	LifecycleConnected LifecycleKind = iota
	LifecycleMessage
	LifecycleDisconnected
)

func (k LifecycleKind) String() string {
	switch k {
	case LifecycleConnected:
		return "connected"
	case LifecycleMessage:
		return "message"
	case LifecycleDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Lifecycle 事件泵发给会话循环的结构化事件
type Lifecycle struct {
	Kind  LifecycleKind
	Topic string
	Err   error
	At    time.Time
}

// MessageSink 接收入站消息的旁路 (如 MQ 镜像), 实现不得阻塞
type MessageSink interface {
	Mirror(topic string, payload []byte)
}

const lifecycleBuffer = 16

// startPump 启动唯一的事件泵 goroutine, 独占消费连接句柄。
// 序列结束 (或泵内 panic) 时关闭返回的 channel。
func startPump(ctx context.Context, conn *session.Connection, sink MessageSink, logger *zap.Logger) <-chan Lifecycle {
	out := make(chan Lifecycle, lifecycleBuffer)

	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic in event pump",
					zap.Any("recover", r),
					zap.String("stack", string(debug.Stack())))
			}
		}()

		logger.Info("MQTT listening for messages")
		for {
			ev, ok := conn.Next(ctx)
			if !ok {
				break
			}

			lc := Lifecycle{Topic: ev.Topic, Err: ev.Err, At: ev.At}
			switch ev.Kind {
			case session.EventConnected:
				logger.Info("[Queue] Event: connected")
				lc.Kind = LifecycleConnected
			case session.EventReceived:
				logger.Info("[Queue] Event: message",
					zap.String("topic", ev.Topic),
					zap.ByteString("payload", ev.Payload))
				if sink != nil {
					sink.Mirror(ev.Topic, ev.Payload)
				}
				lc.Kind = LifecycleMessage
			case session.EventDisconnected:
				logger.Warn("[Queue] Event: disconnected", zap.Error(ev.Err))
				lc.Kind = LifecycleDisconnected
			}

			select {
			case out <- lc:
			default:
				// 循环每个周期才读一次, 满了就丢; 关闭 channel 才是断开的可靠信号
			}
		}
		logger.Info("Connection closed")
	}()

	return out
}
