package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventReceived
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventReceived:
		return "received"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event 连接句柄产出的入站事件
type Event struct {
	Kind    EventKind
	Topic   string
	Payload []byte
	Err     error
	At      time.Time
}

// Connection 连接句柄: 按序产出事件, 断开后先交付缓冲中的事件, 再交付断开事件, 然后序列结束。
// 只允许一个 goroutine 消费。
type Connection struct {
	events chan Event
	done   chan struct{}
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	// final 在 End 中写入, close(done) 之后只由消费者读取
	final    *Event
	finished bool
}

// NewConnection 创建连接句柄, 由传输层通过 Push/End 驱动
func NewConnection(buffer int, logger *zap.Logger) *Connection {
	return &Connection{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Next 阻塞直到下一个事件; 序列结束或 ctx 取消时返回 false
func (c *Connection) Next(ctx context.Context) (Event, bool) {
	if c.finished {
		return Event{}, false
	}
	select {
	case <-ctx.Done():
		return Event{}, false
	case ev := <-c.events:
		return ev, true
	case <-c.done:
		return c.drain()
	}
}

func (c *Connection) drain() (Event, bool) {
	select {
	case ev := <-c.events:
		return ev, true
	default:
	}
	c.finished = true
	if c.final == nil {
		return Event{}, false
	}
	ev := *c.final
	c.final = nil
	return ev, true
}

// Done 序列结束 (End 被调用) 时关闭
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Push 阻塞投递, 向传输层施加背压; End 之后返回 false
func (c *Connection) Push(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		c.logger.Debug("Session ended, event discarded",
			zap.Stringer("kind", ev.Kind), zap.String("topic", ev.Topic))
		return false
	}
}

// End 记录断开事件并结束序列, 可重复调用; 不会阻塞
func (c *Connection) End(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.final = &Event{Kind: EventDisconnected, Err: err, At: time.Now()}
	close(c.done)
}
