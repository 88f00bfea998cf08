package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"sensor-agent/internal/infra/mq"
)

// Topic 入站镜像写入的默认 MQ 主题
const Topic = "sensor_inbound"

// Dispatcher 将会话收到的入站消息异步镜像到 MQ。
// Mirror 在事件泵里被调用, 因此只做非阻塞投递。
type Dispatcher struct {
	dataChan    chan Payload
	producer    mq.Producer
	clientID    string
	topic       string
	logger      *zap.Logger
	workerCount int
	dropped     atomic.Uint64
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewDispatcher 创建一个新的镜像分发器
func NewDispatcher(producer mq.Producer, clientID string, workerCount, buffer int, logger *zap.Logger) *Dispatcher {
	if workerCount <= 0 {
		workerCount = 1
	}
	if buffer <= 0 {
		buffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		dataChan:    make(chan Payload, buffer),
		producer:    producer,
		clientID:    clientID,
		topic:       Topic,
		workerCount: workerCount,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start 启动 worker 协程
func (d *Dispatcher) Start() {
	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Info("Mirror dispatcher started", zap.Int("workers", d.workerCount))
}

// Stop 停止分发器并等待所有 worker 退出, 未发送的消息被丢弃
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.logger.Info("Mirror dispatcher stopped", zap.Uint64("dropped", d.dropped.Load()))
}

// Mirror 非阻塞投递, 通道满时丢弃
func (d *Dispatcher) Mirror(topic string, payload []byte) {
	p := NewPayload(uuid.NewString(), d.clientID, topic, payload, time.Now())
	select {
	case d.dataChan <- p:
	default:
		d.dropped.Inc()
		d.logger.Warn("Mirror channel full, dropping message", zap.String("topic", topic))
	}
}

// Dropped 因通道满被丢弃的消息数
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case p := <-d.dataChan:
			d.process(p)
		}
	}
}

func (d *Dispatcher) process(p Payload) {
	// key 留空: rabbitmq 使用配置的 routing key 才能路由到绑定的队列; 设备标识在载荷里
	if err := d.producer.Produce(d.ctx, d.topic, "", p); err != nil {
		d.logger.Error("Mirror dispatcher failed to send message", zap.Error(err), zap.String("id", p.ID))
	}
}
