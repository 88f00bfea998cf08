package bridge

import (
	"time"

	"go.uber.org/atomic"
)

// Sample 采样任务产出的一条读数
type Sample struct {
	Value string
	At    time.Time
}

// Bridge 采样任务与发布步骤之间的单槽通道。
// 新样本覆盖未被消费的旧样本, 生产者永不阻塞。
type Bridge struct {
	slot     chan Sample
	offered  atomic.Uint64
	replaced atomic.Uint64
}

func New() *Bridge {
	return &Bridge{slot: make(chan Sample, 1)}
}

// Offer 非阻塞投递。槽位被占用时丢弃旧样本, 返回 true 表示发生了覆盖。
// 多个生产者并发时, 竞争失败的一方样本被丢弃。
func (b *Bridge) Offer(s Sample) (replaced bool) {
	b.offered.Inc()
	select {
	case b.slot <- s:
		return false
	default:
	}

	select {
	case <-b.slot:
		replaced = true
		b.replaced.Inc()
	default:
	}

	select {
	case b.slot <- s:
	default:
	}
	return replaced
}

// TryReceive 非阻塞接收
func (b *Bridge) TryReceive() (Sample, bool) {
	select {
	case s := <-b.slot:
		return s, true
	default:
		return Sample{}, false
	}
}

// Stats 累计投递数与覆盖数
func (b *Bridge) Stats() (offered, replaced uint64) {
	return b.offered.Load(), b.replaced.Load()
}
