package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sensor-agent/internal/config"
	"sensor-agent/internal/infra/mq"
)

type captureProducer struct {
	mu    sync.Mutex
	got   []Payload
	keys  []string
	topic string
	err   error
}

func (c *captureProducer) Produce(ctx context.Context, topic, key string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = topic
	c.keys = append(c.keys, key)
	c.got = append(c.got, data.(Payload))
	return c.err
}

func (c *captureProducer) Close() {}

func (c *captureProducer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func TestDispatcherMirrors(t *testing.T) {
	prod := &captureProducer{}
	d := NewDispatcher(prod, "node-1", 2, 8, zap.NewNop())
	d.Start()
	defer d.Stop()

	d.Mirror("nodes/1/in", []byte("on"))
	d.Mirror("nodes/1/in", []byte("off"))

	require.Eventually(t, func() bool { return prod.count() == 2 }, 5*time.Second, 10*time.Millisecond)

	prod.mu.Lock()
	defer prod.mu.Unlock()
	require.Equal(t, Topic, prod.topic)
	// 空 key, 由生产者使用配置的 routing key
	require.Equal(t, []string{"", ""}, prod.keys)
	for _, p := range prod.got {
		require.Equal(t, "node-1", p.ClientID)
		require.Equal(t, MsgTypeInbound, p.Type)
		require.Equal(t, "nodes/1/in", p.Data.Topic)
		require.NotEmpty(t, p.ID)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(&captureProducer{}, "node-1", 1, 1, zap.NewNop())
	// 未启动 worker, 第二条被丢弃
	d.Mirror("a", nil)
	d.Mirror("b", nil)
	require.Equal(t, uint64(1), d.Dropped())
}

func TestDispatcherProducerError(t *testing.T) {
	prod := &captureProducer{err: errors.New("broker down")}
	d := NewDispatcher(prod, "node-1", 1, 4, zap.NewNop())
	d.Start()
	d.Mirror("a", []byte("x"))
	require.Eventually(t, func() bool { return prod.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	d.Stop()
}

func TestPayloadJSON(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	body, err := json.Marshal(NewPayload("id-1", "node-1", "nodes/1/in", []byte("21.5"), at))
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, "id-1", out["id"])
	require.Equal(t, MsgTypeInbound, out["type"])

	data := out["data"].(map[string]interface{})
	require.Equal(t, "21.5", data["text"])
	require.Equal(t, "nodes/1/in", data["topic"])
	require.Equal(t, MsgTypeInbound, data["msgType"])
	require.Equal(t, "node-1", data["clientId"])
	require.NotContains(t, data, "raw")
}

func TestPayloadBinary(t *testing.T) {
	p := NewPayload("id", "c", "t", []byte{0xff, 0xfe}, time.Now())
	require.Empty(t, p.Data.Text)
	require.Equal(t, []byte{0xff, 0xfe}, p.Data.Raw)
}

func TestNewProducer(t *testing.T) {
	p, err := NewProducer(config.MessageQueueConfig{}, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &mq.NoOpProducer{}, p)

	_, err = NewProducer(config.MessageQueueConfig{Enabled: true, Type: "nats"}, zap.NewNop())
	require.Error(t, err)

	p, err = NewProducer(config.MessageQueueConfig{
		Enabled: true,
		Type:    "kafka",
		Kafka:   config.KafkaConfig{Brokers: []string{"127.0.0.1:9092"}},
	}, zap.NewNop())
	require.NoError(t, err)
	p.Close()
}
