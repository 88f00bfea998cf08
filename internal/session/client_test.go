package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sensor-agent/internal/credential"
	"sensor-agent/internal/credential/credentialtest"
)

type fakeToken struct {
	err  error
	hang bool
	done chan struct{}
}

func newToken(err error) *fakeToken {
	d := make(chan struct{})
	close(d)
	return &fakeToken{err: err, done: d}
}

func (t *fakeToken) Wait() bool { return !t.hang }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.hang }

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakePaho struct {
	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	connectErr   error
	connectHang  bool
	open         bool
	subErr       error
	subscribed   []string
	published    []published
	disconnected bool
}

func (f *fakePaho) Connect() mqtt.Token {
	if f.connectHang {
		return &fakeToken{hang: true}
	}
	if f.connectErr == nil {
		f.open = true
	}
	return newToken(f.connectErr)
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.disconnected = true
}

func (f *fakePaho) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakePaho) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return newToken(f.subErr)
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, qos, retained, payload.([]byte)})
	return newToken(nil)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func testConfig(t *testing.T) Config {
	pki := credentialtest.Generate(t)
	return Config{
		URL:      "ssl://broker.test:8883",
		ClientID: "node-1",
		Material: credential.LoadMaterial(credential.NewRegistry(), pki.RootCA, pki.Cert, pki.Key),
	}
}

func newTestClient(t *testing.T, fp *fakePaho) (*Client, error) {
	return newClient(testConfig(t), "nodes/1/out", "nodes/1/in", zap.NewNop(), func(opts *mqtt.ClientOptions) pahoClient {
		fp.opts = opts
		return fp
	})
}

func TestNewConfiguresOptions(t *testing.T) {
	fp := &fakePaho{}
	c, err := newTestClient(t, fp)
	require.NoError(t, err)

	require.Equal(t, "nodes/1/out", c.PubTopic)
	require.Equal(t, "nodes/1/in", c.SubTopic)

	r := mqtt.NewClient(fp.opts).OptionsReader()
	require.Equal(t, "node-1", r.ClientID())
	require.Equal(t, KeepAlive, r.KeepAlive())
	require.False(t, r.AutoReconnect())
	require.NotNil(t, r.TLSConfig())
	require.Len(t, r.TLSConfig().Certificates, 1)
	require.Len(t, r.Servers(), 1)
	require.Equal(t, "broker.test:8883", r.Servers()[0].Host)
}

func TestNewFailures(t *testing.T) {
	_, err := newTestClient(t, &fakePaho{connectErr: errors.New("tls: bad certificate")})
	require.ErrorContains(t, err, "bad certificate")

	_, err = newTestClient(t, &fakePaho{connectHang: true})
	require.ErrorIs(t, err, ErrTimeout)

	cfg := testConfig(t)
	cfg.Material.Key = credential.NewRegistry().Load([]byte("not a key"))
	_, err = newClient(cfg, "a", "b", zap.NewNop(), func(*mqtt.ClientOptions) pahoClient { return &fakePaho{} })
	require.Error(t, err)
}

func TestSubscribeAndEnqueue(t *testing.T) {
	fp := &fakePaho{}
	c, err := newTestClient(t, fp)
	require.NoError(t, err)

	require.NoError(t, c.Commander.Subscribe(c.SubTopic, AtMostOnce))
	require.NoError(t, c.Commander.Enqueue(c.PubTopic, AtMostOnce, false, []byte("21.5")))
	require.Equal(t, []string{"nodes/1/in"}, fp.subscribed)
	require.Equal(t, published{"nodes/1/out", 0, false, []byte("21.5")}, fp.published[0])

	require.ErrorIs(t, c.Commander.Subscribe("x", QoS(3)), ErrInvalidQoS)

	fp.subErr = errors.New("not authorized")
	require.ErrorContains(t, c.Commander.Subscribe(c.SubTopic, AtMostOnce), "not authorized")

	c.Close()
	require.True(t, fp.disconnected)
	require.ErrorIs(t, c.Commander.Enqueue(c.PubTopic, AtMostOnce, false, nil), ErrNotConnected)
}

func TestConnectionEventOrder(t *testing.T) {
	fp := &fakePaho{}
	c, err := newTestClient(t, fp)
	require.NoError(t, err)

	conn := c.Connection
	conn.onConnect(nil)
	conn.onMessage(nil, fakeMessage{topic: "nodes/1/in", payload: []byte("a")})
	conn.onMessage(nil, fakeMessage{topic: "nodes/1/in", payload: []byte("b")})
	conn.onConnectionLost(nil, errors.New("EOF"))
	// 断开后的回调被忽略
	conn.onMessage(nil, fakeMessage{topic: "nodes/1/in", payload: []byte("late")})

	ctx := context.Background()
	var kinds []EventKind
	var payloads []string
	for {
		ev, ok := conn.Next(ctx)
		if !ok {
			break
		}
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventReceived {
			payloads = append(payloads, string(ev.Payload))
		}
	}
	require.Equal(t, []EventKind{EventConnected, EventReceived, EventReceived, EventDisconnected}, kinds)
	require.Equal(t, []string{"a", "b"}, payloads)
}

func TestConnectionNextCancelled(t *testing.T) {
	conn := NewConnection(1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := conn.Next(ctx)
	require.False(t, ok)
}

func TestConnectionDeliversEverythingInOrder(t *testing.T) {
	const total = 100
	conn := NewConnection(4, zap.NewNop())

	got := make(chan []Event, 1)
	go func() {
		var evs []Event
		for {
			ev, ok := conn.Next(context.Background())
			if !ok {
				got <- evs
				return
			}
			evs = append(evs, ev)
		}
	}()

	for i := 0; i < total; i++ {
		require.True(t, conn.Push(Event{Kind: EventReceived, Topic: fmt.Sprintf("t/%d", i)}))
	}
	conn.End(errors.New("EOF"))
	conn.End(nil)

	var evs []Event
	select {
	case evs = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}
	require.Len(t, evs, total+1)
	for i := 0; i < total; i++ {
		require.Equal(t, EventReceived, evs[i].Kind)
		require.Equal(t, fmt.Sprintf("t/%d", i), evs[i].Topic)
	}
	require.Equal(t, EventDisconnected, evs[total].Kind)
	require.EqualError(t, evs[total].Err, "EOF")
}

func TestConnectionEndWithFullBuffer(t *testing.T) {
	conn := NewConnection(1, zap.NewNop())
	require.True(t, conn.Push(Event{Kind: EventReceived, Topic: "a"}))

	// 缓冲已满, 阻塞中的 Push 在 End 后返回
	blocked := make(chan bool, 1)
	go func() { blocked <- conn.Push(Event{Kind: EventReceived, Topic: "b"}) }()
	time.Sleep(20 * time.Millisecond)
	conn.End(nil)
	require.False(t, <-blocked)
	require.False(t, conn.Push(Event{Kind: EventReceived, Topic: "late"}))

	ev, ok := conn.Next(context.Background())
	require.True(t, ok)
	require.Equal(t, "a", ev.Topic)
	ev, ok = conn.Next(context.Background())
	require.True(t, ok)
	require.Equal(t, EventDisconnected, ev.Kind)
	_, ok = conn.Next(context.Background())
	require.False(t, ok)
}
