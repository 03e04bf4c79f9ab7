package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dockflow/core/factory"
	"github.com/kilianp07/dockflow/core/model"
	corenotify "github.com/kilianp07/dockflow/core/notify"
)

type mockToken struct{ err error }

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *mockToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type mockClient struct {
	mu         sync.Mutex
	opts       *paho.ClientOptions
	failFirst  int
	published  []published
	attempts   int
	connected  bool
	disconnect int
}

func (m *mockClient) IsConnected() bool { return m.connected }
func (m *mockClient) Connect() paho.Token {
	m.connected = true
	return &mockToken{}
}
func (m *mockClient) Disconnect(uint) { m.disconnect++ }
func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.attempts <= m.failFirst {
		return &mockToken{err: errors.New("not connected")}
	}
	m.published = append(m.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return &mockToken{}
}

func withMockClient(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() {
		newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) }
	})
}

func sampleMessage() corenotify.Message {
	start := time.Date(2025, 9, 1, 8, 15, 0, 0, time.UTC)
	r := model.NewStageReport(model.StageRebalance, start)
	r.Written, r.BikesMoved = 1, 8
	return corenotify.Message{
		RunID:  "run-1",
		Report: r,
		Jobs:   []model.RebalancingJob{{ID: "j1", FromStationID: "A", ToStationID: "B", BikesToMove: 8}},
	}
}

func TestMQTTNotifier_Publish(t *testing.T) {
	mc := &mockClient{}
	withMockClient(t, mc)
	n, err := NewMQTTNotifier(MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p", QoS: 1})
	require.NoError(t, err)
	assert.Equal(t, "u", mc.opts.Username)

	require.NoError(t, n.Notify(context.Background(), sampleMessage()))
	require.Len(t, mc.published, 1)
	assert.Equal(t, "dockflow/pipeline/rebalance", mc.published[0].topic)
	assert.Equal(t, byte(1), mc.published[0].qos)

	var got corenotify.Message
	require.NoError(t, json.Unmarshal(mc.published[0].payload, &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 8, got.Jobs[0].BikesToMove)

	require.NoError(t, n.Close())
	assert.Equal(t, 1, mc.disconnect)
}

func TestMQTTNotifier_Retry(t *testing.T) {
	mc := &mockClient{failFirst: 2}
	withMockClient(t, mc)
	n, err := NewMQTTNotifier(MQTTConfig{Broker: "tcp://localhost:1883", TopicPrefix: "ops/", Backoff: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), sampleMessage()))
	assert.Equal(t, 3, mc.attempts)
	assert.Equal(t, "ops/rebalance", mc.published[0].topic)

	always := &mockClient{failFirst: 100}
	withMockClient(t, always)
	n, err = NewMQTTNotifier(MQTTConfig{Broker: "tcp://localhost:1883", MaxRetries: 1, Backoff: time.Millisecond})
	require.NoError(t, err)
	assert.Error(t, n.Notify(context.Background(), sampleMessage()))
	assert.Equal(t, 2, always.attempts)
}

func TestMQTTConfigRequiresBroker(t *testing.T) {
	_, err := NewMQTTNotifier(MQTTConfig{})
	assert.Error(t, err)
	_, err = newClientOptions(MQTTConfig{Broker: "ssl://b:8883", UseTLS: true})
	assert.Error(t, err, "tls without a CA bundle must fail")
}

type fakeRedis struct {
	channel string
	payload []byte
	err     error
	closed  bool
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisNotifier(t *testing.T) {
	fr := &fakeRedis{}
	n := newRedisNotifier(fr, "")
	require.NoError(t, n.Notify(context.Background(), sampleMessage()))
	assert.Equal(t, "dockflow:pipeline:rebalance", fr.channel)
	assert.Contains(t, string(fr.payload), `"bikes_to_move":8`)
	require.NoError(t, n.Close())
	assert.True(t, fr.closed)

	failing := newRedisNotifier(&fakeRedis{err: errors.New("READONLY")}, "ops")
	err := failing.Notify(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ops:rebalance")
}

func TestFactoryRegistersBuiltins(t *testing.T) {
	mc := &mockClient{}
	withMockClient(t, mc)
	n, err := corenotify.New([]factory.ModuleConfig{{Type: "mqtt", Conf: map[string]any{
		"broker":  "tcp://localhost:1883",
		"timeout": "2s",
	}}})
	require.NoError(t, err)
	_, ok := n.(*MQTTNotifier)
	assert.True(t, ok, "expected MQTTNotifier, got %T", n)

	_, err = corenotify.New([]factory.ModuleConfig{{Type: "redis", Conf: map[string]any{"url": "not a url"}}})
	assert.Error(t, err)
}
