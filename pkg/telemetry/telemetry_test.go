package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crane-go/pkg/crane"
	"crane-go/pkg/session"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	mu           sync.Mutex
	connected    bool
	token        func() mqtt.Token
	messages     []published
	disconnected bool
}

func (c *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, retained: retained, payload: payload.([]byte)})
	if c.token != nil {
		return c.token()
	}
	return completedToken(nil)
}

func (c *fakeMQTT) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeMQTT) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]interface{}
	ttls    map[string]time.Duration
	setErr  error
	deleted []string
	closed  bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]interface{}{}, ttls: map[string]time.Duration{}}
}

func (r *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setErr != nil {
		return redis.NewStatusResult("", r.setErr)
	}
	r.values[key] = value
	r.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (r *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		delete(r.values, k)
	}
	r.deleted = append(r.deleted, keys...)
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (r *fakeRedis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type countingRecorder struct {
	mu     sync.Mutex
	sent   map[string]int
	failed map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{sent: map[string]int{}, failed: map[string]int{}}
}

func (r *countingRecorder) SnapshotSent(sink string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[sink]++
}

func (r *countingRecorder) PublishFailed(sink string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[sink]++
}

func testSnapshot() session.Snapshot {
	return session.Snapshot{
		Status:      session.StatusMoving,
		CraneState:  crane.JointState{Swing: 10, Lift: 1},
		XYZPosition: crane.CartesianPosition{X: 1.5, Y: 0.5},
		Success:     true,
	}
}

func TestFanoutDeliversToEverySink(t *testing.T) {
	client := &fakeMQTT{connected: true}
	rdb := newFakeRedis()
	rec := newCountingRecorder()

	f := NewFanout([]Sink{
		NewMQTTPublisherWithClient(client, MQTTConfig{Topic: "crane/snapshots"}),
		NewRedisCacheWithClient(rdb, RedisConfig{Key: "crane:snapshot", TTL: time.Minute}),
	}, FanoutConfig{Recorder: rec})
	assert.Equal(t, []string{"mqtt", "redis"}, f.Sinks())

	f.Listen("abc", testSnapshot())
	f.Listen("abc", testSnapshot())
	require.NoError(t, f.Close())

	require.Len(t, client.messages, 2)
	assert.Equal(t, "crane/snapshots/abc", client.messages[0].topic)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(client.messages[0].payload, &got))
	assert.Equal(t, "MOVING", got["status"])
	assert.Contains(t, got, "craneState")
	assert.Contains(t, got, "xyzPosition")

	assert.Contains(t, rdb.values, "crane:snapshot:abc")
	assert.Equal(t, time.Minute, rdb.ttls["crane:snapshot:abc"])

	assert.Equal(t, 2, rec.sent["mqtt"])
	assert.Equal(t, 2, rec.sent["redis"])
	assert.True(t, client.disconnected)
	assert.True(t, rdb.closed)
}

func TestFanoutRecordsFailures(t *testing.T) {
	client := &fakeMQTT{connected: false}
	rdb := newFakeRedis()
	rdb.setErr = pkgerrors.New("READONLY")
	rec := newCountingRecorder()

	f := NewFanout([]Sink{
		NewMQTTPublisherWithClient(client, MQTTConfig{Topic: "t"}),
		NewRedisCacheWithClient(rdb, RedisConfig{Key: "k"}),
	}, FanoutConfig{Recorder: rec})
	f.Listen("s1", testSnapshot())
	require.NoError(t, f.Close())

	assert.Empty(t, client.messages, "nothing is published while disconnected")
	assert.Equal(t, 1, rec.failed["mqtt"])
	assert.Equal(t, 1, rec.failed["redis"])
	assert.Zero(t, rec.sent["redis"])
}

type gateSink struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gateSink) Name() string { return "gate" }

func (s *gateSink) Publish(_ context.Context, _ string, _ []byte) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return nil
}

func (s *gateSink) Close() error { return nil }

func TestFanoutDropsWhenQueueFull(t *testing.T) {
	sink := &gateSink{entered: make(chan struct{}), release: make(chan struct{})}
	rec := newCountingRecorder()
	f := NewFanout([]Sink{sink}, FanoutConfig{QueueSize: 1, Recorder: rec})

	f.Listen("s", testSnapshot())
	<-sink.entered

	done := make(chan struct{})
	go func() {
		// The worker is blocked: one snapshot fills the queue, the next drops.
		f.Listen("s", testSnapshot())
		f.Listen("s", testSnapshot())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Listen blocked on a full queue")
	}

	close(sink.release)
	require.NoError(t, f.Close())
	assert.Equal(t, 1, rec.failed[queueSink])
	assert.Equal(t, 2, rec.sent["gate"])
}

func TestFanoutForget(t *testing.T) {
	client := &fakeMQTT{connected: true}
	rdb := newFakeRedis()
	f := NewFanout([]Sink{
		NewMQTTPublisherWithClient(client, MQTTConfig{Topic: "t", Retained: true, QoS: 1}),
		NewRedisCacheWithClient(rdb, RedisConfig{Key: "k"}),
	}, FanoutConfig{})

	f.Listen("s", testSnapshot())
	f.Forget("s")
	require.NoError(t, f.Close())

	assert.Equal(t, []string{"k:s"}, rdb.deleted)
	assert.NotContains(t, rdb.values, "k:s")
	require.Len(t, client.messages, 2)
	assert.True(t, client.messages[1].retained)
	assert.Empty(t, client.messages[1].payload, "an empty retained message clears the topic")
}

func TestFanoutIgnoresListenAfterClose(t *testing.T) {
	rdb := newFakeRedis()
	f := NewFanout([]Sink{NewRedisCacheWithClient(rdb, RedisConfig{Key: "k"})}, FanoutConfig{})
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	f.Listen("s", testSnapshot())
	assert.Empty(t, rdb.values)
}

func TestMQTTPublishHonoursContext(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	client := &fakeMQTT{connected: true, token: func() mqtt.Token { return pending }}
	p := NewMQTTPublisherWithClient(client, MQTTConfig{Topic: "t", QoS: 7})
	assert.Equal(t, byte(2), p.qos)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Publish(ctx, "s", []byte("{}"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMQTTPublishTokenError(t *testing.T) {
	client := &fakeMQTT{connected: true, token: func() mqtt.Token { return completedToken(pkgerrors.New("not authorized")) }}
	p := NewMQTTPublisherWithClient(client, MQTTConfig{Topic: "t"})
	err := p.Publish(context.Background(), "s", []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
	assert.Contains(t, err.Error(), "t/s")
}

func TestNonRetainedForgetIsNoop(t *testing.T) {
	client := &fakeMQTT{connected: true}
	p := NewMQTTPublisherWithClient(client, MQTTConfig{Topic: "t"})
	require.NoError(t, p.Forget(context.Background(), "s"))
	assert.Empty(t, client.messages)
}
