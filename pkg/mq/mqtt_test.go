package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done     chan struct{}
	err      error
	complete bool
}

func newFakeToken(complete bool, err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err, complete: complete}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	return t.complete
}

func (t *fakeToken) WaitTimeout(time.Duration) bool {
	return t.complete
}

func (t *fakeToken) Done() <-chan struct{} {
	return t.done
}

func (t *fakeToken) Error() error {
	return t.err
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	published    []published
	token        *fakeToken
	disconnected bool
}

func (c *fakeClient) IsConnected() bool {
	return true
}

func (c *fakeClient) IsConnectionOpen() bool {
	return true
}

func (c *fakeClient) Connect() mqtt.Token {
	return newFakeToken(true, nil)
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return c.token
}

func (c *fakeClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return newFakeToken(true, nil)
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return newFakeToken(true, nil)
}

func (c *fakeClient) Unsubscribe(...string) mqtt.Token {
	return newFakeToken(true, nil)
}

func (c *fakeClient) AddRoute(string, mqtt.MessageHandler) {}

func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func TestMQTTPublish(t *testing.T) {
	client := &fakeClient{token: newFakeToken(true, nil)}
	p := newMQTTPublisher(client, MQTTConfig{TopicPrefix: "emotion/analysis/", QoS: 1})

	require.NoError(t, p.Publish(context.Background(), "ana/b", []byte(`{"x":1}`)))

	require.Len(t, client.published, 1)
	assert.Equal(t, "emotion/analysis/ana_b", client.published[0].topic)
	assert.Equal(t, byte(1), client.published[0].qos)
	assert.Equal(t, []byte(`{"x":1}`), client.published[0].payload)

	require.NoError(t, p.Close())
	assert.True(t, client.disconnected)
}

func TestMQTTPublishError(t *testing.T) {
	client := &fakeClient{token: newFakeToken(true, errors.New("not authorized"))}
	p := newMQTTPublisher(client, MQTTConfig{TopicPrefix: "t/"})

	err := p.Publish(context.Background(), "ana", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
}

func TestMQTTPublishTimeout(t *testing.T) {
	client := &fakeClient{token: newFakeToken(false, nil)}
	p := newMQTTPublisher(client, MQTTConfig{TopicPrefix: "t/", PublishTimeout: time.Millisecond})

	err := p.Publish(context.Background(), "ana", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestMockPublisherRecords(t *testing.T) {
	mock := &MockPublisher{}

	require.NoError(t, mock.Publish(context.Background(), "ana", []byte("a")))
	assert.Equal(t, []Message{{Key: "ana", Payload: []byte("a")}}, mock.Messages())

	mock.PublishFunc = func(ctx context.Context, key string, payload []byte) error {
		return errors.New("down")
	}
	assert.Error(t, mock.Publish(context.Background(), "bob", nil))
	assert.Len(t, mock.Messages(), 1)
}
