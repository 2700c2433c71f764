package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeCommander struct {
	mu     sync.Mutex
	opens  int
	closes int
	err    error
}

func (c *fakeCommander) OpenDoor(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	return c.err
}

func (c *fakeCommander) CloseDoor(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return c.err
}

func (c *fakeCommander) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens, c.closes
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type publishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

// fakeMQTT implements the parts of mqtt.Client the bridge uses
type fakeMQTT struct {
	mqtt.Client

	mu           sync.Mutex
	published    []publishedMessage
	handlers     map[string]mqtt.MessageHandler
	disconnected bool

	// gate, when set, holds every Publish until it is closed
	gate chan struct{}
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var body string
	switch p := payload.(type) {
	case string:
		body = p
	case []byte:
		body = string(p)
	}
	c.published = append(c.published, publishedMessage{topic: topic, qos: qos, retained: retained, payload: body})
	return newFakeToken(nil)
}

func (c *fakeMQTT) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = cb
	return newFakeToken(nil)
}

func (c *fakeMQTT) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return newFakeToken(nil)
}

func (c *fakeMQTT) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeMQTT) deliver(topic, payload string) bool {
	c.mu.Lock()
	cb, ok := c.handlers[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	cb(c, &fakeMessage{topic: topic, payload: []byte(payload)})
	return true
}

// waitForMessages polls until at least n messages were published
func (c *fakeMQTT) waitForMessages(t *testing.T, n int) []publishedMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := c.messages()
		if len(msgs) >= n {
			return msgs
		}
		if time.Now().After(deadline) {
			t.Fatalf("published %d messages, want %d: %+v", len(msgs), n, msgs)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (c *fakeMQTT) messages() []publishedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publishedMessage(nil), c.published...)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}
