package integration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/muurk/vtobridge/internal/engine"
	"github.com/muurk/vtobridge/internal/logging"
	"go.uber.org/zap"
)

// MQTT topic suffixes under the configured prefix
const (
	TopicDoorbell     = "doorbell"
	TopicLock         = "lock"
	TopicTamper       = "tamper"
	TopicAvailability = "availability"
	TopicLockSet      = "lock/set"

	PayloadOnline  = "online"
	PayloadOffline = "offline"
	PayloadOn      = "ON"
	PayloadOff     = "OFF"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
	mqttCommandTimeout = 5 * time.Second
	mqttDisconnectWait = 250
	mqttQueueSize      = 32
)

// MQTTOptions configures the broker connection
type MQTTOptions struct {
	Broker      string
	TopicPrefix string
	Username    string
	Password    string
}

// DialMQTT connects to the broker with the availability topic as the will
func DialMQTT(opts MQTTOptions) (mqtt.Client, error) {
	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID("vto-bridge-" + uuid.NewString()[:8])
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectTimeout(mqttConnectTimeout)
	co.SetKeepAlive(30 * time.Second)
	co.SetWill(topic(opts.TopicPrefix, TopicAvailability), PayloadOffline, mqttQoS, true)

	co.SetOnConnectHandler(func(mqtt.Client) {
		logging.Info("MQTT client connected", zap.String("broker", opts.Broker))
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.Error("MQTT connection lost", zap.String("broker", opts.Broker), zap.Error(err))
	})

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", opts.Broker, err)
	}
	return client, nil
}

func topic(prefix, suffix string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + suffix
}

// MQTTBridge publishes retained state topics and accepts lock commands.
// Sink methods only queue; a bridge goroutine does the publishing so a
// stalled broker never holds up the engine.
type MQTTBridge struct {
	client mqtt.Client
	prefix string

	queue    chan mqttMessage
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

type mqttMessage struct {
	topic   string
	payload string
}

// NewMQTTBridge wraps a connected client and starts its publisher
func NewMQTTBridge(client mqtt.Client, prefix string) *MQTTBridge {
	b := &MQTTBridge{
		client:  client,
		prefix:  prefix,
		queue:   make(chan mqttMessage, mqttQueueSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go b.drain()
	return b
}

// publish queues a retained state update, dropping it when the queue is full
func (b *MQTTBridge) publish(suffix, payload string) {
	msg := mqttMessage{topic: topic(b.prefix, suffix), payload: payload}
	select {
	case b.queue <- msg:
	default:
		logging.Warn("MQTT publish queue full, dropping state update",
			zap.String("topic", msg.topic),
			zap.String("payload", payload))
	}
}

func (b *MQTTBridge) drain() {
	defer close(b.stopped)
	for {
		select {
		case msg := <-b.queue:
			b.send(msg)
		case <-b.stop:
			for {
				select {
				case msg := <-b.queue:
					b.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (b *MQTTBridge) send(msg mqttMessage) {
	token := b.client.Publish(msg.topic, mqttQoS, true, msg.payload)
	if !token.WaitTimeout(mqttConnectTimeout) {
		logging.Warn("MQTT publish timed out", zap.String("topic", msg.topic))
		return
	}
	if err := token.Error(); err != nil {
		logging.Warn("MQTT publish failed", zap.String("topic", msg.topic), zap.Error(err))
	}
}

// flush stops the publisher after it has sent everything queued
func (b *MQTTBridge) flush() {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.stopped
}

func (b *MQTTBridge) DoorbellChanged(state engine.DoorbellState) {
	b.publish(TopicDoorbell, state.String())
}

func (b *MQTTBridge) LockChanged(state engine.LockState) {
	b.publish(TopicLock, strings.ToUpper(state.String()))
}

func (b *MQTTBridge) TamperChanged(active bool) {
	if active {
		b.publish(TopicTamper, PayloadOn)
		return
	}
	b.publish(TopicTamper, PayloadOff)
}

func (b *MQTTBridge) LinkChanged(up bool) {
	if up {
		b.publish(TopicAvailability, PayloadOnline)
		return
	}
	b.publish(TopicAvailability, PayloadOffline)
}

// Start subscribes to the lock command topic until ctx is done
func (b *MQTTBridge) Start(ctx context.Context, cmd engine.Commander) error {
	t := topic(b.prefix, TopicLockSet)
	token := b.client.Subscribe(t, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
		b.handleCommand(ctx, cmd, msg)
	})
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("timed out subscribing to %s", t)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", t, err)
	}
	logging.Info("Listening for MQTT lock commands", zap.String("topic", t))

	go func() {
		<-ctx.Done()
		b.client.Unsubscribe(t)
		b.flush()
		b.client.Publish(topic(b.prefix, TopicAvailability), mqttQoS, true, PayloadOffline).WaitTimeout(time.Second)
		b.client.Disconnect(mqttDisconnectWait)
	}()
	return nil
}

func (b *MQTTBridge) handleCommand(ctx context.Context, cmd engine.Commander, msg mqtt.Message) {
	command := strings.ToUpper(strings.TrimSpace(string(msg.Payload())))

	ctx, cancel := context.WithTimeout(ctx, mqttCommandTimeout)
	defer cancel()

	var err error
	switch command {
	case "OPEN", "UNLOCK":
		err = cmd.OpenDoor(ctx)
	case "CLOSE", "LOCK":
		err = cmd.CloseDoor(ctx)
	default:
		logging.Warn("Ignoring unknown MQTT lock command",
			zap.String("topic", msg.Topic()),
			zap.String("payload", command))
		return
	}

	if err != nil {
		logging.Error("MQTT lock command failed", zap.String("command", command), zap.Error(err))
		return
	}
	logging.Info("MQTT lock command sent", zap.String("command", command))
}

var _ engine.Sink = (*MQTTBridge)(nil)
