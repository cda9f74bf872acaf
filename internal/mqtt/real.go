package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/cell-monitor/internal/cell"
)

// bufferCapacity bounds the number of messages held while the broker is
// unreachable. State transitions are rare (minutes to hours apart), so a
// small buffer covers long outages.
const bufferCapacity = 64

// RealPublisher publishes to an actual MQTT broker, buffering messages
// while disconnected and replaying them on reconnect.
type RealPublisher struct {
	client      paho.Client
	eventTopic  string
	systemTopic string

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher creates a publisher connected to the given broker.
// The connection retries in the background; a broker outage at startup is
// not fatal, events are buffered until the link comes up.
func NewRealPublisher(broker, cellID string) *RealPublisher {
	p := &RealPublisher{
		eventTopic:  EventTopic(cellID),
		systemTopic: SystemTopic(cellID),
		buf:         newRingBuffer(bufferCapacity),
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("cell-monitor-" + cellID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(p.onConnect)

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

// onConnect drains the offline buffer in FIFO order.
func (p *RealPublisher) onConnect(client paho.Client) {
	p.mu.Lock()
	pending := p.buf.drainAll()
	p.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	logrus.Infof("mqtt: connected, replaying %d buffered messages", len(pending))
	for _, msg := range pending {
		token := client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(5 * time.Second) {
			logrus.Warn("mqtt: timeout replaying buffered message")
			return
		}
		if err := token.Error(); err != nil {
			logrus.Warnf("mqtt: replaying buffered message: %v", err)
		}
	}
}

// Publish sends a cell transition event to the MQTT broker.
func (p *RealPublisher) Publish(event cell.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.send(p.eventTopic, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.send(p.systemTopic, 1, event.Retained, payload)
}

func (p *RealPublisher) send(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnected() {
		p.mu.Lock()
		p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		buffered := p.buf.len()
		p.mu.Unlock()
		logrus.Debugf("mqtt: disconnected, buffered message (%d pending)", buffered)
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
