package status

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Publisher is the subset of mqtt.Client used to publish snapshots.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher publishes snapshots as retained JSON so late subscribers get
// the current state immediately.
type MQTTPublisher struct {
	client  Publisher
	topic   string
	log     log.FieldLogger
	timeout time.Duration
}

func NewMQTTPublisher(client Publisher, topic string, logger log.FieldLogger) *MQTTPublisher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &MQTTPublisher{client: client, topic: topic, log: logger, timeout: 2 * time.Second}
}

// Observe publishes s. Failures are logged and otherwise ignored.
func (p *MQTTPublisher) Observe(s Snapshot) {
	if err := p.Publish(s); err != nil {
		p.log.Warnf("status: %v", err)
	}
}

func (p *MQTTPublisher) Publish(s Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	t := p.client.Publish(p.topic, 0, true, b)
	if !t.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish %s: timed out", p.topic)
	}
	if err := t.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	return nil
}

// Subscriber is the subset of mqtt.Client used by Subscribe.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Subscribe feeds every snapshot published on topic into obs.
func Subscribe(client Subscriber, topic string, obs func(Snapshot), logger log.FieldLogger) error {
	if logger == nil {
		logger = log.StandardLogger()
	}
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		s, err := Decode(msg.Payload())
		if err != nil {
			logger.Warnf("status: %v", err)
			return
		}
		obs(s)
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("status: subscribe %s: %w", topic, err)
	}
	logger.Infof("status: subscribed to %s", topic)
	return nil
}

// Decode parses a snapshot published by MQTTPublisher.
func Decode(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}
