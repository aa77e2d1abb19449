package radio

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// UplinkMessage is the network server's JSON shape for an uplink, as
// published on <prefix>/devices/<dev_id>/up.
type UplinkMessage struct {
	AppID      string         `json:"app_id,omitempty"`
	DevID      string         `json:"dev_id"`
	Port       uint8          `json:"port"`
	Counter    uint32         `json:"counter"`
	PayloadRaw []byte         `json:"payload_raw"` // base64 in JSON
	Metadata   UplinkMetadata `json:"metadata"`
}

type UplinkMetadata struct {
	Time time.Time `json:"time"`
}

// UplinkTopic returns the topic uplinks for devID are published on.
func UplinkTopic(prefix, devID string) string {
	return strings.TrimSuffix(prefix, "/") + "/devices/" + devID + "/up"
}

// MQTTClient is the subset of mqtt.Client used by MQTTLink.
type MQTTClient interface {
	IsConnected() bool
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTLink publishes uplinks straight to a broker, standing in for a gateway
// and network server on the bench. The frame counter lives in Store.
type MQTTLink struct {
	client  MQTTClient
	store   FileSessionStore
	prefix  string
	appID   string
	devID   string
	log     log.FieldLogger
	now     func() time.Time
	timeout time.Duration

	session Session
	joined  bool
	counter uint32
}

// NewMQTTLink creates a link. devID defaults to the session devaddr when empty.
func NewMQTTLink(client MQTTClient, store FileSessionStore, prefix, appID, devID string, logger log.FieldLogger) *MQTTLink {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &MQTTLink{
		client:  client,
		store:   store,
		prefix:  prefix,
		appID:   appID,
		devID:   devID,
		log:     logger,
		now:     time.Now,
		timeout: 10 * time.Second,
	}
}

func (l *MQTTLink) InitSession(s Session) error {
	l.session = s
	l.joined = false
	if l.devID == "" {
		l.devID = s.DevAddr
	}
	st, err := l.store.Load()
	if err != nil {
		return err
	}
	if st.DevAddr != "" && st.DevAddr != s.DevAddr {
		l.log.Warnf("radio: session file belongs to devaddr %s, starting counter at 0", st.DevAddr)
		st.FCntUp = 0
	}
	l.counter = st.FCntUp
	return nil
}

// Join connects to the broker. ABP needs no network round trip, so a
// connected client is a joined device.
func (l *MQTTLink) Join() error {
	if l.client.IsConnected() {
		l.joined = true
		return nil
	}
	if err := l.wait(l.client.Connect()); err != nil {
		l.joined = false
		return fmt.Errorf("radio: mqtt connect: %w", err)
	}
	l.joined = true
	return nil
}

func (l *MQTTLink) Send(payload []byte) error {
	if !l.joined {
		return ErrNotJoined
	}
	msg := UplinkMessage{
		AppID:      l.appID,
		DevID:      l.devID,
		Port:       l.session.Port,
		Counter:    l.counter,
		PayloadRaw: payload,
		Metadata:   UplinkMetadata{Time: l.now().UTC()},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("radio: encode uplink: %w", err)
	}
	if err := l.wait(l.client.Publish(UplinkTopic(l.prefix, l.devID), 1, false, b)); err != nil {
		return fmt.Errorf("radio: publish uplink: %w", err)
	}
	l.counter++
	return nil
}

func (l *MQTTLink) PersistSession() error {
	return l.store.Save(SessionState{
		DevAddr: l.session.DevAddr,
		FCntUp:  l.counter,
		SavedAt: l.now().UTC(),
	})
}

func (l *MQTTLink) UplinkCounter() uint32 { return l.counter }

func (l *MQTTLink) wait(t mqtt.Token) error {
	if !t.WaitTimeout(l.timeout) {
		return fmt.Errorf("timed out after %s", l.timeout)
	}
	return t.Error()
}
