package status

import (
	"errors"
	"io"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gps_tracker/internal/gps"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	mqtt.Message
	payload []byte
}

func (m fakeMessage) Payload() []byte { return m.payload }

type fakeBroker struct {
	retained map[string][]byte
	handlers map[string]mqtt.MessageHandler
	err      error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{retained: map[string][]byte{}, handlers: map[string]mqtt.MessageHandler{}}
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if b.err != nil {
		return &fakeToken{err: b.err}
	}
	if retained {
		b.retained[topic] = payload.([]byte)
	}
	if h, ok := b.handlers[topic]; ok {
		h(nil, fakeMessage{payload: payload.([]byte)})
	}
	return &fakeToken{}
}

func (b *fakeBroker) Subscribe(topic string, qos byte, h mqtt.MessageHandler) mqtt.Token {
	b.handlers[topic] = h
	return &fakeToken{}
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPublishAndSubscribe(t *testing.T) {
	broker := newFakeBroker()
	store := NewStore()
	require.NoError(t, Subscribe(broker, "tracker/status", store.Observe, quietLogger()))

	pub := NewMQTTPublisher(broker, "tracker/status", quietLogger())
	want := Snapshot{
		Time:          time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		Phase:         PhaseSleeping,
		State:         "ready",
		Fix:           gps.Fix{Latitude: 474000000, Longitude: 85700000, Altitude: 350, Satellites: 7, Quality: 2},
		HaveFix:       true,
		UplinkCounter: 3,
		Uplinks:       3,
	}
	pub.Observe(want)

	assert.Contains(t, broker.retained, "tracker/status")
	got, ok := store.Latest()
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestPublish_Error(t *testing.T) {
	broker := newFakeBroker()
	broker.err = errors.New("not connected")
	pub := NewMQTTPublisher(broker, "tracker/status", quietLogger())

	assert.Error(t, pub.Publish(Snapshot{}))
	pub.Observe(Snapshot{})
}

func TestSubscribe_IgnoresGarbage(t *testing.T) {
	broker := newFakeBroker()
	store := NewStore()
	require.NoError(t, Subscribe(broker, "s", store.Observe, quietLogger()))

	broker.Publish("s", 0, false, []byte("{not json"))
	_, ok := store.Latest()
	assert.False(t, ok)
}

func TestStore_Subscribe(t *testing.T) {
	store := NewStore()
	_, ok := store.Latest()
	assert.False(t, ok)

	ch, cancel := store.Subscribe()
	store.Observe(Snapshot{Phase: PhaseSearching, Count: 1})

	select {
	case s := <-ch:
		assert.Equal(t, uint(1), s.Count)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	store.Observe(Snapshot{Count: 2})
	latest, _ := store.Latest()
	assert.Equal(t, uint(2), latest.Count)
}

func TestStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	store := NewStore()
	_, cancel := store.Subscribe()
	defer cancel()

	for i := 0; i < 100; i++ {
		store.Observe(Snapshot{Count: uint(i)})
	}
	latest, _ := store.Latest()
	assert.Equal(t, uint(99), latest.Count)
}
