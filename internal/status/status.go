// Package status carries the tracker's live state to consumers: the MQTT
// status topic, the web server and the OLED display.
package status

import (
	"sync"
	"time"

	"github.com/relabs-tech/gps_tracker/internal/gps"
)

// Phase names reported in Snapshot.Phase.
const (
	PhaseStarting  = "starting"
	PhaseSearching = "searching"
	PhaseSending   = "sending"
	PhaseSleeping  = "sleeping"
)

// Snapshot is published once per loop event.
type Snapshot struct {
	Time          time.Time `json:"time"`
	Phase         string    `json:"phase"`
	State         string    `json:"state"` // last accumulator state
	Score         uint      `json:"score"`
	Count         uint      `json:"count"`
	Fix           gps.Fix   `json:"fix"`
	HaveFix       bool      `json:"have_fix"`
	Joined        bool      `json:"joined"`
	UplinkCounter uint32    `json:"uplink_counter"`
	Uplinks       uint64    `json:"uplinks"`
	SendFailures  uint64    `json:"send_failures"`
	Timeouts      uint64    `json:"timeouts"`
	LastPayload   string    `json:"last_payload,omitempty"` // hex
	LastError     string    `json:"last_error,omitempty"`
}

// Store keeps the latest snapshot for readers in other goroutines.
type Store struct {
	mu     sync.RWMutex
	latest Snapshot
	have   bool
	subs   map[chan Snapshot]struct{}
}

func NewStore() *Store {
	return &Store{subs: make(map[chan Snapshot]struct{})}
}

// Observe records s and hands it to every subscriber. Slow subscribers
// miss snapshots rather than block the caller.
func (st *Store) Observe(s Snapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.latest = s
	st.have = true
	for ch := range st.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Latest returns the last snapshot and whether one has been seen.
func (st *Store) Latest() (Snapshot, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.latest, st.have
}

// Subscribe returns a channel of future snapshots and a cancel func that
// closes it.
func (st *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 4)
	st.mu.Lock()
	st.subs[ch] = struct{}{}
	st.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			st.mu.Lock()
			delete(st.subs, ch)
			st.mu.Unlock()
			close(ch)
		})
	}
}
