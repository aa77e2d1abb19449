// Package radio provides the LoRaWAN uplink used by the tracker.
//
// The MAC layer lives in the radio modem firmware; this package only drives
// it. Two links exist: ModemLink talks to an RN2483 over a UART, MQTTLink
// publishes uplinks in the network server's JSON shape for bench setups
// without a gateway.
package radio

import "errors"

var (
	// ErrNotJoined is returned when the link has no active session.
	ErrNotJoined = errors.New("radio: not joined")
	// ErrModem wraps unexpected replies from the modem.
	ErrModem = errors.New("radio: modem error")
)

// Link is a LoRaWAN uplink with a pre-provisioned (ABP) session.
type Link interface {
	InitSession(Session) error
	Join() error
	Send(payload []byte) error
	PersistSession() error
	UplinkCounter() uint32
}
