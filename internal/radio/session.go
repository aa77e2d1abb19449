package radio

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Session holds the ABP provisioning of the device. Keys are kept as the
// lower-case hex strings the modem expects.
type Session struct {
	DevAddr  string
	NwkSKey  string
	AppSKey  string
	DataRate uint8
	Port     uint8
}

// ParseSession validates hex-encoded ABP keys, the data rate (0-15) and the
// application port (1-223).
func ParseSession(devAddr, nwkSKey, appSKey string, dataRate, port int) (Session, error) {
	var s Session
	var err error
	if s.DevAddr, err = hexField("devaddr", devAddr, 4); err != nil {
		return Session{}, err
	}
	if s.NwkSKey, err = hexField("nwkskey", nwkSKey, 16); err != nil {
		return Session{}, err
	}
	if s.AppSKey, err = hexField("appskey", appSKey, 16); err != nil {
		return Session{}, err
	}
	if dataRate < 0 || dataRate > 15 {
		return Session{}, fmt.Errorf("radio: data rate %d out of range 0-15", dataRate)
	}
	if port < 1 || port > 223 {
		return Session{}, fmt.Errorf("radio: port %d out of range 1-223", port)
	}
	s.DataRate = uint8(dataRate)
	s.Port = uint8(port)
	return s, nil
}

func hexField(name, v string, size int) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	b, err := hex.DecodeString(v)
	if err != nil {
		return "", fmt.Errorf("radio: %s: %w", name, err)
	}
	if len(b) != size {
		return "", fmt.Errorf("radio: %s must be %d hex digits, got %d", name, size*2, len(v))
	}
	return v, nil
}
