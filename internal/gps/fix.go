package gps

import "errors"

// CoordScale converts decimal degrees into the integer units carried in Fix.
const CoordScale = 1e7

// ErrNoFixYet is returned by Source.ReadFix when no complete position report
// is available yet. It does not count as a sample.
var ErrNoFixYet = errors.New("gps: no fix yet")

// ErrNotStarted is returned by ReadFix while the receiver is powered down.
var ErrNotStarted = errors.New("gps: receiver not started")

// Fix is one position report from the receiver.
type Fix struct {
	Latitude   int32 `json:"lat"`     // degrees * CoordScale
	Longitude  int32 `json:"lon"`     // degrees * CoordScale
	Altitude   int16 `json:"alt"`     // meters above MSL
	Satellites uint8 `json:"sat"`     // satellites in use
	Quality    uint  `json:"quality"` // 0 = no fix, higher is better
}

// Source produces fixes. Start and Stop are idempotent power toggles.
type Source interface {
	Start() error
	Stop() error
	ReadFix() (Fix, error)
}
