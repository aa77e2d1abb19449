package gps

import (
	"math"
	"time"
)

// SimSource generates a slowly circling position for bench runs without a
// receiver. Reported quality restarts at 1 after every Start and rises by one
// per fix up to MaxQuality, like a receiver that needs a few reports to settle.
type SimSource struct {
	CenterLat  float64 // degrees
	CenterLon  float64 // degrees
	AltitudeM  int16
	Satellites uint8
	MaxQuality uint
	RadiusDeg  float64
	Period     time.Duration

	now     func() time.Time
	start   time.Time
	running bool
	quality uint
}

// NewSimSource creates a simulated receiver circling around lat/lon.
func NewSimSource(lat, lon float64) *SimSource {
	return &SimSource{
		CenterLat:  lat,
		CenterLon:  lon,
		AltitudeM:  350,
		Satellites: 7,
		MaxQuality: 2,
		RadiusDeg:  0.001,
		Period:     10 * time.Minute,
		now:        time.Now,
	}
}

func (s *SimSource) Start() error {
	if s.running {
		return nil
	}
	s.running = true
	s.quality = 0
	if s.start.IsZero() {
		s.start = s.now()
	}
	return nil
}

func (s *SimSource) Stop() error {
	s.running = false
	return nil
}

func (s *SimSource) ReadFix() (Fix, error) {
	if !s.running {
		return Fix{}, ErrNotStarted
	}
	var phase float64
	if s.Period > 0 {
		phase = 2 * math.Pi * s.now().Sub(s.start).Seconds() / s.Period.Seconds()
	}

	if s.quality < s.MaxQuality {
		s.quality++
	}
	return Fix{
		Latitude:   degreesToFixed(s.CenterLat + s.RadiusDeg*math.Sin(phase)),
		Longitude:  degreesToFixed(s.CenterLon + s.RadiusDeg*math.Cos(phase)),
		Altitude:   s.AltitudeM,
		Satellites: s.Satellites,
		Quality:    s.quality,
	}, nil
}
