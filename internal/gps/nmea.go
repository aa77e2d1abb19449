// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/board"
)

// PortOpener opens the receiver's serial port.
type PortOpener func() (io.ReadWriteCloser, error)

// NMEASource reads GGA sentences from a serial receiver. Start powers the
// receiver through its enable line and opens the port; Stop does the reverse.
type NMEASource struct {
	open   PortOpener
	enable board.Pin
	log    log.FieldLogger

	port    io.ReadWriteCloser
	reader  *bufio.Reader
	pending []byte
	running bool
}

// NewNMEASource creates a source. enable may be nil when the receiver is
// always powered.
func NewNMEASource(open PortOpener, enable board.Pin, logger log.FieldLogger) *NMEASource {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &NMEASource{open: open, enable: enable, log: logger}
}

func (s *NMEASource) Start() error {
	if s.running {
		return nil
	}
	if s.enable != nil {
		if err := s.enable.Set(true); err != nil {
			return fmt.Errorf("gps: enable receiver: %w", err)
		}
	}
	port, err := s.open()
	if err != nil {
		if s.enable != nil {
			_ = s.enable.Set(false)
		}
		return fmt.Errorf("gps: open port: %w", err)
	}
	s.port = port
	s.reader = bufio.NewReader(port)
	s.pending = s.pending[:0]
	s.running = true
	s.log.Debug("gps: receiver started")
	return nil
}

func (s *NMEASource) Stop() error {
	if !s.running {
		return nil
	}
	s.running = false
	var err error
	if s.port != nil {
		err = s.port.Close()
		s.port = nil
		s.reader = nil
	}
	if s.enable != nil {
		if perr := s.enable.Set(false); perr != nil && err == nil {
			err = perr
		}
	}
	s.log.Debug("gps: receiver stopped")
	if err != nil {
		return fmt.Errorf("gps: stop: %w", err)
	}
	return nil
}

// ReadFix reads at most one line from the receiver. Anything other than a
// checksummed GGA sentence yields ErrNoFixYet. A GGA sentence reporting no fix
// is still returned, with Quality 0.
func (s *NMEASource) ReadFix() (Fix, error) {
	if !s.running {
		return Fix{}, ErrNotStarted
	}

	chunk, err := s.reader.ReadString('\n')
	s.pending = append(s.pending, chunk...)
	if err != nil {
		// The port read timeout surfaces as EOF; keep the partial line.
		if errors.Is(err, io.EOF) {
			return Fix{}, ErrNoFixYet
		}
		return Fix{}, fmt.Errorf("gps: read: %w", err)
	}

	line := strings.TrimSpace(string(s.pending))
	s.pending = s.pending[:0]
	if !strings.HasPrefix(line, "$") {
		return Fix{}, ErrNoFixYet
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		if fix, ok := noFixGGA(line); ok {
			return fix, nil
		}
		s.log.Debugf("gps: nmea parse error: %v (line: %q)", err, line)
		return Fix{}, ErrNoFixYet
	}

	gga, ok := sentence.(nmea.GGA)
	if !ok {
		return Fix{}, ErrNoFixYet
	}
	return FixFromGGA(gga), nil
}

// FixFromGGA converts a GGA sentence into a Fix. Values outside the wire
// ranges are clamped.
func FixFromGGA(m nmea.GGA) Fix {
	quality, err := strconv.Atoi(strings.TrimSpace(m.FixQuality))
	if err != nil || quality < 0 {
		quality = 0
	}
	return Fix{
		Latitude:   degreesToFixed(m.Latitude),
		Longitude:  degreesToFixed(m.Longitude),
		Altitude:   int16(clamp(math.Round(m.Altitude), math.MinInt16, math.MaxInt16)),
		Satellites: uint8(clamp(float64(m.NumSatellites), 0, math.MaxUint8)),
		Quality:    uint(quality),
	}
}

// errBaseOnly stops the parser once the checksummed base sentence is known.
var errBaseOnly = errors.New("gps: base sentence only")

// noFixGGA recognizes GGA sentences whose empty position fields the parser
// rejects. They still count as a zero-quality sample.
func noFixGGA(line string) (Fix, bool) {
	var base nmea.BaseSentence
	p := nmea.SentenceParser{
		OnBaseSentence: func(s *nmea.BaseSentence) error {
			base = *s
			return errBaseOnly
		},
	}
	if _, err := p.Parse(line); !errors.Is(err, errBaseOnly) {
		return Fix{}, false
	}
	if base.Type != nmea.TypeGGA || len(base.Fields) < 7 {
		return Fix{}, false
	}
	q := strings.TrimSpace(base.Fields[5])
	if q != "" && q != nmea.Invalid {
		return Fix{}, false
	}
	sats, _ := strconv.Atoi(strings.TrimSpace(base.Fields[6]))
	return Fix{Satellites: uint8(clamp(float64(sats), 0, math.MaxUint8))}, true
}

func degreesToFixed(deg float64) int32 {
	return int32(clamp(math.Round(deg*CoordScale), math.MinInt32, math.MaxInt32))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
