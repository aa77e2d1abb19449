package gps

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X\r\n", payload, ck)
}

type step struct {
	data string
	err  error
}

// scriptedPort hands out one step per Read call and reports EOF when drained,
// which is how the serial driver surfaces a read timeout.
type scriptedPort struct {
	steps  []step
	closed bool
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if len(p.steps) == 0 {
		return 0, io.EOF
	}
	st := p.steps[0]
	p.steps = p.steps[1:]
	return copy(b, st.data), st.err
}

func (p *scriptedPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *scriptedPort) Close() error {
	p.closed = true
	return nil
}

type fakePin struct {
	on   bool
	sets []bool
}

func (p *fakePin) Set(on bool) error {
	p.on = on
	p.sets = append(p.sets, on)
	return nil
}

func (p *fakePin) Close() error { return nil }

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestSource(t *testing.T, steps ...step) (*NMEASource, *scriptedPort, *fakePin) {
	t.Helper()
	port := &scriptedPort{steps: steps}
	pin := &fakePin{}
	src := NewNMEASource(func() (io.ReadWriteCloser, error) { return port, nil }, pin, quietLogger())
	require.NoError(t, src.Start())
	return src, port, pin
}

const ggaMunich = "GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"

func TestNMEASource_ReadsGGA(t *testing.T) {
	src, _, _ := newTestSource(t, step{data: nmeaLine(ggaMunich)})

	fix, err := src.ReadFix()
	require.NoError(t, err)

	assert.InDelta(t, 481173000, fix.Latitude, 1)
	assert.InDelta(t, 115166667, fix.Longitude, 1)
	assert.Equal(t, int16(545), fix.Altitude)
	assert.Equal(t, uint8(8), fix.Satellites)
	assert.Equal(t, uint(1), fix.Quality)
}

func TestNMEASource_NoFixGGACountsAsZeroQuality(t *testing.T) {
	src, _, _ := newTestSource(t, step{data: nmeaLine("GPGGA,123519,,,,,0,00,,,M,,M,,")})

	fix, err := src.ReadFix()
	require.NoError(t, err)
	assert.Zero(t, fix.Quality)
}

func TestNMEASource_OtherSentencesAreNotFixes(t *testing.T) {
	src, _, _ := newTestSource(t,
		step{data: nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")},
		step{data: "garbage line\r\n"},
		step{data: "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*00\r\n"},
	)

	for i := 0; i < 3; i++ {
		_, err := src.ReadFix()
		assert.ErrorIs(t, err, ErrNoFixYet, "line %d", i)
	}
}

func TestNMEASource_TimeoutKeepsPartialLine(t *testing.T) {
	line := nmeaLine(ggaMunich)
	src, _, _ := newTestSource(t,
		step{data: line[:20]},
		step{err: io.EOF},
		step{data: line[20:]},
	)

	_, err := src.ReadFix()
	require.ErrorIs(t, err, ErrNoFixYet)

	fix, err := src.ReadFix()
	require.NoError(t, err)
	assert.Equal(t, uint(1), fix.Quality)
}

func TestNMEASource_ReadErrorIsWrapped(t *testing.T) {
	boom := errors.New("device gone")
	src, _, _ := newTestSource(t, step{err: boom})

	_, err := src.ReadFix()
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoFixYet)
}

func TestNMEASource_StartStopAreIdempotent(t *testing.T) {
	opens := 0
	port := &scriptedPort{}
	pin := &fakePin{}
	src := NewNMEASource(func() (io.ReadWriteCloser, error) {
		opens++
		return port, nil
	}, pin, quietLogger())

	_, err := src.ReadFix()
	require.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, src.Start())
	require.NoError(t, src.Start())
	assert.Equal(t, 1, opens)
	assert.True(t, pin.on)

	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop())
	assert.True(t, port.closed)
	assert.False(t, pin.on)
	assert.Equal(t, []bool{true, false}, pin.sets)
}

func TestNMEASource_OpenFailurePowersDown(t *testing.T) {
	pin := &fakePin{}
	src := NewNMEASource(func() (io.ReadWriteCloser, error) {
		return nil, errors.New("no such device")
	}, pin, quietLogger())

	err := src.Start()
	require.Error(t, err)
	assert.False(t, pin.on)

	_, err = src.ReadFix()
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestSimSource_QualityRamps(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := NewSimSource(47.4, 8.57)
	src.now = func() time.Time { return now }
	src.MaxQuality = 3

	_, err := src.ReadFix()
	require.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, src.Start())
	var got []uint
	for i := 0; i < 5; i++ {
		fix, err := src.ReadFix()
		require.NoError(t, err)
		got = append(got, fix.Quality)
	}
	assert.Equal(t, []uint{1, 2, 3, 3, 3}, got)

	require.NoError(t, src.Stop())
	require.NoError(t, src.Start())
	fix, err := src.ReadFix()
	require.NoError(t, err)
	assert.Equal(t, uint(1), fix.Quality)
	assert.InDelta(t, 474000000, fix.Latitude, 1)
	assert.InDelta(t, 85710000, fix.Longitude, 1)
}
