package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

type staticTokens string

func (s staticTokens) AccessToken(context.Context) (string, error) { return string(s), nil }

type sensorServer struct {
	mu     sync.Mutex
	bodies []Location
	auth   []string
	status int
}

func (s *sensorServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var loc Location
	_ = json.NewDecoder(r.Body).Decode(&loc)
	s.bodies = append(s.bodies, loc)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// uplinkJSON carries the payload 1C 45 AA C0 05 18 C8 6C 01 5E 07.
const uplinkJSON = `{"app_id":"fleet","dev_id":"tracker-1","port":2,"counter":7,` +
	`"payload_raw":"HEWqwAUYyGwBXgc=","metadata":{"time":"2026-03-01T12:00:00Z"}}`

func newTestHandler(t *testing.T, srv *httptest.Server) *Handler {
	t.Helper()
	raw, err := NewRawLog(t.TempDir(), "%Y%m%d_proxy.log")
	require.NoError(t, err)
	return &Handler{
		Datastreams: map[string]Datastream{
			"tracker-1": {Name: "Tracker One", URL: srv.URL + "/Datastreams(1)/Locations"},
		},
		CoordScale: 1e7,
		Tokens:     staticTokens("at-1"),
		RawLog:     raw,
		HTTP:       srv.Client(),
		Log:        quietLogger(),
	}
}

func TestHandleUplink_PostsLocation(t *testing.T) {
	sensors := &sensorServer{}
	srv := httptest.NewServer(sensors)
	defer srv.Close()
	h := newTestHandler(t, srv)

	require.NoError(t, h.HandleUplink(context.Background(), []byte(uplinkJSON)))

	require.Len(t, sensors.bodies, 1)
	loc := sensors.bodies[0]
	assert.Equal(t, "Tracker One", loc.Name)
	assert.Equal(t, "application/vnd.geo+json", loc.EncodingType)
	assert.Equal(t, "Point", loc.Location.Geometry.Type)
	assert.InDelta(t, 8.5510252, loc.Location.Geometry.Coordinates[0], 1e-9)
	assert.InDelta(t, 47.4327744, loc.Location.Geometry.Coordinates[1], 1e-9)
	assert.Equal(t, "Bearer at-1", sensors.auth[0])

	logged, err := os.ReadFile(h.RawLog.Path())
	require.NoError(t, err)
	assert.Equal(t, uplinkJSON+"\n", string(logged))
}

func TestHandleUplink_UnknownDeviceIsSkipped(t *testing.T) {
	sensors := &sensorServer{}
	srv := httptest.NewServer(sensors)
	defer srv.Close()
	h := newTestHandler(t, srv)

	msg := strings.Replace(uplinkJSON, "tracker-1", "stranger", 1)
	require.NoError(t, h.HandleUplink(context.Background(), []byte(msg)))
	assert.Empty(t, sensors.bodies)
}

func TestHandleUplink_Errors(t *testing.T) {
	sensors := &sensorServer{status: http.StatusUnauthorized}
	srv := httptest.NewServer(sensors)
	defer srv.Close()
	h := newTestHandler(t, srv)

	assert.Error(t, h.HandleUplink(context.Background(), []byte(uplinkJSON)), "rejected post")
	assert.Error(t, h.HandleUplink(context.Background(), []byte("{")), "bad json")

	short := strings.Replace(uplinkJSON, "HEWqwAUYyGwBXgc=", "HEWq", 1)
	assert.Error(t, h.HandleUplink(context.Background(), []byte(short)), "short payload")
}

func TestDecode_Scale(t *testing.T) {
	h := &Handler{CoordScale: 1e6}
	pos, err := h.Decode([]byte(uplinkJSON))
	require.NoError(t, err)
	assert.Equal(t, "tracker-1", pos.DevID)
	assert.InDelta(t, 474.327744, pos.Latitude, 1e-9)
	assert.Equal(t, int16(350), pos.Altitude)
	assert.Equal(t, uint8(7), pos.Satellites)
}

func TestLoadDatastreams(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "ds.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"tracker-1":{"name":"One","url":"http://x/1"}}`), 0o644))
	ds, err := LoadDatastreams(good)
	require.NoError(t, err)
	assert.Equal(t, "http://x/1", ds["tracker-1"].URL)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"tracker-1":{"name":"One"}}`), 0o644))
	_, err = LoadDatastreams(bad)
	assert.Error(t, err)

	_, err = LoadDatastreams(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestRawLog_DatedFileName(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRawLog(dir, "%Y%m%d_proxy.log")
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2026, 7, 9, 23, 0, 0, 0, time.UTC) }

	require.NoError(t, r.Append([]byte("a")))
	require.NoError(t, r.Append([]byte("b")))

	assert.Equal(t, filepath.Join(dir, "20260709_proxy.log"), r.Path())
	b, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(b))
}
