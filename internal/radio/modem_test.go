package radio

import (
	"bytes"
	"io"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModem answers each CRLF-terminated command from a script. Commands not
// in the script get "ok".
type fakeModem struct {
	replies map[string][]string
	written []string
	partial string
	out     bytes.Buffer
}

func newFakeModem(replies map[string][]string) *fakeModem {
	return &fakeModem{replies: replies}
}

func (f *fakeModem) Write(b []byte) (int, error) {
	f.partial += string(b)
	for {
		i := strings.Index(f.partial, "\r\n")
		if i < 0 {
			break
		}
		cmd := f.partial[:i]
		f.partial = f.partial[i+2:]
		f.written = append(f.written, cmd)
		reply, ok := f.replies[cmd]
		if !ok {
			reply = []string{"ok"}
		}
		for _, r := range reply {
			f.out.WriteString(r + "\r\n")
		}
	}
	return len(b), nil
}

func (f *fakeModem) Read(b []byte) (int, error) {
	if f.out.Len() == 0 {
		return 0, io.EOF
	}
	return f.out.Read(b)
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func testSession(t *testing.T) Session {
	t.Helper()
	s, err := ParseSession("26011F2A", strings.Repeat("AB", 16), strings.Repeat("cd", 16), 5, 2)
	require.NoError(t, err)
	return s
}

func TestModemLink_InitSession(t *testing.T) {
	modem := newFakeModem(map[string][]string{"mac get upctr": {"41"}})
	link := NewModemLink(modem, quietLogger())

	require.NoError(t, link.InitSession(testSession(t)))

	assert.Equal(t, []string{
		"mac set devaddr 26011f2a",
		"mac set nwkskey " + strings.Repeat("ab", 16),
		"mac set appskey " + strings.Repeat("cd", 16),
		"mac set dr 5",
		"mac get upctr",
	}, modem.written)
	assert.Equal(t, uint32(41), link.UplinkCounter())
}

func TestModemLink_InitSessionRejectedParam(t *testing.T) {
	modem := newFakeModem(map[string][]string{"mac set dr 5": {"invalid_param"}})
	link := NewModemLink(modem, quietLogger())

	err := link.InitSession(testSession(t))
	assert.ErrorIs(t, err, ErrModem)
}

func TestModemLink_Join(t *testing.T) {
	modem := newFakeModem(map[string][]string{"mac join abp": {"ok", "accepted"}})
	link := NewModemLink(modem, quietLogger())

	require.NoError(t, link.Join())
	assert.True(t, link.Joined())
}

func TestModemLink_JoinDenied(t *testing.T) {
	modem := newFakeModem(map[string][]string{"mac join abp": {"ok", "denied"}})
	link := NewModemLink(modem, quietLogger())

	err := link.Join()
	assert.ErrorIs(t, err, ErrModem)
	assert.False(t, link.Joined())
}

func TestModemLink_Send(t *testing.T) {
	payload := []byte{0x1C, 0x45, 0xAA, 0xC0, 0x05, 0x18, 0xC8, 0x6C, 0x01, 0x5E, 0x07}
	modem := newFakeModem(map[string][]string{
		"mac get upctr":                         {"7"},
		"mac tx uncnf 2 1c45aac00518c86c015e07": {"ok", "mac_tx_ok"},
	})
	link := NewModemLink(modem, quietLogger())
	require.NoError(t, link.InitSession(testSession(t)))

	require.NoError(t, link.Send(payload))
	assert.Equal(t, uint32(8), link.UplinkCounter())
}

func TestModemLink_SendWithDownlink(t *testing.T) {
	modem := newFakeModem(map[string][]string{
		"mac tx uncnf 0 01": {"ok", "mac_rx 1 AABB"},
	})
	link := NewModemLink(modem, quietLogger())

	require.NoError(t, link.Send([]byte{1}))
	assert.Equal(t, uint32(1), link.UplinkCounter())
}

func TestModemLink_SendFailures(t *testing.T) {
	cases := []struct {
		name  string
		reply []string
		want  error
	}{
		{"not joined", []string{"not_joined"}, ErrNotJoined},
		{"busy", []string{"busy"}, ErrModem},
		{"mac error", []string{"ok", "mac_err"}, ErrModem},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			modem := newFakeModem(map[string][]string{"mac tx uncnf 0 01": tc.reply})
			link := NewModemLink(modem, quietLogger())

			err := link.Send([]byte{1})
			assert.ErrorIs(t, err, tc.want)
			assert.Zero(t, link.UplinkCounter())
		})
	}
}

func TestModemLink_PersistSession(t *testing.T) {
	modem := newFakeModem(map[string][]string{"mac get upctr": {"43"}})
	link := NewModemLink(modem, quietLogger())

	require.NoError(t, link.PersistSession())
	assert.Equal(t, []string{"mac save", "mac get upctr"}, modem.written)
	assert.Equal(t, uint32(43), link.UplinkCounter())
}

func TestModemLink_NoReply(t *testing.T) {
	modem := newFakeModem(map[string][]string{"mac save": {}})
	link := NewModemLink(modem, quietLogger())
	link.MaxIdleReads = 2

	err := link.PersistSession()
	assert.ErrorIs(t, err, ErrModem)
}

func TestModemLink_LateReplyIsNotTakenForNextCommand(t *testing.T) {
	modem := newFakeModem(map[string][]string{
		"mac tx uncnf 0 01": {"ok"},
		"mac get upctr":     {"12"},
	})
	link := NewModemLink(modem, quietLogger())
	link.MaxIdleReads = 2

	err := link.Send([]byte{1})
	require.ErrorIs(t, err, ErrModem)

	// The modem finishes the transmission after the wait gave up.
	modem.out.WriteString("mac_tx_ok\r\n")

	require.NoError(t, link.PersistSession())
	assert.Equal(t, uint32(12), link.UplinkCounter())
	assert.Equal(t, []string{"mac tx uncnf 0 01", "mac save", "mac get upctr"}, modem.written)
}

func TestModemLink_UnsolicitedLinesAreDropped(t *testing.T) {
	modem := newFakeModem(map[string][]string{"mac get upctr": {"5"}})
	link := NewModemLink(modem, quietLogger())

	// Buffered but unread input from an earlier exchange.
	modem.out.WriteString("mac_err\r\ninvalid_param\r\n")
	_, err := link.r.Peek(1)
	require.NoError(t, err)

	require.NoError(t, link.PersistSession())
	assert.Equal(t, uint32(5), link.UplinkCounter())
}
