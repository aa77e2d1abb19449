// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package radio

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	log "github.com/sirupsen/logrus"
)

// modemReadTimeout is the UART read timeout used by OpenModem. Together with
// ModemLink.MaxIdleReads it bounds how long a command may take.
const modemReadTimeout = 500 * time.Millisecond

// OpenModem opens the RN2483 UART.
func OpenModem(portName string, baud int) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: uint(modemReadTimeout / time.Millisecond),
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("radio: open %s: %w", portName, err)
	}
	return port, nil
}

// ModemLink drives an RN2483 through its "mac" command set:
//
//	mac set devaddr|nwkskey|appskey|dr   provisioning
//	mac join abp                         activate the session
//	mac tx uncnf <port> <hex>            unconfirmed uplink
//	mac save                             store session and counters in EEPROM
//	mac get upctr                        uplink frame counter
type ModemLink struct {
	// MaxIdleReads is how many consecutive empty reads end a wait for a reply.
	MaxIdleReads int

	rw      io.ReadWriter
	r       *bufio.Reader
	log     log.FieldLogger
	session Session
	joined  bool
	counter uint32
	// stale is set when a wait for a reply gave up; the late reply must not
	// be taken as the answer to the next command.
	stale bool
}

func NewModemLink(rw io.ReadWriter, logger log.FieldLogger) *ModemLink {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ModemLink{
		MaxIdleReads: 20,
		rw:           rw,
		r:            bufio.NewReader(rw),
		log:          logger,
	}
}

func (m *ModemLink) InitSession(s Session) error {
	m.session = s
	m.joined = false
	cmds := []string{
		"mac set devaddr " + s.DevAddr,
		"mac set nwkskey " + s.NwkSKey,
		"mac set appskey " + s.AppSKey,
		"mac set dr " + strconv.Itoa(int(s.DataRate)),
	}
	for _, c := range cmds {
		if err := m.expectOK(c); err != nil {
			return err
		}
	}
	if n, err := m.readCounter(); err == nil {
		m.counter = n
	} else {
		m.log.Warnf("radio: read uplink counter: %v", err)
	}
	m.log.Infof("radio: session initialised for devaddr %s (dr %d, port %d)", s.DevAddr, s.DataRate, s.Port)
	return nil
}

// Join activates the ABP session. The modem answers "ok" followed by
// "accepted" or "denied".
func (m *ModemLink) Join() error {
	if err := m.expectOK("mac join abp"); err != nil {
		return err
	}
	reply, err := m.readReply()
	if err != nil {
		return err
	}
	if reply != "accepted" {
		return fmt.Errorf("%w: join: %s", ErrModem, reply)
	}
	m.joined = true
	return nil
}

// Joined reports whether the last Join succeeded.
func (m *ModemLink) Joined() bool { return m.joined }

func (m *ModemLink) Send(payload []byte) error {
	cmd := fmt.Sprintf("mac tx uncnf %d %s", m.session.Port, hex.EncodeToString(payload))
	if err := m.expectOK(cmd); err != nil {
		return err
	}
	reply, err := m.readReply()
	if err != nil {
		return err
	}
	switch {
	case reply == "mac_tx_ok", strings.HasPrefix(reply, "mac_rx "):
		m.counter++
		if strings.HasPrefix(reply, "mac_rx ") {
			m.log.Infof("radio: downlink received: %s", strings.TrimPrefix(reply, "mac_rx "))
		}
		return nil
	default:
		return fmt.Errorf("%w: tx: %s", ErrModem, reply)
	}
}

// PersistSession saves the session to the modem EEPROM and refreshes the
// cached uplink counter.
func (m *ModemLink) PersistSession() error {
	if err := m.expectOK("mac save"); err != nil {
		return err
	}
	n, err := m.readCounter()
	if err != nil {
		return err
	}
	m.counter = n
	return nil
}

func (m *ModemLink) UplinkCounter() uint32 { return m.counter }

func (m *ModemLink) readCounter() (uint32, error) {
	if err := m.write("mac get upctr"); err != nil {
		return 0, err
	}
	reply, err := m.readReply()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(reply, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: upctr: %q", ErrModem, reply)
	}
	return uint32(n), nil
}

func (m *ModemLink) expectOK(cmd string) error {
	if err := m.write(cmd); err != nil {
		return err
	}
	reply, err := m.readReply()
	if err != nil {
		return err
	}
	switch reply {
	case "ok":
		return nil
	case "not_joined":
		m.joined = false
		return fmt.Errorf("%s: %w", cmd, ErrNotJoined)
	default:
		return fmt.Errorf("%w: %s: %s", ErrModem, cmd, reply)
	}
}

func (m *ModemLink) write(cmd string) error {
	m.discardInput()
	m.log.Debugf("radio: > %s", cmd)
	if _, err := io.WriteString(m.rw, cmd+"\r\n"); err != nil {
		return fmt.Errorf("radio: write %q: %w", cmd, err)
	}
	return nil
}

// readReply reads one CRLF-terminated line, tolerating up to MaxIdleReads
// read timeouts in a row.
func (m *ModemLink) readReply() (string, error) {
	var line strings.Builder
	idle := 0
	for {
		chunk, err := m.r.ReadString('\n')
		line.WriteString(chunk)
		if err == nil {
			reply := strings.TrimSpace(line.String())
			m.log.Debugf("radio: < %s", reply)
			return reply, nil
		}
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("radio: read: %w", err)
		}
		if chunk == "" {
			idle++
		} else {
			idle = 0
		}
		if idle >= m.MaxIdleReads {
			m.stale = true
			return "", fmt.Errorf("%w: no reply", ErrModem)
		}
	}
}

// discardInput drops anything the modem sent that no command is waiting for.
// After a timed out wait it also reads until the line goes idle.
func (m *ModemLink) discardInput() {
	if n := m.r.Buffered(); n > 0 {
		b, _ := m.r.Peek(n)
		m.log.Debugf("radio: discarding %q", b)
		_, _ = m.r.Discard(n)
	}
	if !m.stale {
		return
	}
	m.stale = false
	for {
		chunk, err := m.r.ReadString('\n')
		if chunk != "" {
			m.log.Debugf("radio: discarding late reply %q", strings.TrimSpace(chunk))
		}
		if err != nil {
			return
		}
	}
}
