package gps

import (
	"io"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

// OpenSerial returns a PortOpener for an NMEA receiver on portName.
//
// Reads return after readTimeout with no data instead of blocking forever, so
// the control loop sees ErrNoFixYet while the receiver is silent. The driver
// only supports timeouts in steps of 100ms; readTimeout is rounded up.
func OpenSerial(portName string, baud int, readTimeout time.Duration) PortOpener {
	ms := uint((readTimeout + 99*time.Millisecond) / (100 * time.Millisecond) * 100)
	if ms == 0 {
		ms = 100
	}
	return func() (io.ReadWriteCloser, error) {
		opts := serial.OpenOptions{
			PortName:              portName,
			BaudRate:              uint(baud),
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       0,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: ms,
		}
		return serial.Open(opts)
	}
}
