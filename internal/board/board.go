// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package board drives the tracker's digital outputs: status LED, 3V3 step-up
// regulator and the GPS receiver enable line.
package board

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Pin is a single digital output line.
type Pin interface {
	Set(on bool) error
	Close() error
}

// Backend names accepted by OpenPin.
const (
	BackendPeriph   = "periph"
	BackendGPIOCdev = "gpiocdev"
)

var (
	openPeriphFn   = openPeriph
	openGPIOCdevFn = openGPIOCdev
)

// OpenPin opens the named output line with the given backend. An empty name
// returns a no-op pin so optional lines can be left unconfigured.
func OpenPin(backend, name string) (Pin, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nopPin{}, nil
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendPeriph:
		return openPeriphFn(name)
	case BackendGPIOCdev:
		return openGPIOCdevFn(name)
	default:
		return nil, fmt.Errorf("board: unknown gpio backend %q", backend)
	}
}

type nopPin struct{}

func (nopPin) Set(bool) error { return nil }
func (nopPin) Close() error   { return nil }

// Board groups the outputs the tracker touches at boot.
type Board struct {
	LED   Pin
	Power Pin
}

// Open opens the LED and regulator lines. Lines with an empty name are no-ops.
func Open(backend, ledPin, powerPin string) (*Board, error) {
	led, err := OpenPin(backend, ledPin)
	if err != nil {
		return nil, fmt.Errorf("board: led pin %q: %w", ledPin, err)
	}
	power, err := OpenPin(backend, powerPin)
	if err != nil {
		_ = led.Close()
		return nil, fmt.Errorf("board: power pin %q: %w", powerPin, err)
	}
	return &Board{LED: led, Power: power}, nil
}

// PowerUp switches the status LED and the 3V3 regulator on.
func (b *Board) PowerUp() error {
	if err := b.LED.Set(true); err != nil {
		return fmt.Errorf("board: led on: %w", err)
	}
	if err := b.Power.Set(true); err != nil {
		return fmt.Errorf("board: regulator on: %w", err)
	}
	log.Debug("board: led on, regulator enabled")
	return nil
}

// Close turns both outputs off and releases them.
func (b *Board) Close() error {
	if b == nil {
		return nil
	}
	_ = b.LED.Set(false)
	_ = b.Power.Set(false)
	err1 := b.LED.Close()
	err2 := b.Power.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
