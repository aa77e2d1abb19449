package board

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

type periphPin struct {
	pin gpio.PinIO
}

func openPeriph(name string) (Pin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio pin %q as output: %w", name, err)
	}
	return &periphPin{pin: p}, nil
}

func (p *periphPin) Set(on bool) error {
	level := gpio.Low
	if on {
		level = gpio.High
	}
	return p.pin.Out(level)
}

func (p *periphPin) Close() error {
	return p.pin.Halt()
}
