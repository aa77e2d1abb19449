//go:build linux

package board

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// openGPIOCdev requests a line through the GPIO character device. Names that
// are plain numbers are mapped to the Raspberry Pi "GPIOn" line names.
func openGPIOCdev(name string) (Pin, error) {
	lineName := name
	if _, err := strconv.Atoi(name); err == nil {
		lineName = "GPIO" + name
	}

	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", e.Name()))
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("gps-tracker"))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &cdevPin{chip: chip, line: line}, nil
	}

	return nil, fmt.Errorf("gpio line %q not found (or busy)", lineName)
}

type cdevLine interface {
	SetValue(int) error
	Close() error
}

type cdevPin struct {
	chip *gpiocdev.Chip
	line cdevLine
}

func (p *cdevPin) Set(on bool) error {
	if p.line == nil {
		return fmt.Errorf("gpio line closed")
	}
	v := 0
	if on {
		v = 1
	}
	return p.line.SetValue(v)
}

func (p *cdevPin) Close() error {
	if p.line == nil {
		return nil
	}
	err := p.line.Close()
	p.line = nil
	if p.chip != nil {
		_ = p.chip.Close()
		p.chip = nil
	}
	return err
}
