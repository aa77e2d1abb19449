package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/config"
	"github.com/relabs-tech/gps_tracker/internal/gps"
)

// consoleTick paces the console when the configured poll interval is 0.
const consoleTick = 100 * time.Millisecond

// RunGPSConsole prints fixes from the configured receiver without touching
// the radio. Useful for checking antenna placement.
func RunGPSConsole(ctx context.Context, cfg *config.Config) error {
	logger := log.WithField("component", "gps_console")

	// The receiver may hang off the 3V3 regulator.
	b, err := openBoardFn(cfg.GPIOBackend, cfg.LEDPin, cfg.PowerPin)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.PowerUp(); err != nil {
		return err
	}

	src, closeGPS, err := newGPSSource(cfg, logger)
	if err != nil {
		return err
	}
	defer closeGPS()

	interval := cfg.PollInterval()
	if interval <= 0 {
		interval = consoleTick
	}
	return printFixes(ctx, src, os.Stdout, interval)
}

func printFixes(ctx context.Context, src gps.Source, w io.Writer, interval time.Duration) error {
	if err := src.Start(); err != nil {
		return err
	}
	defer src.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		fix, err := src.ReadFix()
		if errors.Is(err, gps.ErrNoFixYet) {
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(w, formatFix(fix, true))
	}
	return nil
}
