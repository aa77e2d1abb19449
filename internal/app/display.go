package app

import (
	"context"
	"fmt"
	"image"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/gps_tracker/internal/config"
	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/status"
)

const (
	displayW = 128
	displayH = 64
)

// RunDisplay shows the tracker status on an SSD1306 OLED.
func RunDisplay(ctx context.Context, cfg *config.Config) error {
	logger := log.WithField("component", "display")

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()

	if err := dev.Draw(dev.Bounds(), renderLines("GPS Tracker", "Looking for", "sats"), image.Point{}); err != nil {
		logger.Warnf("error showing splash: %v", err)
	}

	store := status.NewStore()
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDDisplay, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	if err := status.Subscribe(client, cfg.TopicStatus, store.Observe, logger); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()
	logger.Info("starting update loop")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s, ok := store.Latest()
			if err := dev.Draw(dev.Bounds(), renderStatus(s, ok), image.Point{}); err != nil {
				logger.Warnf("error updating display: %v", err)
			}
		}
	}
}

// renderStatus lays out four 13px lines: latitude, longitude, altitude with
// satellites, then the loop phase with the uplink counter.
func renderStatus(s status.Snapshot, have bool) *image1bit.VerticalLSB {
	if !have {
		return renderLines("GPS Tracker", "Waiting...")
	}
	lines := []string{"No fix yet", "", ""}
	if s.HaveFix {
		lat := float64(s.Fix.Latitude) / gps.CoordScale
		lon := float64(s.Fix.Longitude) / gps.CoordScale
		lines = []string{
			hemisphere(lat, "N", "S"),
			hemisphere(lon, "E", "W"),
			fmt.Sprintf("Alt:%dm Sat:%d", s.Fix.Altitude, s.Fix.Satellites),
		}
	}
	lines = append(lines, fmt.Sprintf("%s #%d", s.Phase, s.UplinkCounter))
	return renderLines(lines...)
}

func hemisphere(v float64, pos, neg string) string {
	dir := pos
	if v < 0 {
		dir = neg
		v = -v
	}
	return fmt.Sprintf("%.5f%s", v, dir)
}

func renderLines(lines ...string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayW, displayH))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, l := range lines {
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawString(l)
	}
	return img
}
