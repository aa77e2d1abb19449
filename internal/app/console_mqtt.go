package app

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/config"
	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/status"
)

// RunConsoleMQTT prints every status snapshot published by the tracker.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config) error {
	logger := log.WithField("component", "console")
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	err = status.Subscribe(client, cfg.TopicStatus, func(s status.Snapshot) {
		printStatus(os.Stdout, s)
	}, logger)
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func printStatus(w io.Writer, s status.Snapshot) {
	fmt.Fprintf(w,
		"[%s] %-9s %-9s score=%3d count=%3d  %s  joined=%-5t upctr=%d sent=%d failed=%d timeouts=%d\n",
		s.Time.Format("15:04:05"), s.Phase, s.State, s.Score, s.Count,
		formatFix(s.Fix, s.HaveFix), s.Joined, s.UplinkCounter, s.Uplinks, s.SendFailures, s.Timeouts,
	)
	if s.LastError != "" {
		fmt.Fprintf(w, "           last error: %s\n", s.LastError)
	}
}

func formatFix(f gps.Fix, have bool) string {
	if !have {
		return "no fix yet"
	}
	return fmt.Sprintf("LAT=%11.7f LON=%12.7f ALT=%5dm SAT=%2d Q=%d",
		float64(f.Latitude)/gps.CoordScale, float64(f.Longitude)/gps.CoordScale,
		f.Altitude, f.Satellites, f.Quality)
}
