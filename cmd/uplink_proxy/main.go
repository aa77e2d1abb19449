package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/relabs-tech/gps_tracker/internal/app"
	"github.com/relabs-tech/gps_tracker/internal/config"
	"github.com/relabs-tech/gps_tracker/internal/logging"
)

func main() {
	configPath := flag.StringP("config", "c", "tracker_config.txt", "path to the KEY=VALUE config file")
	logDir := flag.String("log-dir", ".", "directory for the dated raw uplink log")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	if err := logging.Configure(cfg); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}
	if cfg.ProxyDatastreamsFile == "" {
		log.Fatal("PROXY_DATASTREAMS_FILE is required")
	}

	log.Println("starting gps-tracker uplink proxy (MQTT → SensorThings)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunProxy(ctx, cfg, *logDir); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
