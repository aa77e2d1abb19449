// Package logging sets up logrus for the tracker binaries: colored console
// output plus an optional rotated log file.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/relabs-tech/gps_tracker/internal/config"
)

// ParseLevel maps the config names (DEBUG, INFO, WARN, ERROR) to logrus levels.
func ParseLevel(name string) (log.Level, error) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return log.DebugLevel, nil
	case "INFO", "":
		return log.InfoLevel, nil
	case "WARN":
		return log.WarnLevel, nil
	case "ERROR":
		return log.ErrorLevel, nil
	}
	return log.InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// Configure applies cfg to the standard logger.
func Configure(cfg *config.Config) error {
	return configure(log.StandardLogger(), cfg.LogLevel, cfg.LogFile, cfg.LogMaxAgeDays)
}

func configure(l *log.Logger, level, file string, maxAgeDays int) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l.SetLevel(lvl)
	l.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: false})
	l.SetOutput(os.Stdout)

	if file == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	rotated := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10,
		MaxBackups: 30,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	fileFmt := &log.TextFormatter{DisableColors: true, FullTimestamp: true}
	l.AddHook(lfshook.NewHook(lfshook.WriterMap{
		log.PanicLevel: rotated,
		log.FatalLevel: rotated,
		log.ErrorLevel: rotated,
		log.WarnLevel:  rotated,
		log.InfoLevel:  rotated,
		log.DebugLevel: rotated,
		log.TraceLevel: rotated,
	}, fileFmt))
	return nil
}
