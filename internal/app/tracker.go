// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/accumulator"
	"github.com/relabs-tech/gps_tracker/internal/board"
	"github.com/relabs-tech/gps_tracker/internal/config"
	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/radio"
	"github.com/relabs-tech/gps_tracker/internal/status"
	"github.com/relabs-tech/gps_tracker/internal/uplink"
)

var openBoardFn = board.Open

// RunTracker powers the board, wires GPS and radio and runs the uplink loop
// until ctx is cancelled.
func RunTracker(ctx context.Context, cfg *config.Config) error {
	logger := log.WithField("component", "tracker")

	session, err := radio.ParseSession(cfg.LoRaWANDevAddr, cfg.LoRaWANNwkSKey, cfg.LoRaWANAppSKey,
		cfg.LoRaWANDataRate, cfg.LoRaWANTxPort)
	if err != nil {
		return err
	}

	// ---- 1) Board: LED and 3V3 regulator ----
	b, err := openBoardFn(cfg.GPIOBackend, cfg.LEDPin, cfg.PowerPin)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.PowerUp(); err != nil {
		return err
	}

	// ---- 2) GPS receiver ----
	src, closeGPS, err := newGPSSource(cfg, logger)
	if err != nil {
		return err
	}
	defer closeGPS()

	// ---- 3) Status over MQTT, best effort ----
	var client mqtt.Client
	var observer uplink.Observer
	if c, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDTracker, logger); err != nil {
		logger.Warnf("running without status publishing: %v", err)
	} else {
		client = c
		defer client.Disconnect(250)
		observer = status.NewMQTTPublisher(client, cfg.TopicStatus, logger)
	}

	// ---- 4) Radio ----
	link, closeLink, err := newRadioLink(cfg, client, logger)
	if err != nil {
		return err
	}
	defer closeLink()

	ctrl := uplink.New(uplink.Options{
		GPS:     src,
		Radio:   link,
		Session: session,
		Thresholds: accumulator.Thresholds{
			Quality: cfg.GPSQualityThreshold,
			Count:   cfg.GPSCounterThreshold,
		},
		SleepTime:        cfg.SleepTime(),
		PollInterval:     cfg.PollInterval(),
		ReadErrorBackoff: cfg.GPSReadTimeout(),
		BufferSize:       cfg.PayloadBufferSize,
		JoinRetries:      cfg.LoRaWANJoinRetries,
		JoinBackoff:      cfg.JoinBackoff(),
		Observer:         observer,
		Logger:           logger,
	})
	logger.Infof("tracker running: gps=%s lorawan=%s sleep=%s", cfg.GPSSource, cfg.LoRaWANBackend, cfg.SleepTime())
	return ctrl.Run(ctx)
}

func newGPSSource(cfg *config.Config, logger log.FieldLogger) (gps.Source, func(), error) {
	switch cfg.GPSSource {
	case config.GPSSourceSim:
		return gps.NewSimSource(cfg.GPSSimLat, cfg.GPSSimLon), func() {}, nil
	case config.GPSSourceNMEA:
		enable, err := board.OpenPin(cfg.GPIOBackend, cfg.GPSEnablePin)
		if err != nil {
			return nil, nil, fmt.Errorf("gps enable pin: %w", err)
		}
		open := gps.OpenSerial(cfg.GPSSerialPort, cfg.GPSBaudRate, cfg.GPSReadTimeout())
		src := gps.NewNMEASource(open, enable, logger)
		return src, func() {
			_ = src.Stop()
			_ = enable.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown GPS_SOURCE %q", cfg.GPSSource)
	}
}

func newRadioLink(cfg *config.Config, client mqtt.Client, logger log.FieldLogger) (radio.Link, func(), error) {
	switch cfg.LoRaWANBackend {
	case config.LoRaWANBackendModem:
		port, err := radio.OpenModem(cfg.LoRaWANSerialPort, cfg.LoRaWANBaudRate)
		if err != nil {
			return nil, nil, err
		}
		return radio.NewModemLink(port, logger), func() { closeQuietly(port) }, nil
	case config.LoRaWANBackendMQTT:
		if client == nil {
			return nil, nil, fmt.Errorf("LORAWAN_BACKEND=mqtt needs a reachable MQTT_BROKER")
		}
		store := radio.FileSessionStore{Path: cfg.LoRaWANSessionFile}
		link := radio.NewMQTTLink(client, store, cfg.TopicUplinkPrefix, cfg.LoRaWANAppID, cfg.LoRaWANDevID, logger)
		return link, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown LORAWAN_BACKEND %q", cfg.LoRaWANBackend)
	}
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		log.Debugf("close: %v", err)
	}
}
