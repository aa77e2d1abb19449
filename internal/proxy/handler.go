// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package proxy forwards tracker uplinks to an OGC SensorThings server.
//
// Each uplink is appended verbatim to a dated log file, decoded, scaled to
// degrees and POSTed as a GeoJSON Location to the datastream registered for
// the sending device.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/payload"
	"github.com/relabs-tech/gps_tracker/internal/radio"
)

// Tokens supplies bearer tokens for the SensorThings server.
type Tokens interface {
	AccessToken(ctx context.Context) (string, error)
}

type Handler struct {
	Datastreams map[string]Datastream
	CoordScale  float64
	Tokens      Tokens // nil posts without authorization
	RawLog      *RawLog
	HTTP        *http.Client
	Log         log.FieldLogger
}

// Position is a decoded uplink in degrees.
type Position struct {
	DevID      string
	Latitude   float64
	Longitude  float64
	Altitude   int16
	Satellites uint8
}

// Decode parses an uplink message and scales its coordinates.
func (h *Handler) Decode(raw []byte) (Position, error) {
	var msg radio.UplinkMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Position{}, fmt.Errorf("proxy: decode uplink: %w", err)
	}
	rec, err := payload.Decode(msg.PayloadRaw)
	if err != nil {
		return Position{}, fmt.Errorf("proxy: uplink from %s: %w", msg.DevID, err)
	}
	return Position{
		DevID:      msg.DevID,
		Latitude:   float64(rec.Latitude) / h.CoordScale,
		Longitude:  float64(rec.Longitude) / h.CoordScale,
		Altitude:   rec.Altitude,
		Satellites: rec.Satellites,
	}, nil
}

// HandleUplink processes one raw uplink message. Messages from devices
// without a datastream are logged and dropped.
func (h *Handler) HandleUplink(ctx context.Context, raw []byte) error {
	logger := h.logger()
	if h.RawLog != nil {
		if err := h.RawLog.Append(raw); err != nil {
			logger.Warnf("%v", err)
		}
	}

	pos, err := h.Decode(raw)
	if err != nil {
		return err
	}
	logger.WithFields(log.Fields{
		"dev_id": pos.DevID,
		"lat":    pos.Latitude,
		"lon":    pos.Longitude,
		"alt":    pos.Altitude,
		"sat":    pos.Satellites,
	}).Info("proxy: uplink")

	ds, ok := h.Datastreams[pos.DevID]
	if !ok {
		logger.Warnf("proxy: invalid device: %s", pos.DevID)
		return nil
	}
	return h.post(ctx, ds, NewLocation(ds.Name, pos.Latitude, pos.Longitude))
}

func (h *Handler) post(ctx context.Context, ds Datastream, loc Location) error {
	body, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("proxy: encode location: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ds.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("proxy: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Tokens != nil {
		tok, err := h.Tokens.AccessToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	client := h.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("proxy: post location: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	h.logger().Debugf("proxy: POST %s: %d", ds.URL, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("proxy: post location to %s: %s", ds.URL, resp.Status)
	}
	return nil
}

func (h *Handler) logger() log.FieldLogger {
	if h.Log == nil {
		return log.StandardLogger()
	}
	return h.Log
}
