// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package uplink runs the tracker's acquire, accumulate and transmit cycle.
//
// One cycle powers the receiver, feeds fixes to the accumulator until it is
// Ready or TimedOut, powers the receiver down again and sleeps. A Ready cycle
// encodes the last fix, sends it once and persists the radio session whether
// or not the send worked.
package uplink

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/accumulator"
	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/payload"
	"github.com/relabs-tech/gps_tracker/internal/radio"
	"github.com/relabs-tech/gps_tracker/internal/status"
)

// DefaultBufferSize is the size of the encode buffer when Options leaves it 0.
const DefaultBufferSize = 51

// Defaults for hard receiver read errors when Options leaves them 0.
const (
	DefaultReadErrorBackoff = time.Second
	DefaultMaxReadErrors    = 5
)

// Observer receives a snapshot after every loop event. It is called from the
// loop goroutine and must not block for long.
type Observer interface {
	Observe(status.Snapshot)
}

type Options struct {
	GPS        gps.Source
	Radio      radio.Link
	Session    radio.Session
	Thresholds accumulator.Thresholds

	SleepTime    time.Duration // after every Ready or TimedOut cycle
	PollInterval time.Duration // after a read without a fix
	BufferSize   int

	// ReadErrorBackoff is the minimum pause after a failed receiver read.
	// MaxReadErrors failures in a row end the cycle like a timeout.
	ReadErrorBackoff time.Duration
	MaxReadErrors    int

	JoinRetries int           // extra attempts in Setup
	JoinBackoff time.Duration // first retry delay, doubled each attempt

	Sleep    Sleeper
	Observer Observer
	Logger   log.FieldLogger
	Now      func() time.Time
}

// Controller owns the accumulator and the encode buffer. It is not safe for
// concurrent use; Run is meant to be the only caller of Step.
type Controller struct {
	opts Options
	log  log.FieldLogger
	acc  *accumulator.Accumulator
	buf  []byte

	gpsOn      bool
	joined     bool
	readErrors int
	state      accumulator.State
	haveFix    bool
	stats      Stats
	lastErr    error
	lastTx     []byte
}

// Stats counts loop outcomes since New.
type Stats struct {
	Cycles       uint64
	Uplinks      uint64
	SendFailures uint64
	Timeouts     uint64
}

func New(opts Options) *Controller {
	if opts.Sleep == nil {
		opts.Sleep = SleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.ReadErrorBackoff == 0 {
		opts.ReadErrorBackoff = DefaultReadErrorBackoff
	}
	if opts.MaxReadErrors == 0 {
		opts.MaxReadErrors = DefaultMaxReadErrors
	}
	return &Controller{
		opts: opts,
		log:  opts.Logger,
		acc:  accumulator.New(opts.Thresholds),
		buf:  make([]byte, opts.BufferSize),
	}
}

// Setup hands the session to the radio and joins. Join failures are logged
// and retried JoinRetries times; after that the loop runs unjoined and a
// single join is attempted again before each uplink.
func (c *Controller) Setup(ctx context.Context) error {
	c.publish(status.PhaseStarting)
	if err := c.opts.Radio.InitSession(c.opts.Session); err != nil {
		return fmt.Errorf("uplink: init session: %w", err)
	}

	backoff := c.opts.JoinBackoff
	for attempt := 0; ; attempt++ {
		if c.join() {
			return nil
		}
		if attempt >= c.opts.JoinRetries {
			break
		}
		c.log.Infof("uplink: retrying join in %s", backoff)
		if err := c.opts.Sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
	c.log.Errorf("uplink: join failed after %d attempts, continuing unjoined", c.opts.JoinRetries+1)
	return nil
}

func (c *Controller) join() bool {
	if err := c.opts.Radio.Join(); err != nil {
		c.log.Warnf("uplink: join: %v", err)
		c.lastErr = err
		c.joined = false
		return false
	}
	c.log.Info("uplink: joined")
	c.joined = true
	return true
}

// Run calls Setup and then Step until ctx is cancelled. Cancellation is a
// clean exit and returns nil.
func (c *Controller) Run(ctx context.Context) error {
	defer c.stopGPS()
	if err := c.Setup(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	for {
		if err := c.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Step performs one poll of the receiver and whatever the resulting state
// requires. It returns only context errors.
func (c *Controller) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !c.gpsOn {
		if err := c.opts.GPS.Start(); err != nil {
			c.log.Errorf("uplink: gps start: %v", err)
			c.lastErr = err
			c.publish(status.PhaseSleeping)
			return c.opts.Sleep(ctx, c.opts.SleepTime)
		}
		c.gpsOn = true
		c.publish(status.PhaseSearching)
	}

	fix, err := c.opts.GPS.ReadFix()
	if errors.Is(err, gps.ErrNoFixYet) {
		c.readErrors = 0
		return c.opts.Sleep(ctx, c.opts.PollInterval)
	}
	if err != nil {
		return c.readFailed(ctx, err)
	}
	c.readErrors = 0

	c.haveFix = true
	c.state = c.acc.Feed(fix)

	switch c.state {
	case accumulator.Ready:
		c.log.WithFields(log.Fields{
			"score": c.acc.Score(),
			"count": c.acc.Count(),
		}).Info("uplink: fix ready")
		c.stopGPS()
		c.acc.Reset()
		c.stats.Cycles++
		c.publish(status.PhaseSending)
		c.transmit(fix)
		c.publish(status.PhaseSleeping)
		return c.opts.Sleep(ctx, c.opts.SleepTime)

	case accumulator.TimedOut:
		c.log.WithFields(log.Fields{
			"score": c.acc.Score(),
			"count": c.acc.Count(),
		}).Warn("uplink: no usable fix, giving up until next cycle")
		c.stopGPS()
		c.acc.Reset()
		c.stats.Cycles++
		c.stats.Timeouts++
		c.publish(status.PhaseSleeping)
		return c.opts.Sleep(ctx, c.opts.SleepTime)

	default:
		c.publish(status.PhaseSearching)
		return nil
	}
}

// readFailed paces reads from a failing receiver and gives up on the cycle
// after MaxReadErrors failures in a row.
func (c *Controller) readFailed(ctx context.Context, err error) error {
	c.lastErr = err
	c.readErrors++
	if c.readErrors < c.opts.MaxReadErrors {
		c.log.Warnf("uplink: gps read: %v", err)
		pause := c.opts.PollInterval
		if pause < c.opts.ReadErrorBackoff {
			pause = c.opts.ReadErrorBackoff
		}
		return c.opts.Sleep(ctx, pause)
	}

	c.log.Errorf("uplink: gps read failed %d times in a row, powering down: %v", c.readErrors, err)
	c.readErrors = 0
	c.stopGPS()
	c.acc.Reset()
	c.stats.Cycles++
	c.publish(status.PhaseSleeping)
	return c.opts.Sleep(ctx, c.opts.SleepTime)
}

func (c *Controller) transmit(fix gps.Fix) {
	n, err := payload.Encode(fix.Latitude, fix.Longitude, fix.Altitude, fix.Satellites, c.buf)
	if err != nil {
		c.log.Errorf("uplink: encode: %v", err)
		c.lastErr = err
		return
	}
	frame := c.buf[:n]

	if !c.joined {
		c.join()
	}

	if err := c.opts.Radio.Send(frame); err != nil {
		c.log.Errorf("uplink: send: %v", err)
		c.lastErr = err
		c.stats.SendFailures++
		if errors.Is(err, radio.ErrNotJoined) {
			c.joined = false
		}
	} else {
		c.log.Infof("uplink: sent %X", frame)
		c.stats.Uplinks++
		c.lastErr = nil
	}
	c.lastTx = append(c.lastTx[:0], frame...)

	if err := c.opts.Radio.PersistSession(); err != nil {
		c.log.Errorf("uplink: persist session: %v", err)
		c.lastErr = err
	}
	c.log.Infof("uplink: uplink counter %d", c.opts.Radio.UplinkCounter())
}

func (c *Controller) stopGPS() {
	if !c.gpsOn {
		return
	}
	if err := c.opts.GPS.Stop(); err != nil {
		c.log.Warnf("uplink: gps stop: %v", err)
	}
	c.gpsOn = false
}

// Stats returns the loop counters.
func (c *Controller) Stats() Stats { return c.stats }

// Snapshot describes the controller state in the given phase.
func (c *Controller) Snapshot(phase string) status.Snapshot {
	s := status.Snapshot{
		Time:          c.opts.Now(),
		Phase:         phase,
		State:         c.state.String(),
		Score:         c.acc.Score(),
		Count:         c.acc.Count(),
		Fix:           c.acc.Last(),
		HaveFix:       c.haveFix,
		Joined:        c.joined,
		UplinkCounter: c.opts.Radio.UplinkCounter(),
		Uplinks:       c.stats.Uplinks,
		SendFailures:  c.stats.SendFailures,
		Timeouts:      c.stats.Timeouts,
	}
	if len(c.lastTx) > 0 {
		s.LastPayload = hex.EncodeToString(c.lastTx)
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Controller) publish(phase string) {
	if c.opts.Observer == nil {
		return
	}
	c.opts.Observer.Observe(c.Snapshot(phase))
}
