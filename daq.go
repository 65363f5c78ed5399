// Copyright (c) 2025–2026 The labdaq developers. All rights reserved.
// Project site: https://github.com/gotmc/labdaq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package labdaq runs configuration-driven data-acquisition sessions:
// it opens the configured instruments, polls every measurement at a
// fixed cadence, and appends timestamped rows to a CSV data file. A
// failing instrument is retried for a bounded number of cycles before
// the run is aborted; a single failed cycle is skipped, never recorded
// as zeros.
package labdaq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gotmc/labdaq/lib/config"
	"github.com/gotmc/labdaq/lib/csvlog"
	"github.com/gotmc/labdaq/lib/drivers"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// datetimeLayout is the wall-clock stamp recorded with each row.
const datetimeLayout = "2006-01-02_15-04-05.000000"

// Opener turns a configured instrument into an open one. It exists so
// sessions can be assembled over fake instruments in tests.
type Opener func(cfg config.Instrument, devDir string) (drivers.Instrument, error)

// Session owns everything a single acquisition run touches: the open
// instruments, the data file, and the virtual devices that publish the
// controllable output quantities.
type Session struct {
	name         string
	samplingTime time.Duration
	refreshRate  time.Duration

	meas     []Measurement
	insts    []drivers.Instrument
	maxFails map[string]int
	fails    map[string]int
	bindings []*binding

	w        *csvlog.Writer
	dataFile string

	log    *zap.Logger
	clock  func() time.Time
	opener Opener
}

// binding ties a virtual output device to a settable instrument. The
// device file holds the setpoint; when something (the ramp controller,
// the dashboard) rewrites it, the new value is pushed to the
// instrument on the next cycle.
type binding struct {
	dev      *drivers.Virtual
	setter   drivers.Setter
	inst     string
	quantity string // instrument-level quantity
	key      string // column key, also the device file key
	last     float64
	primed   bool
}

// SessionOption applies an option to the session.
type SessionOption func(*Session)

// WithLogger sets the session logger. The default is zap.NewNop.
func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithClock overrides the wall clock.
func WithClock(fn func() time.Time) SessionOption {
	return func(s *Session) { s.clock = fn }
}

// WithOpener overrides how instruments are opened.
func WithOpener(fn Opener) SessionOption {
	return func(s *Session) { s.opener = fn }
}

// NewSession opens every configured instrument, creates the timestamped
// data file under dirs.Data and the virtual output devices under
// dirs.Device. On any failure everything opened so far is closed again.
func NewSession(cfg *config.Config, dirs config.Dirs, opts ...SessionOption) (*Session, error) {
	s := &Session{
		name:         cfg.Name,
		samplingTime: secs(cfg.SamplingTime),
		refreshRate:  secs(cfg.RefreshRate),
		maxFails:     map[string]int{},
		fails:        map[string]int{},
		log:          zap.NewNop(),
		clock:        time.Now,
		opener:       drivers.Open,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, ic := range cfg.Instruments {
		inst, err := s.opener(ic, dirs.Device)
		if err != nil {
			return nil, multierr.Append(err, s.Close())
		}
		s.insts = append(s.insts, inst)
		s.maxFails[ic.Name] = ic.MaxFails
		for _, mc := range ic.Measurements {
			s.meas = append(s.meas, Measurement{
				Instrument: inst,
				Quantity:   mc.Quantity,
				Scale:      mc.Scale,
				Name:       mc.Name,
				Unit:       mc.Unit,
			})
		}
	}

	for _, out := range cfg.Outputs {
		b, err := s.bind(out, dirs.Device)
		if err != nil {
			return nil, multierr.Append(err, s.Close())
		}
		s.bindings = append(s.bindings, b)
	}

	s.dataFile = csvlog.FileName(dirs.Data, cfg.Name, s.clock())
	w, err := csvlog.NewWriter(s.dataFile)
	if err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	s.w = w

	s.log.Info("session ready",
		zap.String("name", s.name),
		zap.String("data_file", s.dataFile),
		zap.Int("measurements", len(s.meas)),
	)
	return s, nil
}

// bind resolves an output quantity against the measurement chain and
// publishes it as a virtual device.
func (s *Session) bind(out config.Output, devDir string) (*binding, error) {
	for _, m := range s.meas {
		if m.Key() != out.Quantity {
			continue
		}
		setter, ok := m.Instrument.(drivers.Setter)
		if !ok {
			return nil, fmt.Errorf("output %q: instrument %q is not settable",
				out.Name, m.Instrument.Name())
		}
		dev, err := drivers.CreateVirtual(devDir, out.Name, []string{out.Quantity})
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", out.Name, err)
		}
		return &binding{
			dev:      dev,
			setter:   setter,
			inst:     m.Instrument.Name(),
			quantity: m.Quantity,
			key:      out.Quantity,
		}, nil
	}
	return nil, fmt.Errorf("output %q: no measurement records %q", out.Name, out.Quantity)
}

// DataFile returns the path of the data file this session writes.
func (s *Session) DataFile() string { return s.dataFile }

// Keys returns the data file column keys.
func (s *Session) Keys() []string {
	keys := []string{"time", "datetime"}
	for _, m := range s.meas {
		keys = append(keys, m.Key())
	}
	return keys
}

// Run polls until the sampling time is up or the context is canceled.
// It returns an error when an instrument exceeds its consecutive
// failure budget or the data file cannot be written; cancellation is a
// normal stop.
func (s *Session) Run(ctx context.Context) error {
	start := s.clock()
	keys := s.Keys()
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		cycleStart := s.clock()

		if err := s.applySetpoints(ctx); err != nil {
			return err
		}

		row, err := s.cycle(ctx, start, cycleStart)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			return err
		case row != nil:
			if err := s.w.WriteRow(keys, row); err != nil {
				return err
			}
			if err := s.w.Flush(); err != nil {
				return fmt.Errorf("flushing data file: %w", err)
			}
		}

		if s.samplingTime > 0 && s.clock().Sub(start) >= s.samplingTime {
			s.log.Info("sampling time reached", zap.Duration("sampling_time", s.samplingTime))
			return nil
		}

		// Cadence compensation: the cycle duration counts toward the
		// refresh interval.
		if s.refreshRate > 0 {
			if d := s.refreshRate - s.clock().Sub(cycleStart); d > 0 {
				timer.Reset(d)
				select {
				case <-ctx.Done():
					return nil
				case <-timer.C:
				}
			}
		}
	}
}

// cycle reads every measurement once. A nil row with a nil error means
// the cycle had a failed reading and is skipped.
func (s *Session) cycle(ctx context.Context, start, cycleStart time.Time) ([]string, error) {
	row := make([]string, 0, len(s.meas)+2)
	row = append(row,
		strconv.FormatFloat(cycleStart.Sub(start).Seconds(), 'f', 6, 64),
		cycleStart.Format(datetimeLayout),
	)

	skip := false
	for _, m := range s.meas {
		v, err := m.Instrument.Measure(ctx, m.Quantity)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			name := m.Instrument.Name()
			s.fails[name]++
			s.log.Warn("failed reading",
				zap.String("instrument", name),
				zap.String("quantity", m.Quantity),
				zap.Int("consecutive", s.fails[name]),
				zap.Error(err),
			)
			if s.fails[name] >= s.maxFails[name] {
				return nil, fmt.Errorf("instrument %q: %d consecutive failed readings: %w",
					name, s.fails[name], err)
			}
			skip = true
			continue
		}
		s.fails[m.Instrument.Name()] = 0
		row = append(row, strconv.FormatFloat(v*m.Scale, 'g', -1, 64))
	}
	if skip {
		return nil, nil
	}
	return row, nil
}

// applySetpoints pushes externally changed output values to their
// instruments. The first read only primes the baseline so a fresh
// device file full of zeros is not written to hardware.
func (s *Session) applySetpoints(ctx context.Context) error {
	for _, b := range s.bindings {
		v, err := b.dev.Measure(ctx, b.key)
		if err != nil {
			s.log.Warn("unreadable output device",
				zap.String("device", b.dev.Name()), zap.Error(err))
			continue
		}
		if !b.primed {
			b.last = v
			b.primed = true
			continue
		}
		if v == b.last {
			continue
		}
		if err := b.setter.Set(ctx, b.quantity, v); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("failed to apply setpoint",
				zap.String("instrument", b.inst),
				zap.String("quantity", b.quantity),
				zap.Float64("value", v),
				zap.Error(err),
			)
			continue
		}
		s.log.Info("setpoint applied",
			zap.String("instrument", b.inst),
			zap.String("quantity", b.quantity),
			zap.Float64("value", v),
		)
		b.last = v
	}
	return nil
}

// Close releases every instrument, removes the virtual device files and
// closes the data file. Errors are collected, not short-circuited.
func (s *Session) Close() error {
	var err error
	for _, inst := range s.insts {
		err = multierr.Append(err, inst.Close())
	}
	for _, b := range s.bindings {
		err = multierr.Append(err, b.dev.Close())
	}
	if s.w != nil {
		err = multierr.Append(err, s.w.Close())
	}
	return err
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
