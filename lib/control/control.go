// Package control ramps a controllable output quantity toward a target
// value in timed steps. It operates on the virtual device files the
// acquisition loop publishes, never on the instrument links themselves,
// so a ramp can be started and stopped independently of the run.
package control

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gotmc/labdaq/lib/drivers"
	"go.uber.org/zap"
)

// DefaultMaxFails is the number of consecutive failed device accesses
// tolerated before the ramp is aborted.
const DefaultMaxFails = 6

// Ramp steps a device quantity from a start value to a target value.
type Ramp struct {
	// Device is the virtual device holding the quantity.
	Device *drivers.Virtual

	// Quantity is the device file key to ramp.
	Quantity string

	// Target is the final value.
	Target float64

	// Start is the first value to set. When HaveStart is false the
	// current device value is used instead.
	Start     float64
	HaveStart bool

	// Step is the increment between values. Its sign is forced toward
	// the target; zero means jump straight to the target.
	Step float64

	// Dwell is the wait between steps.
	Dwell time.Duration

	// MaxFails bounds consecutive failed device accesses. Zero means
	// DefaultMaxFails.
	MaxFails int

	// Log defaults to zap.NewNop.
	Log *zap.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Run executes the ramp. It returns nil when the target has been set or
// the context was canceled between steps.
func (r *Ramp) Run(ctx context.Context) error {
	if r.Device == nil {
		return fmt.Errorf("ramp: no device")
	}
	if r.Log == nil {
		r.Log = zap.NewNop()
	}
	if r.MaxFails == 0 {
		r.MaxFails = DefaultMaxFails
	}
	if r.sleep == nil {
		r.sleep = sleepCtx
	}

	start := r.Start
	if !r.HaveStart {
		cur, err := r.read(ctx)
		if err != nil {
			return err
		}
		start = cur
	}

	values := r.values(start)
	r.Log.Info("ramp starting",
		zap.String("device", r.Device.Name()),
		zap.String("quantity", r.Quantity),
		zap.Float64("from", start),
		zap.Float64("to", r.Target),
		zap.Int("steps", len(values)),
	)

	for i, v := range values {
		if err := r.set(ctx, v); err != nil {
			return err
		}
		r.Log.Info("ramp step",
			zap.Int("step", i+1),
			zap.Int("of", len(values)),
			zap.Float64("value", v),
		)
		if i == len(values)-1 {
			break
		}
		if err := r.sleep(ctx, r.Dwell); err != nil {
			r.Log.Info("ramp canceled", zap.Float64("at", v))
			return nil
		}
	}
	return nil
}

// values builds the sequence of values to set, ending exactly on the
// target. The start value itself is assumed to already be set.
func (r *Ramp) values(start float64) []float64 {
	if r.Step == 0 || start == r.Target {
		return []float64{r.Target}
	}
	step := math.Abs(r.Step)
	if start > r.Target {
		step = -step
	}
	span := math.Abs(r.Target - start)
	var vals []float64
	for v := start + step; math.Abs(v-start) < span; v += step {
		vals = append(vals, v)
	}
	return append(vals, r.Target)
}

func (r *Ramp) read(ctx context.Context) (float64, error) {
	var v float64
	err := r.retry(ctx, "read", func() error {
		var err error
		v, err = r.Device.Measure(ctx, r.Quantity)
		return err
	})
	return v, err
}

func (r *Ramp) set(ctx context.Context, v float64) error {
	return r.retry(ctx, "set", func() error {
		return r.Device.Set(ctx, r.Quantity, v)
	})
}

// retry runs op up to MaxFails times. Every fifth consecutive failure
// backs off for a minute, any other failure for a second, matching the
// cadence a human would use before giving up on a flaky device file.
func (r *Ramp) retry(ctx context.Context, what string, op func() error) error {
	for i := 1; ; i++ {
		err := op()
		if err == nil {
			return nil
		}
		r.Log.Error("ramp device access failed",
			zap.String("op", what),
			zap.String("device", r.Device.Name()),
			zap.Int("consecutive", i),
			zap.Error(err),
		)
		if i >= r.MaxFails {
			return fmt.Errorf("ramp: %s %s: %d consecutive failures: %w",
				what, r.Device.Name(), i, err)
		}
		wait := time.Second
		if i%5 == 0 {
			wait = time.Minute
		}
		if serr := r.sleep(ctx, wait); serr != nil {
			return fmt.Errorf("ramp: canceled while retrying %s: %w", what, err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
