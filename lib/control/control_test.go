package control

import (
	"context"
	"testing"
	"time"

	"github.com/gotmc/labdaq/lib/drivers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDevice(t *testing.T, initial float64) *drivers.Virtual {
	t.Helper()
	dev, err := drivers.CreateVirtual(t.TempDir(), "psu", []string{"Voltage [V]"})
	require.NoError(t, err)
	if initial != 0 {
		require.NoError(t, dev.Set(context.Background(), "Voltage [V]", initial))
	}
	return dev
}

// noSleep records requested waits without waiting.
func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestRampValues(t *testing.T) {
	tests := []struct {
		name   string
		start  float64
		target float64
		step   float64
		want   []float64
	}{
		{"up", 0, 1, 0.25, []float64{0.25, 0.5, 0.75, 1}},
		{"down with positive step", 10, 8, 1, []float64{9, 8}},
		{"step overshoots", 0, 1, 0.4, []float64{0.4, 0.8, 1}},
		{"zero step jumps", 0, 5, 0, []float64{5}},
		{"already there", 3, 3, 0.5, []float64{3}},
		{"step larger than span", 0, 1, 10, []float64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Ramp{Target: tt.target, Step: tt.step}
			vals := r.values(tt.start)
			require.Len(t, vals, len(tt.want))
			for i := range vals {
				assert.InDelta(t, tt.want[i], vals[i], 1e-9)
			}
		})
	}
}

func TestRampRunsToTarget(t *testing.T) {
	dev := newDevice(t, 0)
	var waits []time.Duration
	r := &Ramp{
		Device:    dev,
		Quantity:  "Voltage [V]",
		Target:    1,
		Start:     0,
		HaveStart: true,
		Step:      0.5,
		Dwell:     30 * time.Second,
		sleep:     noSleep(&waits),
	}
	require.NoError(t, r.Run(context.Background()))

	v, err := dev.Measure(context.Background(), "Voltage [V]")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
	// Two steps (0.5, 1.0) means one dwell between them and none after
	// the final set.
	assert.Equal(t, []time.Duration{30 * time.Second}, waits)
}

func TestRampReadsStartFromDevice(t *testing.T) {
	dev := newDevice(t, 10)
	var waits []time.Duration
	r := &Ramp{
		Device:   dev,
		Quantity: "Voltage [V]",
		Target:   8,
		Step:     1,
		sleep:    noSleep(&waits),
	}
	require.NoError(t, r.Run(context.Background()))

	v, err := dev.Measure(context.Background(), "Voltage [V]")
	require.NoError(t, err)
	assert.Equal(t, 8.0, v)
}

func TestRampCanceledBetweenSteps(t *testing.T) {
	dev := newDevice(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	r := &Ramp{
		Device:    dev,
		Quantity:  "Voltage [V]",
		Target:    10,
		Start:     0,
		HaveStart: true,
		Step:      1,
		sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}
	require.NoError(t, r.Run(ctx))

	// Only the first step landed.
	v, err := dev.Measure(context.Background(), "Voltage [V]")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestRampRetryBackoff(t *testing.T) {
	var waits []time.Duration
	calls := 0
	r := &Ramp{
		Device:   newDevice(t, 0),
		Quantity: "Voltage [V]",
		MaxFails: 6,
		Log:      zap.NewNop(),
		sleep:    noSleep(&waits),
	}
	err := r.retry(context.Background(), "set", func() error {
		calls++
		if calls <= 5 {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 6, calls)
	// Failures 1-4 back off a second, the fifth a minute.
	assert.Equal(t, []time.Duration{
		time.Second, time.Second, time.Second, time.Second, time.Minute,
	}, waits)
}

func TestRampRetryGivesUp(t *testing.T) {
	var waits []time.Duration
	r := &Ramp{
		Device:   newDevice(t, 0),
		Quantity: "Voltage [V]",
		MaxFails: 3,
		Log:      zap.NewNop(),
		sleep:    noSleep(&waits),
	}
	err := r.retry(context.Background(), "read", func() error { return assert.AnError })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 consecutive failures")
}

func TestRampNoDevice(t *testing.T) {
	assert.Error(t, (&Ramp{}).Run(context.Background()))
}
