// Package drivers is the instrument adapter layer: thin pass-throughs
// that turn configured instruments into things the poll loop can read.
// Communication is line-oriented text (SCPI, or the Fluke bridge's
// command set) over whatever link the address names.
package drivers

import (
	"context"
	"fmt"
	"io"

	"github.com/gotmc/labdaq/lib/config"
	"github.com/gotmc/query"
)

// Instrument is one entry in the readout chain.
type Instrument interface {
	// Name returns the configured instrument name.
	Name() string

	// Measure reads one quantity, e.g. "current-dc". The reading is
	// unscaled; scaling is the caller's business.
	Measure(ctx context.Context, quantity string) (float64, error)

	// Close releases the underlying link.
	Close() error
}

// Setter is implemented by instruments whose quantities can be written.
type Setter interface {
	Set(ctx context.Context, quantity string, value float64) error
}

// commander is what the SCPI drivers need from their device layer.
type commander interface {
	query.Querier
	Command(format string, a ...any) error
}

// Factory builds a driver on top of an open link.
type Factory func(name string, rw io.ReadWriteCloser) (Instrument, error)

var registry = map[string]Factory{
	"scpi-multimeter": NewMultimeter,
	"fluke3000":       NewFluke3000,
}

// Drivers returns the registered driver names.
func Drivers() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// Open resolves the instrument address, opens the link and hands it to
// the configured driver. devDir is where virtual device files live.
func Open(cfg config.Instrument, devDir string) (Instrument, error) {
	addr, err := ParseAddress(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("instrument %q: %w", cfg.Name, err)
	}

	if addr.Scheme == schemeVirtual {
		var keys []string
		for _, m := range cfg.Measurements {
			keys = append(keys, m.Quantity)
		}
		v, err := CreateVirtual(devDir, cfg.Name, keys)
		if err != nil {
			return nil, fmt.Errorf("instrument %q: %w", cfg.Name, err)
		}
		return v, nil
	}

	factory, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("instrument %q: unknown driver %q", cfg.Name, cfg.Driver)
	}
	rw, err := openLink(addr)
	if err != nil {
		return nil, fmt.Errorf("instrument %q: %w", cfg.Name, err)
	}
	inst, err := factory(cfg.Name, rw)
	if err != nil {
		rw.Close()
		return nil, fmt.Errorf("instrument %q: %w", cfg.Name, err)
	}
	return inst, nil
}
