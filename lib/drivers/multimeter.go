package drivers

import (
	"context"
	"fmt"
	"io"

	"github.com/gotmc/query"
)

// scpiModes maps quantity names to the MEASure function of a generic
// SCPI multimeter.
var scpiModes = map[string]string{
	"voltage-dc":  "VOLT:DC",
	"voltage-ac":  "VOLT:AC",
	"current-dc":  "CURR:DC",
	"current-ac":  "CURR:AC",
	"resistance":  "RES",
	"temperature": "TEMP",
}

// Multimeter is a generic SCPI digital multimeter.
type Multimeter struct {
	name   string
	dev    commander
	closer io.Closer
}

// NewMultimeter opens a generic SCPI multimeter on the given link.
func NewMultimeter(name string, rw io.ReadWriteCloser) (Instrument, error) {
	return &Multimeter{name: name, dev: NewDevice(rw), closer: rw}, nil
}

// Name returns the configured instrument name.
func (m *Multimeter) Name() string { return m.name }

// Measure reads one quantity with a MEASure query, e.g.
// "MEAS:CURR:DC?".
func (m *Multimeter) Measure(ctx context.Context, quantity string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	mode, ok := scpiModes[quantity]
	if !ok {
		return 0, fmt.Errorf("multimeter %s: unknown quantity %q", m.name, quantity)
	}
	v, err := query.Float64(m.dev, fmt.Sprintf("MEAS:%s?", mode))
	if err != nil {
		return 0, fmt.Errorf("multimeter %s: reading %s: %w", m.name, quantity, err)
	}
	return v, nil
}

// Close releases the underlying link.
func (m *Multimeter) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}
