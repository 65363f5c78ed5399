package drivers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gotmc/labdaq/lib/csvlog"
)

// Virtual is a file-backed device: a small CSV with one header row of
// quantity keys and one data row of current values. The poll loop
// publishes output quantities through virtual devices so the ramp
// controller and the dashboard can read and set them without touching
// the instrument links.
type Virtual struct {
	name string
	path string
	keys []string
}

// CreateVirtual creates (or truncates) a virtual device file with the
// given quantities, all initialized to zero.
func CreateVirtual(dir, name string, quantities []string) (*Virtual, error) {
	if len(quantities) == 0 {
		return nil, fmt.Errorf("virtual device %q: no quantities", name)
	}
	v := &Virtual{
		name: name,
		path: filepath.Join(dir, name),
		keys: append([]string(nil), quantities...),
	}
	vals := make([]float64, len(quantities))
	if err := v.write(vals); err != nil {
		return nil, err
	}
	return v, nil
}

// OpenVirtual opens an existing virtual device file.
func OpenVirtual(path string) (*Virtual, error) {
	frame, err := csvlog.ReadFrame(path)
	if err != nil {
		return nil, fmt.Errorf("opening virtual device: %w", err)
	}
	if len(frame.Keys) == 0 {
		return nil, fmt.Errorf("virtual device %s: empty file", path)
	}
	return &Virtual{
		name: filepath.Base(path),
		path: path,
		keys: frame.Keys,
	}, nil
}

// Name returns the device name.
func (v *Virtual) Name() string { return v.name }

// Path returns the backing file path.
func (v *Virtual) Path() string { return v.path }

// Quantities returns the quantity keys the device carries.
func (v *Virtual) Quantities() []string {
	return append([]string(nil), v.keys...)
}

// Measure reads the current value of a quantity.
func (v *Virtual) Measure(_ context.Context, quantity string) (float64, error) {
	frame, err := csvlog.ReadFrame(v.path)
	if err != nil {
		return 0, fmt.Errorf("virtual device %s: %w", v.name, err)
	}
	raw, ok := frame.Last(quantity)
	if !ok {
		return 0, fmt.Errorf("virtual device %s: no quantity %q", v.name, quantity)
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("virtual device %s: bad value %q: %w", v.name, raw, err)
	}
	return val, nil
}

// Set writes a new value for a quantity, leaving the others untouched.
// The file is replaced atomically so concurrent readers never see a
// half-written device.
func (v *Virtual) Set(ctx context.Context, quantity string, value float64) error {
	vals := make([]float64, len(v.keys))
	found := false
	for i, key := range v.keys {
		cur, err := v.Measure(ctx, key)
		if err != nil {
			return err
		}
		vals[i] = cur
		if key == quantity {
			vals[i] = value
			found = true
		}
	}
	if !found {
		return fmt.Errorf("virtual device %s: no quantity %q", v.name, quantity)
	}
	return v.write(vals)
}

// Close removes the backing file.
func (v *Virtual) Close() error {
	if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (v *Virtual) write(vals []float64) error {
	row := make([]string, len(vals))
	for i, val := range vals {
		row[i] = strconv.FormatFloat(val, 'f', -1, 64)
	}
	tmp := v.path + ".tmp"
	os.Remove(tmp) // stale leftover from a crashed writer
	w, err := csvlog.NewWriter(tmp)
	if err != nil {
		return fmt.Errorf("virtual device %s: %w", v.name, err)
	}
	if err := w.WriteRow(v.keys, row); err != nil {
		w.Close()
		os.Remove(tmp)
		return fmt.Errorf("virtual device %s: %w", v.name, err)
	}
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("virtual device %s: %w", v.name, err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("virtual device %s: %w", v.name, err)
	}
	return nil
}
