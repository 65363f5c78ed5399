package drivers

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Fluke3000 reads a Fluke 3000 FC wireless kit through its PC3000
// serial bridge. The bridge speaks a terse '\r'-terminated line
// protocol: wireless modules are bound once at open and read with
// "rfemd", which answers a hex payload after a "PH=" marker.
type Fluke3000 struct {
	name   string
	dev    commander
	closer io.Closer
	bound  map[int]bool
}

// Wireless module slots of the kit.
const (
	flukeMeter = 1  // 3000 FC multimeter
	flukeTemp  = 10 // t3000 FC temperature module
)

// flukeModule maps a quantity to the module that measures it.
func flukeModule(quantity string) (int, error) {
	switch quantity {
	case "temperature":
		return flukeTemp, nil
	case "voltage-dc", "voltage-ac", "current-dc", "current-ac", "resistance":
		return flukeMeter, nil
	}
	return 0, fmt.Errorf("unknown quantity %q", quantity)
}

// NewFluke3000 opens a Fluke 3000 FC bridge on the given link and binds
// the attached wireless modules. Opening fails when no module answers.
func NewFluke3000(name string, rw io.ReadWriteCloser) (Instrument, error) {
	f := &Fluke3000{
		name:   name,
		dev:    NewDevice(rw, WithWriteTerminator('\r'), WithReadTerminator('\r')),
		closer: rw,
		bound:  map[int]bool{},
	}
	if err := f.bind(); err != nil {
		rw.Close()
		return nil, fmt.Errorf("fluke %s: %w", name, err)
	}
	return f, nil
}

// bind scans for already-bound modules and, when none answer, resets
// the radio and runs a discovery before scanning again.
func (f *Fluke3000) bind() error {
	if err := f.scan(); err != nil {
		return err
	}
	if len(f.bound) > 0 {
		return nil
	}
	for _, cmd := range []string{"ri", "rfsm 1", "rfdis"} {
		if _, err := f.dev.Query(cmd); err != nil {
			return fmt.Errorf("radio reset %q: %w", cmd, err)
		}
	}
	if err := f.scan(); err != nil {
		return err
	}
	if len(f.bound) == 0 {
		return fmt.Errorf("no wireless modules bound")
	}
	return nil
}

// scan checks each module slot; a reply carrying "1PH" means a module
// is bound there.
func (f *Fluke3000) scan() error {
	for _, id := range []int{flukeMeter, flukeTemp} {
		reply, err := f.dev.Query(fmt.Sprintf("rfebd 0%d 0", id))
		if err != nil {
			return fmt.Errorf("scanning module 0%d: %w", id, err)
		}
		if strings.Contains(reply, "1PH") {
			f.bound[id] = true
		}
	}
	return nil
}

// Name returns the configured instrument name.
func (f *Fluke3000) Name() string { return f.name }

// Measure reads one quantity off the module that carries it.
func (f *Fluke3000) Measure(ctx context.Context, quantity string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id, err := flukeModule(quantity)
	if err != nil {
		return 0, fmt.Errorf("fluke %s: %w", f.name, err)
	}
	if !f.bound[id] {
		return 0, fmt.Errorf("fluke %s: no module bound for %s", f.name, quantity)
	}
	reply, err := f.dev.Query(fmt.Sprintf("rfemd 0%d 0", id))
	if err != nil {
		return 0, fmt.Errorf("fluke %s: query: %w", f.name, err)
	}
	v, err := parsePayload(reply)
	if err != nil {
		return 0, fmt.Errorf("fluke %s: %w", f.name, err)
	}
	return v, nil
}

// Close releases the underlying link.
func (f *Fluke3000) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// parsePayload decodes the hex payload of an "rfemd" reply, e.g.
//
//	ME 1PH=6908020000000000
//
// The first two bytes hold the magnitude, least significant byte first.
// The third byte carries the sign in its top bit and the number of
// decimal places in its low nibble. The bridge answers an all-zero
// magnitude when the wireless module missed the readout.
func parsePayload(s string) (float64, error) {
	_, data, ok := strings.Cut(strings.TrimSpace(s), "PH=")
	if !ok {
		return 0, fmt.Errorf("no payload in reply %q", strings.TrimSpace(s))
	}
	data = strings.TrimSpace(data)
	if len(data) < 6 {
		return 0, fmt.Errorf("short payload %q", data)
	}
	raw, err := strconv.ParseUint(data[2:4]+data[0:2], 16, 16)
	if err != nil {
		return 0, fmt.Errorf("malformed payload %q", data)
	}
	if raw == 0 {
		return 0, fmt.Errorf("zero payload (missed readout)")
	}
	scale, err := strconv.ParseUint(data[4:6], 16, 8)
	if err != nil {
		return 0, fmt.Errorf("malformed payload %q", data)
	}
	v := float64(raw)
	if n := scale & 0x0f; n > 0 {
		v /= math.Pow10(int(n))
	}
	if scale&0x80 != 0 {
		v = -v
	}
	return v, nil
}
