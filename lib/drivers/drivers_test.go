package drivers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gotmc/labdaq/lib/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want Address
	}{
		{"usbtmc:/dev/usbtmc0", Address{Scheme: "usbtmc", Target: "/dev/usbtmc0", Baud: 115200}},
		{"serial:/dev/ttyUSB0?baud=9600", Address{Scheme: "serial", Target: "/dev/ttyUSB0", Baud: 9600}},
		{
			"serial:auto?serial=A603UX94",
			Address{Scheme: "serial", Target: "auto", Baud: 115200, Serial: "A603UX94"},
		},
		{"tcp:scope.local:5555", Address{Scheme: "tcp", Target: "scope.local:5555", Baud: 115200}},
		{"virtual:psu", Address{Scheme: "virtual", Target: "psu", Baud: 115200}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAddressErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"noscheme",
		"serial:",
		"gpib:/dev/ttyUSB0",
		"serial:/dev/ttyUSB0?baud=fast",
		"serial:/dev/ttyUSB0?baud=-1",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseAddress(in)
			assert.Error(t, err)
		})
	}
}

func TestMultimeterMeasure(t *testing.T) {
	link := newFakeLink("+1.234500E-02\n")
	inst, err := NewMultimeter("keithley", link)
	require.NoError(t, err)

	v, err := inst.Measure(context.Background(), "current-dc")
	require.NoError(t, err)
	assert.InDelta(t, 1.2345e-2, v, 1e-12)
	assert.Equal(t, "MEAS:CURR:DC?\n", link.wrote.String())
}

func TestMultimeterUnknownQuantity(t *testing.T) {
	inst, err := NewMultimeter("keithley", newFakeLink(""))
	require.NoError(t, err)

	_, err = inst.Measure(context.Background(), "humidity")
	assert.ErrorContains(t, err, "unknown quantity")
}

func TestMultimeterCanceledContext(t *testing.T) {
	inst, err := NewMultimeter("keithley", newFakeLink("+1.0\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = inst.Measure(ctx, "voltage-dc")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMultimeterClose(t *testing.T) {
	link := newFakeLink("")
	inst, err := NewMultimeter("keithley", link)
	require.NoError(t, err)
	require.NoError(t, inst.Close())
	assert.True(t, link.closed)
}

func TestFluke3000Measure(t *testing.T) {
	// Both module slots answer the bind scan, then the t3000 reports
	// 21.53 degrees (0x0869, two decimal places).
	link := newFakeLink("CR 1PH=FF\rCR 1PH=FF\rME 1PH=6908020000000000\r")
	inst, err := NewFluke3000("fluke", link)
	require.NoError(t, err)

	v, err := inst.Measure(context.Background(), "temperature")
	require.NoError(t, err)
	assert.InDelta(t, 21.53, v, 1e-9)
	assert.Equal(t, "rfebd 01 0\rrfebd 010 0\rrfemd 010 0\r", link.wrote.String())
}

func TestFluke3000BindsAfterRadioReset(t *testing.T) {
	// The first scan finds nothing; after "ri"/"rfsm 1"/"rfdis" the
	// meter slot answers.
	link := newFakeLink(
		"CR 0\rCR 0\r" + // empty scan
			"CR 1\rCR 1\rCR 1\r" + // reset acks
			"CR 1PH=FF\rCR 0\r") // rescan: meter only
	inst, err := NewFluke3000("fluke", link)
	require.NoError(t, err)

	_, err = inst.Measure(context.Background(), "temperature")
	assert.ErrorContains(t, err, "no module bound")
}

func TestFluke3000NoModules(t *testing.T) {
	link := newFakeLink("CR 0\rCR 0\rCR 1\rCR 1\rCR 1\rCR 0\rCR 0\r")
	_, err := NewFluke3000("fluke", link)
	assert.ErrorContains(t, err, "no wireless modules bound")
	assert.True(t, link.closed)
}

func TestFluke3000ZeroIsFailure(t *testing.T) {
	link := newFakeLink("CR 1PH=FF\rCR 1PH=FF\rME 1PH=0000020000000000\r")
	inst, err := NewFluke3000("fluke", link)
	require.NoError(t, err)

	_, err = inst.Measure(context.Background(), "temperature")
	assert.ErrorContains(t, err, "missed readout")
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		in      string
		value   float64
		wantErr string
	}{
		{"ME 1PH=6908020000000000\r", 21.53, ""},
		{"ME 1PH=0C00820000000000\r", -0.12, ""},
		{"ME 1PH=E803000000000000\r", 1000, ""},
		{"garbage", 0, "no payload"},
		{"ME 1PH=69\r", 0, "short payload"},
		{"ME 1PH=ZZZZ02\r", 0, "malformed payload"},
		{"ME 1PH=0000000000000000\r", 0, "missed readout"},
	}
	for _, tt := range tests {
		v, err := parsePayload(tt.in)
		if tt.wantErr != "" {
			assert.ErrorContains(t, err, tt.wantErr, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.value, v, 1e-9, tt.in)
	}
}

func TestVirtualRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	v, err := CreateVirtual(dir, "power-supply", []string{"Voltage [V]", "Current [A]"})
	require.NoError(t, err)
	assert.Equal(t, "power-supply", v.Name())
	assert.Equal(t, []string{"Voltage [V]", "Current [A]"}, v.Quantities())

	val, err := v.Measure(ctx, "Voltage [V]")
	require.NoError(t, err)
	assert.Zero(t, val)

	require.NoError(t, v.Set(ctx, "Voltage [V]", 12.5))
	val, err = v.Measure(ctx, "Voltage [V]")
	require.NoError(t, err)
	assert.Equal(t, 12.5, val)

	// The other quantity is untouched.
	val, err = v.Measure(ctx, "Current [A]")
	require.NoError(t, err)
	assert.Zero(t, val)

	// A second handle on the same file sees the value.
	reopened, err := OpenVirtual(v.Path())
	require.NoError(t, err)
	val, err = reopened.Measure(ctx, "Voltage [V]")
	require.NoError(t, err)
	assert.Equal(t, 12.5, val)

	_, err = v.Measure(ctx, "Power [W]")
	assert.Error(t, err)
	assert.Error(t, v.Set(ctx, "Power [W]", 1))

	require.NoError(t, v.Close())
	_, err = OpenVirtual(v.Path())
	assert.Error(t, err)
}

func TestOpenVirtualDriver(t *testing.T) {
	dir := t.TempDir()
	inst, err := Open(config.Instrument{
		Name:    "fake-psu",
		Driver:  "virtual",
		Address: "virtual:fake-psu",
		Measurements: []config.Measurement{
			{Quantity: "voltage-dc", Name: "Voltage", Unit: "V", Scale: 1},
		},
	}, dir)
	require.NoError(t, err)
	defer inst.Close()

	assert.FileExists(t, filepath.Join(dir, "fake-psu"))
	v, err := inst.Measure(context.Background(), "voltage-dc")
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(config.Instrument{
		Name:    "mystery",
		Driver:  "quantum-voltmeter",
		Address: "tcp:localhost:9999",
	}, t.TempDir())
	assert.ErrorContains(t, err, "unknown driver")
}

var (
	_ Instrument = (*Multimeter)(nil)
	_ Instrument = (*Fluke3000)(nil)
	_ Instrument = (*Virtual)(nil)
	_ Setter     = (*Virtual)(nil)
)
