package find

import (
	"strings"
	"testing"
)

func testPorts() []Port {
	return []Port{
		{Dev: "ttyACM0", Mfg: "Arduino", Product: "Uno", Serial: "A603UX94"},
		{Dev: "ttyUSB0", Mfg: "FTDI", Product: "FT232R USB UART", Serial: "AB0KQ4RT"},
		{Dev: "ttyUSB1", Mfg: "Prolific", Product: "USB-Serial Controller", Serial: ""},
	}
}

func TestFilters(t *testing.T) {
	ports := testPorts()
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{"by mfg", ByManufacturer("FTDI"), "ttyUSB0"},
		{"by mfg substring", ByManufacturer("Ardu"), "ttyACM0"},
		{"by product", ByProduct("USB-Serial"), "ttyUSB1"},
		{"by serial", BySerial("A603UX94"), "ttyACM0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := pick(ports, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if dev != tt.want {
				t.Errorf("got %s, want %s", dev, tt.want)
			}
		})
	}
}

func TestPickAmbiguous(t *testing.T) {
	_, err := pick(testPorts(), nil)
	if err == nil {
		t.Fatal("expected error for multiple unfiltered ports")
	}
	if !strings.Contains(err.Error(), "multiple") {
		t.Errorf("unexpected error: %s", err)
	}
}

func TestPickNoMatch(t *testing.T) {
	if _, err := pick(testPorts(), BySerial("nope")); err == nil {
		t.Fatal("expected error for unmatched filter")
	}
	if _, err := pick(nil, nil); err == nil {
		t.Fatal("expected error for no ports")
	}
	// A lone port must not win past a filter it does not match.
	_, err := pick(testPorts()[:1], BySerial("nope"))
	if err == nil {
		t.Fatal("expected error for unmatched filter over a single port")
	}
	if !strings.Contains(err.Error(), "no matching") {
		t.Errorf("unexpected error: %s", err)
	}
}

func TestPickFilterKeepsAllMatches(t *testing.T) {
	ports := testPorts()
	ports[2].Mfg = "FTDI"
	_, err := pick(ports, ByManufacturer("FTDI"))
	if err == nil {
		t.Fatal("expected error for two matching ports")
	}
	if !strings.Contains(err.Error(), "multiple") {
		t.Errorf("unexpected error: %s", err)
	}
}

func TestPickSingle(t *testing.T) {
	dev, err := pick(testPorts()[:1], nil)
	if err != nil {
		t.Fatal(err)
	}
	if dev != "ttyACM0" {
		t.Errorf("got %s, want ttyACM0", dev)
	}
}
