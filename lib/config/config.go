// Package config loads the declarative run description for a data
// acquisition session: which instruments to open, which quantities to
// record, and where the output files live.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultMaxFails is the number of consecutive failed readings an
// instrument is allowed before the run is aborted.
const DefaultMaxFails = 6

// Config describes a single acquisition run.
type Config struct {
	// Name is the stem of the output data file.
	Name string `yaml:"name"`

	// SamplingTime is the total run duration in seconds. Zero means
	// run until interrupted.
	SamplingTime float64 `yaml:"sampling_time"`

	// RefreshRate is the time between poll cycles in seconds. Zero
	// means poll as fast as the instruments can cope.
	RefreshRate float64 `yaml:"refresh_rate"`

	Instruments []Instrument `yaml:"instruments"`

	// Outputs are controllable quantities published as file-backed
	// virtual devices while the run is live.
	Outputs []Output `yaml:"outputs"`
}

// Instrument describes one instrument in the readout chain.
type Instrument struct {
	Name    string `yaml:"name"`
	Driver  string `yaml:"driver"`
	Address string `yaml:"address"`

	// MaxFails overrides DefaultMaxFails for this instrument.
	MaxFails int `yaml:"max_fails"`

	Measurements []Measurement `yaml:"measurements"`
}

// Measurement describes one quantity read from an instrument each cycle.
type Measurement struct {
	// Quantity is the driver-level name, e.g. "current-dc".
	Quantity string `yaml:"quantity"`

	// Name and Unit form the data file column key, "Name [Unit]".
	Name string `yaml:"name"`
	Unit string `yaml:"unit"`

	// Scale multiplies the raw reading before it is recorded. Defaults
	// to 1.
	Scale float64 `yaml:"scale"`
}

// Key returns the data file column key for the measurement.
func (m Measurement) Key() string {
	return fmt.Sprintf("%s [%s]", m.Name, m.Unit)
}

// Output describes a controllable quantity published as a virtual device.
type Output struct {
	Name     string `yaml:"name"`
	Quantity string `yaml:"quantity"`
}

// Load reads and validates a run description.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a run description.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Instruments {
		inst := &c.Instruments[i]
		if inst.MaxFails == 0 {
			inst.MaxFails = DefaultMaxFails
		}
		for j := range inst.Measurements {
			if inst.Measurements[j].Scale == 0 {
				inst.Measurements[j].Scale = 1
			}
		}
	}
}

// Validate checks the run description for the mistakes that would
// otherwise only surface mid-run.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: name must not be empty")
	}
	if c.SamplingTime < 0 {
		return fmt.Errorf("config: sampling_time must not be negative")
	}
	if c.RefreshRate < 0 {
		return fmt.Errorf("config: refresh_rate must not be negative")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("config: no instruments configured")
	}
	keys := map[string]string{}
	names := map[string]bool{}
	for _, inst := range c.Instruments {
		if inst.Name == "" {
			return fmt.Errorf("config: instrument with empty name")
		}
		if names[inst.Name] {
			return fmt.Errorf("config: duplicate instrument %q", inst.Name)
		}
		names[inst.Name] = true
		if inst.Driver == "" {
			return fmt.Errorf("config: instrument %q: driver must not be empty", inst.Name)
		}
		if inst.Address == "" {
			return fmt.Errorf("config: instrument %q: address must not be empty", inst.Name)
		}
		if inst.MaxFails < 0 {
			return fmt.Errorf("config: instrument %q: max_fails must not be negative", inst.Name)
		}
		if len(inst.Measurements) == 0 {
			return fmt.Errorf("config: instrument %q: no measurements", inst.Name)
		}
		for _, m := range inst.Measurements {
			if m.Quantity == "" || m.Name == "" || m.Unit == "" {
				return fmt.Errorf(
					"config: instrument %q: measurement needs quantity, name and unit",
					inst.Name,
				)
			}
			if m.Scale <= 0 {
				return fmt.Errorf(
					"config: instrument %q: measurement %q: scale must be positive",
					inst.Name, m.Name,
				)
			}
			if prev, dup := keys[m.Key()]; dup {
				return fmt.Errorf(
					"config: column %q defined by both %q and %q",
					m.Key(), prev, inst.Name,
				)
			}
			keys[m.Key()] = inst.Name
		}
	}
	for _, out := range c.Outputs {
		if out.Name == "" || out.Quantity == "" {
			return fmt.Errorf("config: output needs name and quantity")
		}
	}
	return nil
}

// Keys returns the data file column keys in configuration order, not
// including the time columns.
func (c *Config) Keys() []string {
	var keys []string
	for _, inst := range c.Instruments {
		for _, m := range inst.Measurements {
			keys = append(keys, m.Key())
		}
	}
	return keys
}

// envBase is consulted when no base directory is given explicitly.
const envBase = "DAQ_BASEDIR"

// Dirs holds the directories a session works in.
type Dirs struct {
	Base   string
	Config string
	Data   string
	Device string
	Log    string
}

// ResolveDirs determines the working directories from an explicit base
// directory or, when base is empty, from the DAQ_BASEDIR environment
// variable.
func ResolveDirs(base string) (Dirs, error) {
	if base == "" {
		base = os.Getenv(envBase)
	}
	if base == "" {
		return Dirs{}, fmt.Errorf("no base directory: pass one or set %s", envBase)
	}
	return Dirs{
		Base:   base,
		Config: filepath.Join(base, "config"),
		Data:   filepath.Join(base, "data"),
		Device: filepath.Join(base, "devices"),
		Log:    filepath.Join(base, "log"),
	}, nil
}

// Ensure creates any missing working directories.
func (d Dirs) Ensure() error {
	for _, dir := range []string{d.Config, d.Data, d.Device, d.Log} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
