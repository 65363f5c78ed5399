// Copyright (c) 2025–2026 The labdaq developers. All rights reserved.
// Project site: https://github.com/gotmc/labdaq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labdaq

import (
	"fmt"

	"github.com/gotmc/labdaq/lib/drivers"
)

// Measurement is one quantity recorded each poll cycle.
type Measurement struct {
	Instrument drivers.Instrument
	Quantity   string  // driver-level quantity, e.g. "current-dc"
	Scale      float64 // multiplies the raw reading
	Name       string  // display name, e.g. "Current"
	Unit       string  // display unit, e.g. "nA"
}

// Key returns the data file column key for the measurement.
func (m Measurement) Key() string {
	return fmt.Sprintf("%s [%s]", m.Name, m.Unit)
}
