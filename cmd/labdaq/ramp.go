// Copyright (c) 2025–2026 The labdaq developers. All rights reserved.
// Project site: https://github.com/gotmc/labdaq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/gotmc/labdaq/lib/config"
	"github.com/gotmc/labdaq/lib/control"
	"github.com/gotmc/labdaq/lib/drivers"
	"github.com/gotmc/labdaq/lib/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func rampCmd() *cobra.Command {
	var (
		device   string
		quantity string
		value    float64
		start    float64
		step     float64
		dwell    float64
	)
	cmd := &cobra.Command{
		Use:   "ramp",
		Short: "Ramp a device quantity to a target value",
		Long: "Ramp steps the named quantity of a virtual device file from its\n" +
			"current value (or --start) to --value in --step increments, waiting\n" +
			"--time seconds between steps. A running acquisition session picks\n" +
			"the new setpoints up on its next cycle.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if device == "" || quantity == "" {
				return fmt.Errorf("--device and --quantity are required")
			}
			dirs, err := config.ResolveDirs(flagBaseDir)
			if err != nil {
				return err
			}
			dev, err := drivers.OpenVirtual(filepath.Join(dirs.Device, filepath.Base(device)))
			if err != nil {
				return err
			}

			logFile := logging.FileName(dirs.Log, "ramp-"+dev.Name(), time.Now())
			log, err := logging.New(flagVerbose, logFile)
			if err != nil {
				return err
			}
			defer log.Sync()

			r := control.Ramp{
				Device:    dev,
				Quantity:  quantity,
				Target:    value,
				Step:      step,
				Dwell:     time.Duration(dwell * float64(time.Second)),
				Log:       log,
				HaveStart: cmd.Flags().Changed("start"),
				Start:     start,
			}
			log.Info("ramp starting",
				zap.String("device", dev.Name()),
				zap.String("quantity", quantity),
				zap.Float64("target", value),
			)
			return r.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&device, "device", "d", "", "virtual device name")
	cmd.Flags().StringVarP(&quantity, "quantity", "q", "", "quantity to ramp")
	cmd.Flags().Float64Var(&value, "value", 0, "target value")
	cmd.Flags().Float64Var(&start, "start", 0, "first value (default: current device value)")
	cmd.Flags().Float64Var(&step, "step", 0, "increment per step (0 jumps straight to the target)")
	cmd.Flags().Float64Var(&dwell, "time", 0, "seconds to wait between steps")
	return cmd
}
