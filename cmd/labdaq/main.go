// Copyright (c) 2025–2026 The labdaq developers. All rights reserved.
// Project site: https://github.com/gotmc/labdaq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Command labdaq runs acquisition sessions, ramps device setpoints, and
// serves the dashboard.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	flagVerbose bool
	flagBaseDir string
)

func main() {
	root := &cobra.Command{
		Use:           "labdaq",
		Short:         "Laboratory data acquisition",
		Long:          "labdaq polls instruments per a YAML configuration and logs timestamped CSV data.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"enable debug logging")
	root.PersistentFlags().StringVar(&flagBaseDir, "base-dir", "",
		"working directory for config/data/devices/log (default $DAQ_BASEDIR)")

	root.AddCommand(runCmd(), rampCmd(), serveCmd())

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "labdaq:", err)
		os.Exit(1)
	}
}
