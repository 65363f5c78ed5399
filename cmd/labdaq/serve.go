// Copyright (c) 2025–2026 The labdaq developers. All rights reserved.
// Project site: https://github.com/gotmc/labdaq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"os"

	"github.com/gotmc/labdaq/lib/config"
	"github.com/gotmc/labdaq/lib/logging"
	"github.com/gotmc/labdaq/lib/web"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dirs, err := config.ResolveDirs(flagBaseDir)
			if err != nil {
				return err
			}
			if err := dirs.Ensure(); err != nil {
				return err
			}
			log, err := logging.New(flagVerbose, "")
			if err != nil {
				return err
			}
			defer log.Sync()

			// Run and ramp children are spawned from this same binary.
			bin, err := os.Executable()
			if err != nil {
				return err
			}
			s := web.New(web.Config{
				Addr:   addr,
				Dirs:   dirs,
				Binary: bin,
				Log:    log,
			})
			return s.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8050", "listen address")
	return cmd
}
