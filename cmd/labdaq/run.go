// Copyright (c) 2025–2026 The labdaq developers. All rights reserved.
// Project site: https://github.com/gotmc/labdaq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gotmc/labdaq"
	"github.com/gotmc/labdaq/lib/config"
	"github.com/gotmc/labdaq/lib/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runCmd() *cobra.Command {
	var (
		cfgFile string
		name    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an acquisition session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if name != "" {
				cfg.Name = name
			}
			dirs, err := config.ResolveDirs(flagBaseDir)
			if err != nil {
				return err
			}
			if err := dirs.Ensure(); err != nil {
				return err
			}

			logFile := logging.FileName(dirs.Log, cfg.Name, time.Now())
			log, err := logging.New(flagVerbose, logFile)
			if err != nil {
				return err
			}
			defer log.Sync()
			log = log.With(zap.String("run_id", uuid.NewString()))

			sess, err := labdaq.NewSession(cfg, dirs, labdaq.WithLogger(log))
			if err != nil {
				return err
			}
			defer sess.Close()

			log.Info("acquisition starting",
				zap.String("config", cfgFile),
				zap.String("data_file", sess.DataFile()),
			)
			return sess.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "configuration file (YAML)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "override the run name from the configuration")
	return cmd
}
