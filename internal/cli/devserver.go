// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/companion/internal/config"
	"github.com/jeranaias/companion/internal/devserver"
	"github.com/jeranaias/companion/internal/logging"
)

const devServerDBName = "devserver.db"

type devServerFlags struct {
	addr      string
	db        string
	coldStart int
}

func newDevServerCommand(flags *globalFlags) *cobra.Command {
	df := &devServerFlags{coldStart: -1}
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run the local reference backend",
		Long: `Run a local backend that streams scripted answers word by word, stores
threads in sqlite and synthesizes tone clips for voice playback.`,
		Example: `  $ companion devserver
  $ companion devserver --addr 127.0.0.1:9000 --cold-start 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(flags)
			if err != nil {
				return err
			}
			dc := cfg.DevServer
			if df.addr != "" {
				dc.ListenAddr = df.addr
			}
			if df.db != "" {
				dc.DBPath = df.db
			}
			if df.coldStart >= 0 {
				dc.ColdStartFailures = df.coldStart
			}
			if dc.DBPath == "" {
				if err := config.EnsureConfigDir(); err != nil {
					return err
				}
				dir, err := config.ConfigDir()
				if err != nil {
					return err
				}
				dc.DBPath = filepath.Join(dir, devServerDBName)
			}

			logger, closer, err := logging.New(logging.Options{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				File:   cfg.Log.File,
			}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			store, err := devserver.OpenStore(ctx, dc.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			wordDelay := time.Duration(dc.WordDelayMs) * time.Millisecond
			if wordDelay == 0 {
				wordDelay = -1
			}
			srv := devserver.New(store, devserver.Options{
				ColdStartFailures: dc.ColdStartFailures,
				WordDelay:         wordDelay,
				Visualize:         dc.Visualize,
				Logger:            logger,
			})
			logger.Info("devserver starting", "addr", dc.ListenAddr, "db", dc.DBPath)
			return srv.ListenAndServe(ctx, dc.ListenAddr)
		},
	}
	cmd.Flags().StringVar(&df.addr, "addr", "", "listen address (default devserver.listen_addr)")
	cmd.Flags().StringVar(&df.db, "db", "", "sqlite database path")
	cmd.Flags().IntVar(&df.coldStart, "cold-start", -1, "chat requests to fail with 503 before answering")
	return cmd
}
