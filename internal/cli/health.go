// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type healthReport struct {
	URL       string `json:"url"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

func newHealthCommand(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "health",
		Aliases: []string{"status"},
		Short:   "Check that the backend is reachable",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, path, appOptions{stderr: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			start := time.Now()
			probeErr := a.gateway.Health(cmd.Context())
			report := healthReport{
				URL:       cfg.HealthURL(),
				Healthy:   probeErr == nil,
				LatencyMs: time.Since(start).Milliseconds(),
			}
			if probeErr != nil {
				report.Error = probeErr.Error()
			}

			out := cmd.OutOrStdout()
			if asJSON {
				resp := NewJSONResponse("health", report)
				if probeErr != nil {
					resp = NewJSONErrorResponse("health", probeErr)
					resp.Data = report
				}
				if err := resp.Write(out); err != nil {
					return err
				}
				return probeErr
			}

			fmt.Fprintln(out, TitleStyle.Render("Backend"))
			fmt.Fprintln(out, field("URL", report.URL))
			if probeErr != nil {
				fmt.Fprintln(out, field("Status", ErrorStyle.Render("unreachable")))
				return probeErr
			}
			fmt.Fprintln(out, field("Status", SuccessStyle.Render("ok")))
			fmt.Fprintln(out, field("Latency", fmt.Sprintf("%dms", report.LatencyMs)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
