package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"unmix/internal/api"
	"unmix/internal/daemonctl"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check daemon, stage, and dependency health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			client, err := newJobAPIClient(cfg)
			if err == nil {
				payload, code, healthErr := client.Health(cmd.Context())
				if healthErr == nil {
					if asJSON {
						return writeJSON(out, payload)
					}
					kind := statusOK
					if code >= 400 {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine("Daemon", kind, payload.Status, colorize))
					for _, stg := range payload.Stages {
						stageKind := statusOK
						detail := "ready"
						if !stg.Ready {
							stageKind = statusWarn
							detail = stg.Detail
							if detail == "" {
								detail = "not ready"
							}
						}
						fmt.Fprintln(out, renderStatusLine(formatStatusLabel(stg.Name), stageKind, detail, colorize))
					}
					for _, line := range dependencyLines(payload.Dependencies, summarizeDependencies(payload.Dependencies), colorize) {
						fmt.Fprintln(out, line)
					}
					if healthErr = renderHealthQueue(cmd, payload.Queue); healthErr != nil {
						return healthErr
					}
					return nil
				}
				if !errors.Is(healthErr, errJobAPIUnavailable) {
					return healthErr
				}
			} else if !errors.Is(err, errJobAPIUnavailable) {
				return err
			}

			// Daemon unreachable; run the same dependency probes locally.
			fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "Not running (run `unmix start`)", colorize))
			statuses := daemonctl.ResolveDependencies(cmd.Context(), cfg)
			if asJSON {
				return writeJSON(out, statuses)
			}
			for _, line := range dependencyLines(statuses, summarizeDependencies(statuses), colorize) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the health payload as JSON")
	return cmd
}

func renderHealthQueue(cmd *cobra.Command, stats map[string]int) error {
	rows := buildQueueStatusRows(stats)
	if len(rows) == 0 {
		return nil
	}
	table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
	fmt.Fprint(cmd.OutOrStdout(), table)
	return nil
}

func summarizeDependencies(statuses []api.DependencyStatus) api.DependencySummary {
	return daemonctl.BuildDependencySummary(statuses)
}
