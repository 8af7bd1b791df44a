package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"unmix/internal/api"
)

// newJobStatusCommand groups per-job operations that go over the HTTP job
// API, mirroring what remote clients can do.
func newJobStatusCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and cancel jobs by UUID",
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status <uuid>",
		Short: "Show the status envelope for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newJobAPIClient(cfg)
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			renderJobEnvelope(cmd.OutOrStdout(), status)
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit the raw status envelope as JSON")

	cancelCmd := &cobra.Command{
		Use:   "cancel <uuid>",
		Short: "Request cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newJobAPIClient(cfg)
			if err != nil {
				return err
			}
			status, err := client.Cancel(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s is now %s\n", status.ID, status.Status)
			return nil
		},
	}

	jobCmd.AddCommand(statusCmd)
	jobCmd.AddCommand(cancelCmd)
	return jobCmd
}

func renderJobEnvelope(out io.Writer, status api.JobStatus) {
	fmt.Fprintf(out, "%-14s %s\n", "ID:", status.ID)
	fmt.Fprintf(out, "%-14s %s\n", "Status:", status.Status)
	if status.DelayTime > 0 {
		fmt.Fprintf(out, "%-14s %dms\n", "Queue delay:", status.DelayTime)
	}
	if status.ExecutionTime > 0 {
		fmt.Fprintf(out, "%-14s %dms\n", "Execution:", status.ExecutionTime)
	}
	if status.Error != "" {
		fmt.Fprintf(out, "%-14s %s\n", "Error:", status.Error)
	}
	if result, ok := decodeSeparationResult(status.Output); ok {
		if result.ModelUsed != "" {
			fmt.Fprintf(out, "%-14s %s\n", "Model:", result.ModelUsed)
		}
		for _, stem := range sortedKeys(result.OutputURLs) {
			fmt.Fprintf(out, "  %s: %s\n", stemDisplayName(stem), result.OutputURLs[stem])
		}
		if n := len(result.OutputFiles); n > 0 {
			fmt.Fprintf(out, "%-14s %d base64 stems (use --json to inspect)\n", "Outputs:", n)
		}
	}
}
