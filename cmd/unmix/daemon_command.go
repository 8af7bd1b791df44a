package main

import (
	"strings"

	"github.com/spf13/cobra"

	"unmix/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "daemon",
		Short:        "Run the unmix daemon (internal)",
		Hidden:       true,
		Annotations:  map[string]string{"skipConfigLoad": "true"},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts := daemonrun.Options{}
			if ctx.socketFlag != nil {
				opts.SocketPath = strings.TrimSpace(*ctx.socketFlag)
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	return cmd
}
