package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"unmix/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the configured channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Sent {
					fmt.Fprintln(out, "Test notification sent")
					return nil
				}
				if resp.Message != "" {
					fmt.Fprintln(out, resp.Message)
					return nil
				}
				fmt.Fprintln(out, "Notifications are not configured")
				return nil
			})
		},
	}
}
