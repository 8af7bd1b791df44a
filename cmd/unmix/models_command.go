package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"unmix/internal/ipc"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and manage separation models",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available models and their cache state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ModelList()
				if err != nil {
					return err
				}
				if len(resp.Models) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No models available")
					return nil
				}

				rows := make([][]string, 0, len(resp.Models))
				for _, model := range resp.Models {
					stems := make([]string, 0, len(model.Stems))
					for _, stem := range model.Stems {
						stems = append(stems, stemDisplayName(stem))
					}
					size := ""
					if model.SizeBytes > 0 {
						size = humanize.Bytes(uint64(model.SizeBytes))
					}
					rows = append(rows, []string{
						model.Filename,
						model.Name,
						model.Architecture,
						strings.Join(stems, ", "),
						size,
						yesNo(model.Cached),
					})
				}

				table := renderTable(
					[]string{"Filename", "Name", "Architecture", "Stems", "Size", "Cached"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	pullCmd := &cobra.Command{
		Use:   "pull [filename...]",
		Short: "Download models into the local cache",
		Long:  "Download the named models into the local cache. With no arguments the configured preload set is fetched.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ModelEnsure(args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Ensured %d models in cache\n", len(resp.Ensured))
				return nil
			})
		},
	}

	modelsCmd.AddCommand(listCmd)
	modelsCmd.AddCommand(pullCmd)
	return modelsCmd
}
