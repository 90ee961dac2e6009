package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rifftools/psarc/pkg/reader"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "list <archive>",
		Short: "List the entries of an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			r, err := reader.Open(args[0], reader.Options{CacheSize: cfg.Read.CacheSize()})
			if err != nil {
				return err
			}
			defer r.Close()

			entries := r.ListEntries()

			if plain {
				for _, entry := range entries {
					if entry.Name != "" {
						fmt.Fprintln(cmd.OutOrStdout(), entry.Name)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "#%d\n", entry.Index)
					}
				}
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				name := entry.Name
				if name == "" {
					name = fmt.Sprintf("#%d (unnamed)", entry.Index)
				}

				stored, err := r.StoredSpan(entry)
				if err != nil {
					return err
				}

				rows = append(rows, []string{
					name,
					strconv.FormatInt(entry.Length, 10),
					strconv.Itoa(r.BlockSpan(entry)),
					strconv.FormatInt(stored, 10),
				})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Name", "Size", "Blocks", "Stored"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "One entry name per line, no table")
	return cmd
}
