package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rifftools/psarc/pkg/batch"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var workers int
	var force bool
	var raw bool
	var outputRoot string

	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Extract every archive under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			archives, err := batch.CollectArchives(args[0])
			if err != nil {
				return err
			}
			if len(archives) == 0 {
				return fmt.Errorf("no .psarc files under %s", args[0])
			}

			root := outputRoot
			if root == "" {
				root = args[0]
			}

			opts := batch.Options{
				Workers:      cfg.Batch.Workers,
				OutputRoot:   root,
				SkipExisting: cfg.Batch.SkipExisting && !force,
				Raw:          raw,
			}
			if cmd.Flags().Changed("workers") {
				opts.Workers = workers
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			results, err := batch.Process(runCtx, archives, opts, nil)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(results))
			for _, result := range results {
				status := "ok"
				switch {
				case result.Err != nil:
					status = fmt.Sprintf("failed: %v", result.Err)
				case result.Skipped:
					status = "skipped"
				}
				rows = append(rows, []string{result.ArchivePath, result.OutputPath, status})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Archive", "Output", "Status"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft},
			))

			if failed := batch.Failed(results); failed > 0 {
				return fmt.Errorf("%d of %d archives failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent extractions (default from config)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-extract archives whose output already exists")
	cmd.Flags().BoolVar(&raw, "raw", false, "Recover entries under stand-in names")
	cmd.Flags().StringVarP(&outputRoot, "output", "o", "", "Directory receiving one subdirectory per archive")
	return cmd
}
