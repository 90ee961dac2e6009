package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rifftools/psarc/pkg/psarc"
)

func newPackCommand(ctx *commandContext) *cobra.Command {
	var blockSize uint32
	var plainTOC bool
	var seal bool

	cmd := &cobra.Command{
		Use:   "pack <dir> [archive]",
		Short: "Build an archive from a directory tree",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			sourceDir := strings.TrimRight(args[0], "/")

			output := archiveOutputName(sourceDir)
			if len(args) > 1 {
				output = args[1]
			}

			opts := psarc.PackOptions{
				InputPath:  sourceDir,
				OutputPath: output,
				BlockSize:  cfg.Pack.BlockSize,
				PlainTOC:   cfg.Pack.PlainTOC,
				Seal:       cfg.Pack.Seal,
			}
			if cmd.Flags().Changed("block-size") {
				opts.BlockSize = blockSize
			}
			if cmd.Flags().Changed("plain-toc") {
				opts.PlainTOC = plainTOC
			}
			if cmd.Flags().Changed("seal") {
				opts.Seal = seal
			}

			return psarc.Pack(opts)
		},
	}

	cmd.Flags().Uint32Var(&blockSize, "block-size", 0, "Override the 64 KiB block size")
	cmd.Flags().BoolVar(&plainTOC, "plain-toc", false, "Leave the table of contents unencrypted")
	cmd.Flags().BoolVar(&seal, "seal", false, "Encrypt the finished archive end to end")
	return cmd
}
