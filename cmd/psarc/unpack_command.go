package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rifftools/psarc/pkg/psarc"
)

func newUnpackCommand(ctx *commandContext) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "unpack <archive> [dest]",
		Short: "Extract an archive into a directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}

			archivePath := args[0]

			dest := defaultUnpackDir(archivePath)
			if len(args) > 1 {
				dest = args[1]
			}

			opts := psarc.UnpackOptions{InputFile: archivePath, OutputPath: dest}

			var result *psarc.UnpackResult
			var err error
			if raw {
				result, err = psarc.UnpackRaw(opts)
			} else {
				result, err = psarc.Unpack(opts)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "extracted %d entries (%d audio) to %s\n",
				result.Entries, result.AudioFiles(), dest)
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Ignore the manifest and recover entries under stand-in names")
	return cmd
}

// defaultUnpackDir strips the archive extension to name the output
// directory next to the archive.
func defaultUnpackDir(archivePath string) string {
	base := filepath.Base(archivePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	return filepath.Join(filepath.Dir(archivePath), stem)
}
