package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rifftools/psarc/pkg/mount"
)

func newMountCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <archive> <dir>",
		Short: "Mount an archive read-only at a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			startServer, serverError, server, err := mount.Mount(mount.Options{
				ArchivePath: args[0],
				MountPoint:  args[1],
				CacheSize:   cfg.Read.CacheSize(),
			})
			if err != nil {
				return err
			}

			if err := startServer(); err != nil {
				return err
			}

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-serverError:
				return err
			case <-interrupt:
				log.Info().Msgf("unmounting %s", args[1])
				if err := server.Unmount(); err != nil {
					return err
				}
				return <-serverError
			}
		},
	}

	return cmd
}

func newUmountCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "umount <dir>",
		Short: "Unmount a previously mounted archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			return mount.Unmount(args[0])
		},
	}

	return cmd
}
