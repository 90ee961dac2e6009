package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rifftools/psarc/pkg/psarc"
)

// commandContext carries the loaded configuration into subcommands.
type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	config Config
	loaded bool
}

func (ctx *commandContext) ensureConfig() (Config, error) {
	if ctx.loaded {
		return ctx.config, nil
	}

	cfg, err := loadConfig(*ctx.configFlag)
	if err != nil {
		return cfg, err
	}

	if *ctx.logLevelFlag != "" {
		cfg.Log.Level = *ctx.logLevelFlag
	}

	if err := setupLogging(cfg.Log); err != nil {
		return cfg, err
	}

	ctx.config = cfg
	ctx.loaded = true
	return cfg, nil
}

func setupLogging(cfg LogConfig) error {
	console := cfg.Format == "console"
	if cfg.Format == "" || cfg.Format == "auto" {
		fd := os.Stderr.Fd()
		console = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	return psarc.SetLogLevel(level)
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var logLevelFlag string

	ctx := &commandContext{configFlag: &configFlag, logLevelFlag: &logLevelFlag}

	rootCmd := &cobra.Command{
		Use:           "psarc",
		Short:         "Read, extract and build PSARC song archives",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error, disabled)")

	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newInfoCommand(ctx))
	rootCmd.AddCommand(newUnpackCommand(ctx))
	rootCmd.AddCommand(newPackCommand(ctx))
	rootCmd.AddCommand(newBatchCommand(ctx))
	rootCmd.AddCommand(newMountCommand(ctx))
	rootCmd.AddCommand(newUmountCommand(ctx))

	return rootCmd
}

func archiveOutputName(input string) string {
	return fmt.Sprintf("%s.psarc", input)
}
