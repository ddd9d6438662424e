// Package cmd assembles the twsaudio command line
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/twsaudio/cmd/run"
	"github.com/tphakala/twsaudio/cmd/simulate"
	"github.com/tphakala/twsaudio/internal/buildinfo"
	"github.com/tphakala/twsaudio/internal/conf"
	"github.com/tphakala/twsaudio/internal/logger"
)

// rootFlags are the global flags. They override the loaded settings only
// when given on the command line.
type rootFlags struct {
	configPath string
	debug      bool
	logLevel   string
}

// RootCommand creates and returns the root command. settings is filled
// before any sub-command runs.
func RootCommand(bi *buildinfo.Context, settings *conf.Settings) *cobra.Command {
	flags := &rootFlags{}
	var central *logger.CentralLogger

	rootCmd := &cobra.Command{
		Use:           "twsaudio",
		Short:         "Dual-earbud audio control core",
		Version:       bi.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd, flags)

	rootCmd.AddCommand(
		run.Command(settings, bi),
		simulate.Command(settings),
		versionCommand(bi),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		loaded, err := conf.Load(flags.configPath)
		if err != nil {
			return err
		}
		*settings = *loaded
		applyFlags(cmd, flags, settings)

		central, err = initLogging(settings)
		return err
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if central == nil {
			return nil
		}
		return central.Close()
	}

	return rootCmd
}

func setupFlags(rootCmd *cobra.Command, flags *rootFlags) {
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to config.yaml (default search: ., ~/.config/twsaudio, /etc/twsaudio)")
	rootCmd.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug output and invariant checks")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the default log level")
}

// applyFlags copies explicitly set flags over the loaded settings
func applyFlags(cmd *cobra.Command, flags *rootFlags, settings *conf.Settings) {
	if cmd.Flags().Changed("debug") {
		settings.Debug = flags.debug
	}
	if cmd.Flags().Changed("log-level") {
		settings.Logging.DefaultLevel = flags.logLevel
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = flags.logLevel
		}
	}
	if settings.Debug && !cmd.Flags().Changed("log-level") {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
}

func initLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise logging: %w", err)
	}
	logger.SetGlobal(central)
	return central, nil
}

func versionCommand(bi *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("twsaudio %s (built %s)\n", bi.Version(), bi.BuildDate())
		},
	}
}
