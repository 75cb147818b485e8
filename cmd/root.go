package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gruntwork-io/go-commons/errors"
	"github.com/robmorgan/halodeck/config"
	"github.com/robmorgan/halodeck/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	configFile   string
	verbose      bool
	logLevel     string
	outputFormat string

	// cfg is loaded before any subcommand runs
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "halodeck",
	Short: "Two deck player with automatic bpm detection",
	Long: `halodeck plays two tracks side by side and keeps their tempos in sync.

The tempo of every track is estimated from a short window in the middle of it.
Decks can be synced, sped up or slowed down and crossfaded, from the command
line or from an OSC control surface.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := bindFlags(cmd); err != nil {
			return errors.WithStackTrace(err)
		}
		return initializeConfig()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if verbose || (cfg != nil && cfg.Verbose) {
			fmt.Fprintln(os.Stderr, errors.PrintErrorWithStackTrace(err))
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is $HOME/.config/halodeck/halodeck.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output, debug logs and stack traces")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table",
		"output format (table, json, yaml)")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("output_format", rootCmd.PersistentFlags().Lookup("output"))

	rootCmd.AddCommand(detectCmd, mixCmd)
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "halodeck"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("halodeck")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper())
}

// initializeConfig reads the config file, decodes the configuration and applies the log level
func initializeConfig() error {
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); configFile != "" || !notFound {
			return errors.WithStackTrace(fmt.Errorf("could not read config: %w", err))
		}
	}

	loaded, err := config.Load(viper.GetViper())
	if err != nil {
		return errors.WithStackTrace(err)
	}
	cfg = loaded

	level := cfg.LogLevel
	if cfg.Verbose {
		level = "debug"
	}
	if err := logger.SetLevel(level); err != nil {
		return errors.WithStackTrace(err)
	}

	if used := viper.ConfigFileUsed(); used != "" {
		logger.GetProjectLogger().Debugf("Using config file: %s", used)
	}
	return nil
}

// bindFlags lets every flag of cmd be set from an environment variable, e.g. --jobs from HALODECK_JOBS
func bindFlags(cmd *cobra.Command) error {
	var lastErr error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		envVar := config.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))

		// the command line wins over the environment
		if val, ok := os.LookupEnv(envVar); ok && !f.Changed {
			if err := cmd.Flags().Set(f.Name, val); err != nil {
				lastErr = fmt.Errorf("invalid value for %s: %w", envVar, err)
			}
		}
	})

	return lastErr
}
