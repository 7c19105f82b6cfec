// Package cmd implements mediacored's CLI commands, layered with cobra
// + viper to bind global flags into config keys.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mediacore/mediacore/internal/config"
	"github.com/mediacore/mediacore/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "mediacored",
	Short:   "HLS and MPEG-TS streaming daemon",
	Version: version.Short(),
	Long: `mediacored runs the HLS Segment Orchestrator (HSO) and the MPEG-TS
Demultiplexer & Indexer (TSD) as a daemon, exposing health, metrics, and
a live-stream registry over HTTP.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./mediacored.yaml, /etc/mediacored)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")

	mustBindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/mediacored")
		viper.SetConfigType("yaml")
		viper.SetConfigName("mediacored")
	}

	viper.SetEnvPrefix("MEDIACORED")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	_ = viper.ReadInConfig() // absence of a config file is not an error
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
