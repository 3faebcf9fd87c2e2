// Package cmd provides the tagserve command-line interface.
//
// Configuration sources, highest priority first:
//
//  1. Command-line flags (--config, --port, ...)
//  2. TAGSERVE_CONFIG_FILE: path to a configuration file
//  3. TAGSERVE_<SECTION>_<OPTION> environment variables
//  4. .tagserve.yml in the working directory
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tagserve",
	Short: "Server-side rendering of compiled tags",
	Long: `tagserve compiles tag source files into renderable units, replays
actions against a fresh state store for every request and serves complete
HTML pages with fingerprinted asset links and a client bootstrap payload.

Quick Start:
  tagserve new todo-list          Scaffold a tag
  tagserve list                   List compiled tags
  tagserve render todo-list       Render one page to stdout
  tagserve serve                  Start the server with hot reload`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .tagserve.yml, can also use TAGSERVE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("tags", "tags/**/*.tag", "tag source pattern")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
		"tags":       "tags.pattern",
	})
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("TAGSERVE_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tagserve")
	}

	// TAGSERVE_SERVER_PORT, TAGSERVE_DEVELOPMENT_HOT_RELOAD, ...
	viper.SetEnvPrefix("TAGSERVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
