package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/parley/internal/config"
	"github.com/aretw0/parley/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley is a conversational flow engine for messaging channels",
	Long: `Parley runs menu, form and condition flows over WhatsApp-style conversations.
Flows are read from YAML, Loam, SQLite or Postgres; sessions live in memory, files or Redis.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a parley.yaml configuration file")
	rootCmd.PersistentFlags().String("flows", "", "Override flows.path (directory for yaml/loam, file for sqlite)")
	rootCmd.PersistentFlags().String("source", "", "Override flows.source (memory, yaml, loam, sqlite, postgres)")
	rootCmd.PersistentFlags().String("log-level", "", "Override log.level (debug, info, warn, error)")
}

// loadConfig reads the configuration and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("flows"); v != "" {
		cfg.Flows.Path = v
	}
	if v, _ := cmd.Flags().GetString("source"); v != "" {
		cfg.Flows.Source = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
}
