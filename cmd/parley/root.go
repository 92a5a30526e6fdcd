package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/pkg/config"
	"github.com/spf13/cobra"
)

// DefaultConfigFile is read from --dir when --config is not given.
const DefaultConfigFile = "parley.yaml"

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley is a turn-based conversational dialog engine",
	Long: `Parley runs rule-driven bots: every inbound turn is recognized, dispatched to a
trigger rule and answered, with prompts that suspend the conversation until the user replies.`,
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
	rootCmd.PersistentFlags().String("dir", ".", "Project directory (relative paths in the config resolve against it)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default <dir>/"+DefaultConfigFile+" when present)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides the config)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log one JSON object per line")
	rootCmd.PersistentFlags().String("store", "", "State store driver: memory, file, sqlite, redis (overrides the config)")
	rootCmd.PersistentFlags().String("dsn", "", "State store location (overrides the config)")
	rootCmd.PersistentFlags().String("dialog", "", "YAML dialog definition (overrides the config)")
}

// setup loads the configuration, applies the flag overrides and builds the logger.
func setup(cmd *cobra.Command) (config.Config, string, *slog.Logger, error) {
	flags := cmd.Flags()
	dir, _ := flags.GetString("dir")
	path, _ := flags.GetString("config")
	if path == "" {
		candidate := filepath.Join(dir, DefaultConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		} else if !errors.Is(err, os.ErrNotExist) {
			return config.Config{}, "", nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, "", nil, err
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := flags.GetString("store"); v != "" {
		cfg.Store.Driver = v
	}
	if v, _ := flags.GetString("dsn"); v != "" {
		cfg.Store.DSN = v
	}
	if v, _ := flags.GetString("dialog"); v != "" {
		cfg.DialogPath = v
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, "", nil, err
	}

	jsonLogs, _ := flags.GetBool("log-json")
	logger, err := cli.NewLogger(cfg.LogLevel, jsonLogs)
	if err != nil {
		return config.Config{}, "", nil, err
	}
	if path != "" {
		logger.Debug("configuration loaded", "path", path)
	}
	return cfg, dir, logger, nil
}
