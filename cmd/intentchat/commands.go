// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/AleutianAI/intentchat/pkg/logging"
	"github.com/AleutianAI/intentchat/services/orchestrator/config"
	"github.com/lpernett/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
	logLevel   string

	// cfg and logger are set by the root PersistentPreRunE.
	cfg    config.Config
	logger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "intentchat",
		Short: "An intent-based customer support dialogue engine",
		Long: `intentchat matches user messages against a taxonomy of intents with
sentence embeddings, tracks a short per-session history, and answers in
the user's language with an emotion-aware phrasing.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- Interactive ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Chat with a local engine on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE:  runChat, // Defined in cmd_chat.go
	}

	// --- Taxonomy ---
	taxonomyCmd = &cobra.Command{
		Use:   "taxonomy",
		Short: "Inspect intent taxonomies",
	}
	taxonomyValidateCmd = &cobra.Command{
		Use:   "validate [file]",
		Short: "Parse and validate a taxonomy file",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaxonomyValidate, // Defined in cmd_taxonomy.go
	}

	// --- Stats ---
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print conversation statistics",
		Args:  cobra.NoArgs,
		RunE:  runStats, // Defined in cmd_stats.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML or JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "session id (default: a new one)")
	chatCmd.Flags().StringVarP(&chatLanguage, "lang", "l", "", "language of the conversation (default: the configured default)")

	statsCmd.Flags().StringVar(&statsServer, "server", "", "read stats from a running server (e.g. http://localhost:12210)")

	taxonomyCmd.AddCommand(taxonomyValidateCmd)
	rootCmd.AddCommand(serveCmd, chatCmd, taxonomyCmd, statsCmd)
}

// loadConfig loads .env, then the configuration, then installs the logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	lc := cfg.LoggerConfig()
	if cmd == chatCmd {
		// Keep the REPL readable; warnings still reach stderr.
		lc.Level = max(lc.Level, logging.LevelWarn)
	}
	logger = logging.New(lc)
	logger.Install()
	slog.Debug("Configuration loaded", "config", configPath)
	return nil
}
