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
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/intentchat/services/orchestrator"
	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting intentchat",
		"port", cfg.Server.Port,
		"encoder", cfg.Encoder.Provider,
		"history_backend", cfg.History.Backend,
		"store_backend", cfg.Store.Backend,
		"taxonomy", taxonomyLabel(cfg.Taxonomy.Path))

	svc, err := orchestrator.New(ctx, cfg, &orchestrator.Options{Logger: logger.Slog()})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("Shutdown incomplete", "error", err)
		}
	}()

	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func taxonomyLabel(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}

// commandContext returns cmd's context, or Background when run outside
// Execute (tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
