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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/intentchat/services/dialogue/store"
	"github.com/spf13/cobra"
)

var statsServer string

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(commandContext(cmd), 30*time.Second)
	defer cancel()

	var (
		st  store.Stats
		err error
	)
	if statsServer != "" {
		st, err = fetchStats(ctx, http.DefaultClient, statsServer)
	} else {
		st, err = localStats(ctx, cfg.Store, logger.Slog())
	}
	if err != nil {
		return err
	}
	printStats(cmd.OutOrStdout(), st)
	return nil
}

// localStats opens the configured store read-side. Badger holds an exclusive
// lock, so use --server while intentchat serve is running.
func localStats(ctx context.Context, sc store.Config, log *slog.Logger) (store.Stats, error) {
	if sc.Backend == "" || sc.Backend == store.BackendNone {
		return store.Stats{}, fmt.Errorf("no conversation store configured (set store.backend or use --server)")
	}
	st, err := store.Open(sc, log)
	if err != nil {
		return store.Stats{}, err
	}
	defer st.Close()
	return st.Stats(ctx)
}

func fetchStats(ctx context.Context, client *http.Client, baseURL string) (store.Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/v1/stats", nil)
	if err != nil {
		return store.Stats{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return store.Stats{}, fmt.Errorf("request stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return store.Stats{}, fmt.Errorf("stats request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var st store.Stats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return store.Stats{}, fmt.Errorf("decode stats: %w", err)
	}
	return st, nil
}

func printStats(out io.Writer, st store.Stats) {
	fmt.Fprintf(out, "Conversations:  %d\n", st.TotalConversations)
	fmt.Fprintf(out, "Avg confidence: %.2f\n", st.AvgConfidence)
	fmt.Fprintf(out, "Rated:          %d (avg %.2f)\n", st.RatedConversations, st.AvgRating)
	if len(st.TopIntents) > 0 {
		fmt.Fprintln(out, "Top intents:")
		for _, ic := range st.TopIntents {
			fmt.Fprintf(out, "  %-20s %d\n", ic.Intent, ic.Count)
		}
	}
}
