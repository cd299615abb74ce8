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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/intentchat/services/dialogue"
	"github.com/AleutianAI/intentchat/services/orchestrator"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	chatSession  string
	chatLanguage string
)

func runChat(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	reg := prometheus.NewRegistry()
	svc, err := orchestrator.New(ctx, cfg, &orchestrator.Options{
		Logger:     logger.Slog(),
		Registerer: reg,
		Gatherer:   reg,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer svc.Close()

	repl := newChatREPL(svc.Engine(), os.Stdin, os.Stdout, chatSession, chatLanguage)
	return repl.run(ctx)
}

// chatEngine is the part of dialogue.Engine the REPL drives.
type chatEngine interface {
	Process(ctx context.Context, utterance, sessionID, language string) (dialogue.ChatResult, error)
	ResetSession(ctx context.Context, sessionID string) error
	Languages() []string
}

// chatREPL reads one message per line and prints the engine's reply.
//
// # Commands
//
//   - /lang xx: switch language
//   - /reset: forget the session history
//   - exit, quit: leave
type chatREPL struct {
	engine    chatEngine
	in        *bufio.Scanner
	out       io.Writer
	sessionID string
	language  string
}

func newChatREPL(engine chatEngine, in io.Reader, out io.Writer, sessionID, language string) *chatREPL {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &chatREPL{
		engine:    engine,
		in:        bufio.NewScanner(in),
		out:       out,
		sessionID: sessionID,
		language:  language,
	}
}

// run loops until exit, EOF or ctx cancellation.
func (r *chatREPL) run(ctx context.Context) error {
	fmt.Fprintf(r.out, "Session %s (languages: %s). Type \"exit\" to quit.\n",
		r.sessionID, strings.Join(r.engine.Languages(), ", "))
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(r.out, "> ")
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}
		line := strings.TrimSpace(r.in.Text())
		switch {
		case line == "":
			continue
		case isExitCommand(line):
			return nil
		case line == "/reset":
			if err := r.engine.ResetSession(ctx, r.sessionID); err != nil {
				return err
			}
			fmt.Fprintln(r.out, "(history cleared)")
			continue
		case strings.HasPrefix(line, "/lang"):
			r.language = strings.TrimSpace(strings.TrimPrefix(line, "/lang"))
			fmt.Fprintf(r.out, "(language: %s)\n", orDash(r.language))
			continue
		}

		res, err := r.engine.Process(ctx, line, r.sessionID, r.language)
		if err != nil {
			if errors.Is(err, dialogue.ErrEmptyUtterance) {
				continue
			}
			return err
		}
		fmt.Fprintf(r.out, "%s\n  [%s %.2f %s %s]\n", res.Response, res.Intent, res.Confidence, res.Emotion, res.Language)
	}
}

func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
