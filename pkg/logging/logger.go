// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for intentchat processes.
//
// The logger is a thin layer over log/slog with three destinations:
//
//   - Console: stderr by default (or any io.Writer), text or JSON
//   - File: optional daily JSON file under LogDir
//   - Exporter: optional asynchronous LogExporter hook
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "intentchat"})
//	defer logger.Close()
//	logger.Install() // make it the slog default
//	slog.Info("turn processed", "session_id", id, "intent", tag)
//
// Library packages in this module never construct a Logger; they take a
// *slog.Logger (usually slog.Default()) so the process decides destinations.
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Levels
// =============================================================================

// Level is the minimum severity a Logger emits.
type Level int

const (
	// LevelDebug is for development troubleshooting (resolved text, scores).
	LevelDebug Level = iota

	// LevelInfo is for normal operations (startup, reloads, turns).
	LevelInfo

	// LevelWarn is for degraded behaviour (encoder timeout, store failure).
	LevelWarn

	// LevelError is for failed operations.
	LevelError
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a configuration string ("debug", "info", "warn",
// "warning", "error", any case) into a Level.
//
// # Outputs
//
//   - Level: The parsed level, LevelInfo when the input is unrecognised.
//   - error: Non-nil when the input is not empty and unrecognised.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Logger. The zero value logs INFO text to stderr.
type Config struct {
	// Level is the minimum level emitted by every destination.
	Level Level

	// LogDir enables a JSON log file named {service}_{date}.log.
	// Supports ~ expansion. Empty disables file logging.
	LogDir string

	// Service is attached to every record as the "service" attribute.
	Service string

	// JSON switches the console handler from text to JSON.
	JSON bool

	// Quiet disables console output (file and exporter still run).
	Quiet bool

	// Output replaces stderr as the console destination.
	Output io.Writer

	// Exporter receives a copy of every record at or above Level.
	Exporter LogExporter
}

// =============================================================================
// Exporter
// =============================================================================

// LogExporter ships log entries to an external sink.
//
// # Thread Safety
//
// Export is called from background goroutines and must be safe for
// concurrent use.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is the exporter view of one record.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string
	Attrs     map[string]any
}

// =============================================================================
// Logger
// =============================================================================

// Logger writes structured records to the configured destinations.
type Logger struct {
	slog     *slog.Logger
	config   Config
	file     *os.File
	exporter LogExporter
	mu       sync.Mutex
}

// New builds a Logger from config.
//
// # Description
//
// File logging failures (unwritable LogDir) are not fatal: the logger keeps
// its console destination and the problem is reported once on stderr.
//
// # Inputs
//
//   - config: Logger configuration. The zero value is valid.
//
// # Outputs
//
//   - *Logger: Ready-to-use logger. Call Close when done.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	logger := &Logger{config: config, exporter: config.Exporter}

	var handlers []slog.Handler
	if !config.Quiet {
		out := config.Output
		if out == nil {
			out = os.Stderr
		}
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	if config.LogDir != "" {
		file, err := openLogFile(config.LogDir, config.Service)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: file output disabled: %v\n", err)
		} else {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns an INFO text logger for the "intentchat" service.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "intentchat"})
}

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	if service == "" {
		service = "intentchat"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// Install makes this logger the process-wide slog default.
func (l *Logger) Install() {
	slog.SetDefault(l.slog)
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.log(LevelInfo, msg, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.log(LevelWarn, msg, args...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

// With returns a child logger carrying args on every record. The child
// shares the parent's file and exporter; only the parent should be closed.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		config:   l.config,
		file:     l.file,
		exporter: l.exporter,
	}
}

// Slog exposes the underlying *slog.Logger for injection into packages.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes the exporter and closes the log file. Returns the first
// error encountered.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var first error
	keep := func(err error) {
		if first == nil {
			first = err
		}
	}

	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.exporter.Flush(ctx); err != nil {
			keep(fmt.Errorf("flush exporter: %w", err))
		}
		if err := l.exporter.Close(); err != nil {
			keep(fmt.Errorf("close exporter: %w", err))
		}
	}
	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			keep(fmt.Errorf("sync log file: %w", err))
		}
		if err := l.file.Close(); err != nil {
			keep(fmt.Errorf("close log file: %w", err))
		}
		l.file = nil
	}
	return first
}

func (l *Logger) log(level Level, msg string, args ...any) {
	l.slog.Log(context.Background(), level.toSlogLevel(), msg, args...)

	if l.exporter == nil || level < l.config.Level {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Service:   l.config.Service,
		Attrs:     argsToMap(args),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.exporter.Export(ctx, entry)
	}()
}

// =============================================================================
// Multi-destination handler
// =============================================================================

type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// =============================================================================
// Helpers
// =============================================================================

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func argsToMap(args []any) map[string]any {
	result := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			result[key] = args[i+1]
		}
	}
	return result
}

// =============================================================================
// Exporter implementations
// =============================================================================

// NopExporter discards every entry.
type NopExporter struct{}

func (e *NopExporter) Export(context.Context, LogEntry) error { return nil }
func (e *NopExporter) Flush(context.Context) error            { return nil }
func (e *NopExporter) Close() error                           { return nil }

// BufferedExporter keeps entries in memory. Intended for tests.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewBufferedExporter returns an empty BufferedExporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{entries: make([]LogEntry, 0, 32)}
}

func (e *BufferedExporter) Export(_ context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *BufferedExporter) Flush(context.Context) error { return nil }
func (e *BufferedExporter) Close() error                { return nil }

// Entries returns a copy of the exported entries.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LogEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

var (
	_ LogExporter = (*NopExporter)(nil)
	_ LogExporter = (*BufferedExporter)(nil)
)
